package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// Uploader stores a raw payload on the external media host and returns a
// durable URL for it.
type Uploader interface {
	Upload(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// ParseDataURL decodes a base64 data URL ("data:image/png;base64,....") into
// its content type and raw bytes.
func ParseDataURL(src string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(src, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data URL")
	}

	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data URL")
	}

	contentType, encoding, ok := strings.Cut(meta, ";")
	if !ok || encoding != "base64" {
		return "", nil, fmt.Errorf("unsupported data URL encoding")
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data URL payload: %w", err)
	}

	return contentType, data, nil
}
