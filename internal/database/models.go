package database

import (
	"database/sql"
	"time"
)

type Message struct {
	Id          int64
	RoomId      int64
	UserId      string
	Message     string
	DisplayName sql.NullString
	CreatedAt   time.Time
}

type CreateMessageParams struct {
	RoomId      int64
	UserId      string
	Message     string
	DisplayName string
}
