package database

import (
	"database/sql"
	"time"
)

func (db *PgCanvasRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	displayName := sql.NullString{
		String: params.DisplayName,
		Valid:  params.DisplayName != "",
	}

	res := db.conn.QueryRow(
		"INSERT INTO chats (room_id, user_id, message, display_name, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, room_id, user_id, message, display_name, created_at",
		params.RoomId,
		params.UserId,
		params.Message,
		displayName,
		time.Now().UTC(),
	)

	var m Message
	err := res.Scan(
		&m.Id,
		&m.RoomId,
		&m.UserId,
		&m.Message,
		&m.DisplayName,
		&m.CreatedAt,
	)

	return m, err
}

// DeleteMessages removes every record matching the (room, user, message)
// triple exactly. Duplicate messages with identical text are all removed;
// there is deliberately no message-id scheme here.
func (db *PgCanvasRepository) DeleteMessages(roomId int64, userId, message string) (int64, error) {
	res, err := db.conn.Exec(
		"DELETE FROM chats WHERE room_id = $1 AND user_id = $2 AND message = $3",
		roomId,
		userId,
		message,
	)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}
