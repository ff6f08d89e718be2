package database

type CanvasRepository interface {
	Ping() error
	CreateMessage(params CreateMessageParams) (Message, error)
	DeleteMessages(roomId int64, userId, message string) (int64, error)
}
