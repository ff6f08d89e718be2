package database

import (
	"github.com/stretchr/testify/mock"
)

type MockCanvasRepository struct {
	mock.Mock
}

func (m *MockCanvasRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockCanvasRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}

func (m *MockCanvasRepository) DeleteMessages(roomId int64, userId, message string) (int64, error) {
	args := m.Called(roomId, userId, message)
	return args.Get(0).(int64), args.Error(1)
}
