package database

import (
	"database/sql"
)

type PgCanvasRepository struct {
	conn *sql.DB
}

func NewPgCanvasRepository(dsn string) (*PgCanvasRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgCanvasRepository{conn: db}, nil
}

func (db *PgCanvasRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgCanvasRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
