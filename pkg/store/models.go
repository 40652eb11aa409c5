package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	Username     string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

type BookModel struct {
	ID       int64  `gorm:"primaryKey;autoIncrement"`
	Title    string `gorm:"not null;index"`
	Author   string `gorm:"not null;index"`
	ImageURL string
	Holders  datatypes.JSON
	IsFree   bool `gorm:"not null"`
}

type RequestModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	UserID    int64     `gorm:"not null;index"`
	BookID    int64     `gorm:"not null;index"`
	State     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

type ReturnModel struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	RequestID  int64     `gorm:"not null;index"`
	UserID     int64     `gorm:"not null"`
	BookID     int64     `gorm:"not null;index"`
	IsReturned bool      `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

// requestRow is a request joined with its book title.
type requestRow struct {
	ID        int64
	UserID    int64
	BookID    int64
	State     string
	BookTitle string
	CreatedAt time.Time
	UpdatedAt time.Time
}
