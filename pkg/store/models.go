package store

import "time"

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	Name         string `gorm:"not null"`
	Mobile       string
	PasswordHash string    `gorm:"not null"`
	Role         string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	LastLogin    time.Time `gorm:"not null"`
}

type ChapterModel struct {
	ID         string    `gorm:"primaryKey"`
	Title      string    `gorm:"not null"`
	Content    string    `gorm:"type:text;not null"`
	UploadedBy string    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null;index"`
	UpdatedAt  time.Time `gorm:"not null"`
}

// LikeModel is one member of a chapter's like-set.
type LikeModel struct {
	ChapterID string    `gorm:"primaryKey"`
	UserEmail string    `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
}

type ReviewModel struct {
	ID        string    `gorm:"primaryKey"`
	ChapterID string    `gorm:"not null;index:idx_review_chapter_time,priority:1"`
	Author    string    `gorm:"not null"`
	Text      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;index:idx_review_chapter_time,priority:2"`
}
