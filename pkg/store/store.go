package store

import (
	"errors"
	"time"

	"horizon/pkg/domain"
)

var (
	// ErrNotFound is returned when a keyed record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a unique key is already taken.
	ErrConflict = errors.New("record already exists")
)

// Store defines persistence operations for users, chapters, likes, and reviews.
// Implementations must make each method atomic on its own.
type Store interface {
	// users
	CreateUser(domain.User) error
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	SetLastLogin(id string, at time.Time) error
	SetUserRole(id string, role domain.UserRole) error
	ListUsers() ([]domain.User, error)

	// chapters
	CreateChapter(domain.Chapter) error
	UpsertChapter(domain.Chapter) (bool, error)
	UpdateChapter(id, title, content string, at time.Time) (domain.Chapter, error)
	GetChapter(id string) (domain.Chapter, bool, error)
	ListChapters() ([]domain.Chapter, error)
	// DeleteChapter removes the chapter together with its likes and reviews.
	DeleteChapter(id string) error

	// engagement
	AddLike(chapterID, user string) error
	HasLiked(chapterID, user string) (bool, error)
	CountLikes(chapterID string) (int, error)
	ListLikers(chapterID string) ([]string, error)
	AddReview(domain.Review) error
	ListReviews(chapterID string) ([]domain.Review, error)
	DeleteAllForChapter(chapterID string) error
	DeleteOrphanEngagement() (int, error)
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
