package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"horizon/pkg/domain"
)

const migrateLockID int64 = 48151623

// GormStore implements Store using GORM on Postgres or SQLite.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
// DSNs prefixed with "sqlite:" (or "file:") select SQLite; anything else is
// handed to the Postgres driver.
func NewGormStore(dsn string) (*GormStore, error) {
	dialector, isPostgres := openDialector(dsn)
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &ChapterModel{}, &LikeModel{}, &ReviewModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if isPostgres {
		err = withMigrationLock(db, migrate)
	} else {
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
		sqlDB, dbErr := db.DB()
		if dbErr != nil {
			return nil, fmt.Errorf("get sql db: %w", dbErr)
		}
		sqlDB.SetMaxOpenConns(1)
		err = migrate(db)
	}
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func openDialector(dsn string) (gorm.Dialector, bool) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(dsn, "sqlite:"):
		return sqlite.Open(strings.TrimPrefix(dsn, "sqlite:")), false
	case strings.HasPrefix(dsn, "file:"):
		return sqlite.Open(dsn), false
	default:
		return postgres.Open(dsn), true
	}
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateUser inserts a user; the unique email index rejects duplicates.
func (s *GormStore) CreateUser(u domain.User) error {
	model := userToModel(u)
	if err := s.db.Create(&model).Error; err != nil {
		return translate(err)
	}
	return nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SetLastLogin records a successful authentication.
func (s *GormStore) SetLastLogin(id string, at time.Time) error {
	return s.updateUser(id, "last_login", at)
}

// SetUserRole changes a user's role.
func (s *GormStore) SetUserRole(id string, role domain.UserRole) error {
	return s.updateUser(id, "role", string(role))
}

func (s *GormStore) updateUser(id, column string, value any) error {
	res := s.db.Model(&UserModel{}).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsers returns all users ordered by created_at.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("created_at ASC").Order("email ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// CreateChapter inserts a chapter; the primary key rejects duplicate IDs.
func (s *GormStore) CreateChapter(c domain.Chapter) error {
	model := chapterToModel(c)
	if err := s.db.Create(&model).Error; err != nil {
		return translate(err)
	}
	return nil
}

// UpsertChapter creates the chapter or overwrites its mutable fields.
func (s *GormStore) UpsertChapter(c domain.Chapter) (bool, error) {
	var created bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&ChapterModel{}).Where("id = ?", c.ID).Count(&count).Error; err != nil {
			return err
		}
		created = count == 0
		model := chapterToModel(c)
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "content", "uploaded_by", "updated_at"}),
		}).Create(&model).Error
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// UpdateChapter edits title and content in place.
func (s *GormStore) UpdateChapter(id, title, content string, at time.Time) (domain.Chapter, error) {
	var model ChapterModel
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			return err
		}
		model.Title = title
		model.Content = content
		model.UpdatedAt = at
		return tx.Model(&ChapterModel{}).Where("id = ?", id).Updates(map[string]any{
			"title":      title,
			"content":    content,
			"updated_at": at,
		}).Error
	})
	if err != nil {
		return domain.Chapter{}, translate(err)
	}
	return chapterFromModel(model), nil
}

// GetChapter retrieves a chapter.
func (s *GormStore) GetChapter(id string) (domain.Chapter, bool, error) {
	var model ChapterModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Chapter{}, false, nil
		}
		return domain.Chapter{}, false, err
	}
	return chapterFromModel(model), true, nil
}

// ListChapters returns all chapters ordered by created_at, then id.
func (s *GormStore) ListChapters() ([]domain.Chapter, error) {
	var models []ChapterModel
	if err := s.db.Order("created_at ASC").Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Chapter, 0, len(models))
	for _, m := range models {
		res = append(res, chapterFromModel(m))
	}
	return res, nil
}

// DeleteChapter removes reviews, likes and the chapter in one transaction.
func (s *GormStore) DeleteChapter(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := deleteEngagement(tx, id); err != nil {
			return err
		}
		res := tx.Delete(&ChapterModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// AddLike inserts (chapter, user) unless present. The chapter must exist.
func (s *GormStore) AddLike(chapterID, user string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := requireChapter(tx, chapterID); err != nil {
			return err
		}
		like := LikeModel{ChapterID: chapterID, UserEmail: user, CreatedAt: time.Now().UTC()}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&like).Error
	})
}

// HasLiked reports whether user is in the chapter's like-set.
func (s *GormStore) HasLiked(chapterID, user string) (bool, error) {
	var count int64
	if err := s.db.Model(&LikeModel{}).
		Where("chapter_id = ? AND user_email = ?", chapterID, user).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// CountLikes returns the size of the chapter's like-set.
func (s *GormStore) CountLikes(chapterID string) (int, error) {
	var count int64
	if err := s.db.Model(&LikeModel{}).Where("chapter_id = ?", chapterID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// ListLikers returns the like-set sorted by identity.
func (s *GormStore) ListLikers(chapterID string) ([]string, error) {
	users := []string{}
	if err := s.db.Model(&LikeModel{}).
		Where("chapter_id = ?", chapterID).
		Order("user_email ASC").
		Pluck("user_email", &users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// AddReview appends a review to an existing chapter.
func (s *GormStore) AddReview(r domain.Review) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := requireChapter(tx, r.ChapterID); err != nil {
			return err
		}
		model := reviewToModel(r)
		return tx.Create(&model).Error
	})
}

// ListReviews returns a chapter's reviews newest first.
func (s *GormStore) ListReviews(chapterID string) ([]domain.Review, error) {
	var models []ReviewModel
	if err := s.db.Where("chapter_id = ?", chapterID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Review, 0, len(models))
	for _, m := range models {
		res = append(res, reviewFromModel(m))
	}
	return res, nil
}

// DeleteAllForChapter drops the chapter's like-set and reviews.
func (s *GormStore) DeleteAllForChapter(chapterID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return deleteEngagement(tx, chapterID)
	})
}

// DeleteOrphanEngagement removes likes and reviews whose chapter is gone.
func (s *GormStore) DeleteOrphanEngagement() (int, error) {
	var removed int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("chapter_id NOT IN (?)", chapterIDs(tx)).Delete(&ReviewModel{})
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected
		res = tx.Where("chapter_id NOT IN (?)", chapterIDs(tx)).Delete(&LikeModel{})
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}

func chapterIDs(tx *gorm.DB) *gorm.DB {
	return tx.Session(&gorm.Session{NewDB: true}).Model(&ChapterModel{}).Select("id")
}

func deleteEngagement(tx *gorm.DB, chapterID string) error {
	if err := tx.Delete(&ReviewModel{}, "chapter_id = ?", chapterID).Error; err != nil {
		return err
	}
	return tx.Delete(&LikeModel{}, "chapter_id = ?", chapterID).Error
}

func requireChapter(tx *gorm.DB, chapterID string) error {
	var count int64
	if err := tx.Model(&ChapterModel{}).Where("id = ?", chapterID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrConflict
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	default:
		return err
	}
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		Mobile:       u.Mobile,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		CreatedAt:    u.CreatedAt,
		LastLogin:    u.LastLogin,
	}
}

func userFromModel(m UserModel) domain.User {
	role := domain.UserRole(m.Role)
	if role == "" {
		role = domain.RoleUser
	}
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		Name:         m.Name,
		Mobile:       m.Mobile,
		PasswordHash: m.PasswordHash,
		Role:         role,
		CreatedAt:    m.CreatedAt,
		LastLogin:    m.LastLogin,
	}
}

func chapterToModel(c domain.Chapter) ChapterModel {
	return ChapterModel{
		ID:         c.ID,
		Title:      c.Title,
		Content:    c.Content,
		UploadedBy: c.UploadedBy,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

func chapterFromModel(m ChapterModel) domain.Chapter {
	return domain.Chapter{
		ID:         m.ID,
		Title:      m.Title,
		Content:    m.Content,
		UploadedBy: m.UploadedBy,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func reviewToModel(r domain.Review) ReviewModel {
	return ReviewModel{
		ID:        r.ID,
		ChapterID: r.ChapterID,
		Author:    r.Author,
		Text:      r.Text,
		CreatedAt: r.CreatedAt,
	}
}

func reviewFromModel(m ReviewModel) domain.Review {
	return domain.Review{
		ID:        m.ID,
		ChapterID: m.ChapterID,
		Author:    m.Author,
		Text:      m.Text,
		CreatedAt: m.CreatedAt,
	}
}
