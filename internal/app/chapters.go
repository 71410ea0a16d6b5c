package app

import (
	"errors"
	"strings"

	"horizon/pkg/domain"
	"horizon/pkg/store"
)

type chapterInput struct {
	ID      string `validate:"required,max=128,excludesall=/?#"`
	Title   string `validate:"required,max=200"`
	Content string
}

func (a *App) parseChapter(id, title, content string) (chapterInput, error) {
	in := chapterInput{
		ID:      strings.TrimSpace(id),
		Title:   strings.TrimSpace(title),
		Content: content,
	}
	return in, a.check(in)
}

// CreateChapter publishes a new chapter. The id must be unused.
func (a *App) CreateChapter(sess Session, id, title, content string) (domain.Chapter, error) {
	if err := requireAdmin(sess); err != nil {
		return domain.Chapter{}, err
	}
	in, err := a.parseChapter(id, title, content)
	if err != nil {
		return domain.Chapter{}, err
	}
	now := a.now()
	c := domain.Chapter{
		ID:         in.ID,
		Title:      in.Title,
		Content:    in.Content,
		UploadedBy: sess.Email(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := a.store.CreateChapter(c); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Chapter{}, ErrDuplicateChapterID
		}
		return domain.Chapter{}, storageErr("create chapter", err)
	}
	return c, nil
}

// UpsertChapter re-publishes a chapter, creating it when absent. It reports
// whether a new chapter was created.
func (a *App) UpsertChapter(sess Session, id, title, content string) (domain.Chapter, bool, error) {
	if err := requireAdmin(sess); err != nil {
		return domain.Chapter{}, false, err
	}
	in, err := a.parseChapter(id, title, content)
	if err != nil {
		return domain.Chapter{}, false, err
	}
	now := a.now()
	created, err := a.store.UpsertChapter(domain.Chapter{
		ID:         in.ID,
		Title:      in.Title,
		Content:    in.Content,
		UploadedBy: sess.Email(),
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return domain.Chapter{}, false, storageErr("upsert chapter", err)
	}
	c, err := a.GetChapter(in.ID)
	if err != nil {
		return domain.Chapter{}, false, err
	}
	return c, created, nil
}

// UpdateChapter replaces title and content of an existing chapter.
func (a *App) UpdateChapter(sess Session, id, title, content string) (domain.Chapter, error) {
	if err := requireAdmin(sess); err != nil {
		return domain.Chapter{}, err
	}
	in, err := a.parseChapter(id, title, content)
	if err != nil {
		return domain.Chapter{}, err
	}
	c, err := a.store.UpdateChapter(in.ID, in.Title, in.Content, a.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Chapter{}, ErrNotFound
		}
		return domain.Chapter{}, storageErr("update chapter", err)
	}
	return c, nil
}

// DeleteChapter removes a chapter with its likes and reviews in one unit.
func (a *App) DeleteChapter(sess Session, id string) error {
	if err := requireAdmin(sess); err != nil {
		return err
	}
	if err := a.store.DeleteChapter(strings.TrimSpace(id)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return storageErr("delete chapter", err)
	}
	return nil
}

// ListChapters returns all chapters in a stable order.
func (a *App) ListChapters() ([]domain.Chapter, error) {
	chapters, err := a.store.ListChapters()
	if err != nil {
		return nil, storageErr("list chapters", err)
	}
	return chapters, nil
}

// GetChapter returns one chapter or ErrNotFound.
func (a *App) GetChapter(id string) (domain.Chapter, error) {
	c, ok, err := a.store.GetChapter(strings.TrimSpace(id))
	if err != nil {
		return domain.Chapter{}, storageErr("fetch chapter", err)
	}
	if !ok {
		return domain.Chapter{}, ErrNotFound
	}
	return c, nil
}
