package app

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"horizon/pkg/domain"
	"horizon/pkg/store"
)

type reviewInput struct {
	Text string `validate:"required,max=5000"`
}

// Like adds the caller to the chapter's like-set. Repeat likes are no-ops and
// likes cannot be withdrawn.
func (a *App) Like(sess Session, chapterID string) error {
	if err := requireUser(sess); err != nil {
		return err
	}
	if err := a.store.AddLike(strings.TrimSpace(chapterID), sess.Email()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return storageErr("add like", err)
	}
	return nil
}

// HasLiked reports whether user liked the chapter.
func (a *App) HasLiked(chapterID, user string) (bool, error) {
	chapterID = strings.TrimSpace(chapterID)
	if err := a.requireChapter(chapterID); err != nil {
		return false, err
	}
	liked, err := a.store.HasLiked(chapterID, normalizeEmail(user))
	if err != nil {
		return false, storageErr("check like", err)
	}
	return liked, nil
}

// LikeCount returns the size of the chapter's like-set.
func (a *App) LikeCount(chapterID string) (int, error) {
	chapterID = strings.TrimSpace(chapterID)
	if err := a.requireChapter(chapterID); err != nil {
		return 0, err
	}
	n, err := a.store.CountLikes(chapterID)
	if err != nil {
		return 0, storageErr("count likes", err)
	}
	return n, nil
}

// LikedBy lists who liked the chapter (admin only).
func (a *App) LikedBy(sess Session, chapterID string) ([]string, error) {
	if err := requireAdmin(sess); err != nil {
		return nil, err
	}
	chapterID = strings.TrimSpace(chapterID)
	if err := a.requireChapter(chapterID); err != nil {
		return nil, err
	}
	users, err := a.store.ListLikers(chapterID)
	if err != nil {
		return nil, storageErr("list likers", err)
	}
	return users, nil
}

// AddReview appends a review by the caller and returns its id.
func (a *App) AddReview(sess Session, chapterID, text string) (string, error) {
	if err := requireUser(sess); err != nil {
		return "", err
	}
	in := reviewInput{Text: strings.TrimSpace(text)}
	if err := a.check(in); err != nil {
		return "", err
	}
	r := domain.Review{
		ID:        uuid.NewString(),
		ChapterID: strings.TrimSpace(chapterID),
		Author:    sess.Email(),
		Text:      in.Text,
		CreatedAt: a.now(),
	}
	if err := a.store.AddReview(r); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", storageErr("add review", err)
	}
	return r.ID, nil
}

// ListReviews returns the chapter's reviews, newest first.
func (a *App) ListReviews(chapterID string) ([]domain.Review, error) {
	chapterID = strings.TrimSpace(chapterID)
	if err := a.requireChapter(chapterID); err != nil {
		return nil, err
	}
	reviews, err := a.store.ListReviews(chapterID)
	if err != nil {
		return nil, storageErr("list reviews", err)
	}
	return reviews, nil
}

// ReconcileOrphans drops likes and reviews left behind by chapters that no
// longer exist and returns how many records went (admin only).
func (a *App) ReconcileOrphans(sess Session) (int, error) {
	if err := requireAdmin(sess); err != nil {
		return 0, err
	}
	n, err := a.store.DeleteOrphanEngagement()
	if err != nil {
		return 0, storageErr("reconcile orphans", err)
	}
	return n, nil
}

func (a *App) requireChapter(id string) error {
	_, ok, err := a.store.GetChapter(id)
	if err != nil {
		return storageErr("fetch chapter", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
