package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"horizon/pkg/domain"
)

type storeFactory func(t *testing.T) Store

func storeFactories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"gorm-sqlite": func(t *testing.T) Store {
			s, err := NewGormStore("sqlite:" + filepath.Join(t.TempDir(), "horizon.db"))
			if err != nil {
				t.Fatalf("new gorm store: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func seedChapter(t *testing.T, s Store, id string, offset time.Duration) domain.Chapter {
	t.Helper()
	c := domain.Chapter{
		ID:         id,
		Title:      "Title " + id,
		Content:    "Content " + id,
		UploadedBy: "admin@example.com",
		CreatedAt:  base.Add(offset),
		UpdatedAt:  base.Add(offset),
	}
	if err := s.CreateChapter(c); err != nil {
		t.Fatalf("create chapter %s: %v", id, err)
	}
	return c
}

func TestStoreUsers(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		u := domain.User{
			ID:           "u1",
			Email:        "a@example.com",
			Name:         "Ada",
			Mobile:       "555",
			PasswordHash: "hash",
			Role:         domain.RoleUser,
			CreatedAt:    base,
			LastLogin:    base,
		}
		if err := s.CreateUser(u); err != nil {
			t.Fatalf("create user: %v", err)
		}
		dup := u
		dup.ID = "u2"
		if err := s.CreateUser(dup); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected conflict on duplicate email, got %v", err)
		}

		got, ok, err := s.GetUserByEmail("a@example.com")
		if err != nil || !ok {
			t.Fatalf("get by email: ok=%v err=%v", ok, err)
		}
		if got.Name != "Ada" || got.PasswordHash != "hash" || got.Role != domain.RoleUser {
			t.Fatalf("unexpected user: %+v", got)
		}
		if _, ok, _ := s.GetUserByEmail("missing@example.com"); ok {
			t.Fatalf("expected missing email to be absent")
		}

		later := base.Add(time.Hour)
		if err := s.SetLastLogin("u1", later); err != nil {
			t.Fatalf("set last login: %v", err)
		}
		if err := s.SetUserRole("u1", domain.RoleAdmin); err != nil {
			t.Fatalf("set role: %v", err)
		}
		got, ok, err = s.GetUserByID("u1")
		if err != nil || !ok {
			t.Fatalf("get by id: ok=%v err=%v", ok, err)
		}
		if !got.LastLogin.Equal(later) {
			t.Fatalf("last login not updated: %v", got.LastLogin)
		}
		if !got.IsAdmin() {
			t.Fatalf("expected admin role")
		}
		if err := s.SetLastLogin("nobody", later); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found for unknown user, got %v", err)
		}

		second := u
		second.ID = "u0"
		second.Email = "b@example.com"
		second.CreatedAt = base.Add(-time.Hour)
		if err := s.CreateUser(second); err != nil {
			t.Fatalf("create second user: %v", err)
		}
		users, err := s.ListUsers()
		if err != nil {
			t.Fatalf("list users: %v", err)
		}
		if len(users) != 2 || users[0].Email != "b@example.com" || users[1].Email != "a@example.com" {
			t.Fatalf("unexpected user order: %+v", users)
		}
	})
}

func TestStoreChapterLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		seedChapter(t, s, "ch1", 0)
		seedChapter(t, s, "ch2", time.Minute)

		dup := domain.Chapter{ID: "ch1", Title: "other", Content: "other", CreatedAt: base, UpdatedAt: base}
		if err := s.CreateChapter(dup); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected conflict on duplicate id, got %v", err)
		}
		got, _, _ := s.GetChapter("ch1")
		if got.Title != "Title ch1" {
			t.Fatalf("duplicate create overwrote chapter: %+v", got)
		}

		updated, err := s.UpdateChapter("ch1", "New", "Body", base.Add(time.Hour))
		if err != nil {
			t.Fatalf("update chapter: %v", err)
		}
		if updated.Title != "New" || updated.Content != "Body" || updated.UploadedBy != "admin@example.com" {
			t.Fatalf("unexpected updated chapter: %+v", updated)
		}
		if _, err := s.UpdateChapter("nope", "x", "y", base); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found on update, got %v", err)
		}

		chapters, err := s.ListChapters()
		if err != nil {
			t.Fatalf("list chapters: %v", err)
		}
		if len(chapters) != 2 || chapters[0].ID != "ch1" || chapters[1].ID != "ch2" {
			t.Fatalf("unexpected chapters: %+v", chapters)
		}

		if err := s.DeleteChapter("ch2"); err != nil {
			t.Fatalf("delete chapter: %v", err)
		}
		if _, ok, _ := s.GetChapter("ch2"); ok {
			t.Fatalf("expected ch2 to be gone")
		}
		if err := s.DeleteChapter("ch2"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found on second delete, got %v", err)
		}
	})
}

func TestStoreUpsertChapter(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		c := domain.Chapter{ID: "up", Title: "One", Content: "first", UploadedBy: "a", CreatedAt: base, UpdatedAt: base}
		created, err := s.UpsertChapter(c)
		if err != nil || !created {
			t.Fatalf("first upsert: created=%v err=%v", created, err)
		}
		c.Title = "Two"
		c.Content = "second"
		c.CreatedAt = base.Add(time.Hour)
		c.UpdatedAt = base.Add(time.Hour)
		created, err = s.UpsertChapter(c)
		if err != nil || created {
			t.Fatalf("second upsert: created=%v err=%v", created, err)
		}
		got, ok, err := s.GetChapter("up")
		if err != nil || !ok {
			t.Fatalf("get chapter: ok=%v err=%v", ok, err)
		}
		if got.Title != "Two" || got.Content != "second" {
			t.Fatalf("upsert did not overwrite: %+v", got)
		}
		if !got.CreatedAt.Equal(base) {
			t.Fatalf("upsert must keep created time, got %v", got.CreatedAt)
		}
	})
}

func TestStoreLikesAreASet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		seedChapter(t, s, "ch", 0)
		for i := 0; i < 3; i++ {
			if err := s.AddLike("ch", "bob@example.com"); err != nil {
				t.Fatalf("add like: %v", err)
			}
		}
		if err := s.AddLike("ch", "amy@example.com"); err != nil {
			t.Fatalf("add like: %v", err)
		}
		count, err := s.CountLikes("ch")
		if err != nil {
			t.Fatalf("count likes: %v", err)
		}
		if count != 2 {
			t.Fatalf("expected 2 likes, got %d", count)
		}
		likers, err := s.ListLikers("ch")
		if err != nil {
			t.Fatalf("list likers: %v", err)
		}
		if len(likers) != 2 || likers[0] != "amy@example.com" || likers[1] != "bob@example.com" {
			t.Fatalf("unexpected likers: %v", likers)
		}
		liked, err := s.HasLiked("ch", "bob@example.com")
		if err != nil || !liked {
			t.Fatalf("has liked: liked=%v err=%v", liked, err)
		}
		if liked, _ := s.HasLiked("ch", "carl@example.com"); liked {
			t.Fatalf("carl never liked")
		}
		if err := s.AddLike("missing", "bob@example.com"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found liking missing chapter, got %v", err)
		}
	})
}

func TestStoreReviewsNewestFirst(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		seedChapter(t, s, "ch", 0)
		for i := 0; i < 4; i++ {
			r := domain.Review{
				ID:        fmt.Sprintf("r%d", i),
				ChapterID: "ch",
				Author:    "reader@example.com",
				Text:      fmt.Sprintf("review %d", i),
				CreatedAt: base.Add(time.Duration(i) * time.Second),
			}
			if err := s.AddReview(r); err != nil {
				t.Fatalf("add review: %v", err)
			}
		}
		reviews, err := s.ListReviews("ch")
		if err != nil {
			t.Fatalf("list reviews: %v", err)
		}
		if len(reviews) != 4 {
			t.Fatalf("expected 4 reviews, got %d", len(reviews))
		}
		for i := 1; i < len(reviews); i++ {
			if reviews[i].CreatedAt.After(reviews[i-1].CreatedAt) {
				t.Fatalf("reviews out of order at %d: %+v", i, reviews)
			}
		}
		if reviews[0].ID != "r3" {
			t.Fatalf("expected newest review first, got %s", reviews[0].ID)
		}
		err = s.AddReview(domain.Review{ID: "x", ChapterID: "missing", Author: "a", Text: "t", CreatedAt: base})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found reviewing missing chapter, got %v", err)
		}
	})
}

func TestStoreDeleteChapterCascades(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		seedChapter(t, s, "gone", 0)
		seedChapter(t, s, "kept", time.Minute)
		for _, id := range []string{"gone", "kept"} {
			if err := s.AddLike(id, "bob@example.com"); err != nil {
				t.Fatalf("add like: %v", err)
			}
			if err := s.AddReview(domain.Review{ID: "r-" + id, ChapterID: id, Author: "bob@example.com", Text: "hi", CreatedAt: base}); err != nil {
				t.Fatalf("add review: %v", err)
			}
		}

		if err := s.DeleteChapter("gone"); err != nil {
			t.Fatalf("delete chapter: %v", err)
		}
		if n, _ := s.CountLikes("gone"); n != 0 {
			t.Fatalf("likes survived delete: %d", n)
		}
		if reviews, _ := s.ListReviews("gone"); len(reviews) != 0 {
			t.Fatalf("reviews survived delete: %+v", reviews)
		}
		if n, _ := s.CountLikes("kept"); n != 1 {
			t.Fatalf("unrelated likes touched: %d", n)
		}
		if reviews, _ := s.ListReviews("kept"); len(reviews) != 1 {
			t.Fatalf("unrelated reviews touched: %+v", reviews)
		}

		// Re-creating the id starts from a clean slate.
		seedChapter(t, s, "gone", 2*time.Minute)
		if liked, _ := s.HasLiked("gone", "bob@example.com"); liked {
			t.Fatalf("stale like resurfaced")
		}
		removed, err := s.DeleteOrphanEngagement()
		if err != nil {
			t.Fatalf("delete orphans: %v", err)
		}
		if removed != 0 {
			t.Fatalf("expected no orphans, removed %d", removed)
		}
	})
}

func TestMemoryStoreDeleteOrphanEngagement(t *testing.T) {
	s := NewMemoryStore()
	seedChapter(t, s, "live", 0)
	if err := s.AddLike("live", "a@example.com"); err != nil {
		t.Fatalf("add like: %v", err)
	}
	s.likes["dead"] = map[string]struct{}{"a@example.com": {}, "b@example.com": {}}
	s.reviews["dead"] = []domain.Review{{ID: "r1", ChapterID: "dead", Author: "a@example.com", Text: "x", CreatedAt: base}}

	removed, err := s.DeleteOrphanEngagement()
	if err != nil {
		t.Fatalf("delete orphans: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 orphans removed, got %d", removed)
	}
	if n, _ := s.CountLikes("live"); n != 1 {
		t.Fatalf("live likes touched: %d", n)
	}
}

func TestGormStoreDeleteOrphanEngagement(t *testing.T) {
	s, err := NewGormStore("sqlite:" + filepath.Join(t.TempDir(), "orphans.db"))
	if err != nil {
		t.Fatalf("new gorm store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	seedChapter(t, s, "live", 0)
	if err := s.AddLike("live", "a@example.com"); err != nil {
		t.Fatalf("add like: %v", err)
	}
	orphans := []LikeModel{
		{ChapterID: "dead", UserEmail: "a@example.com", CreatedAt: base},
		{ChapterID: "dead", UserEmail: "b@example.com", CreatedAt: base},
	}
	if err := s.db.Create(&orphans).Error; err != nil {
		t.Fatalf("insert orphan likes: %v", err)
	}
	if err := s.db.Create(&ReviewModel{ID: "r1", ChapterID: "dead", Author: "a@example.com", Text: "x", CreatedAt: base}).Error; err != nil {
		t.Fatalf("insert orphan review: %v", err)
	}

	removed, err := s.DeleteOrphanEngagement()
	if err != nil {
		t.Fatalf("delete orphans: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 orphans removed, got %d", removed)
	}
	if n, _ := s.CountLikes("live"); n != 1 {
		t.Fatalf("live likes touched: %d", n)
	}
}

func TestMemoryStoreSessions(t *testing.T) {
	s := NewMemoryStore()
	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if id, ok, _ := s.GetUserIDByToken(token); !ok || id != "user-1" {
		t.Fatalf("unexpected session lookup: id=%q ok=%v", id, ok)
	}
	if err := s.DeleteSession(token); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, ok, _ := s.GetUserIDByToken(token); ok {
		t.Fatalf("expected session to be gone")
	}
}
