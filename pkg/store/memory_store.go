package store

import (
	"sort"
	"sync"
	"time"

	"horizon/internal/util"
	"horizon/pkg/domain"
)

// MemoryStore keeps every record in-process behind one lock.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]domain.User // key: user ID
	email    map[string]string      // email -> user ID
	chapters map[string]domain.Chapter
	order    []string                       // chapter IDs in creation order
	likes    map[string]map[string]struct{} // chapter ID -> liked by
	reviews  map[string][]domain.Review     // chapter ID -> reviews in insertion order
	sess     map[string]string              // token -> user ID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]domain.User),
		email:    make(map[string]string),
		chapters: make(map[string]domain.Chapter),
		likes:    make(map[string]map[string]struct{}),
		reviews:  make(map[string][]domain.Review),
		sess:     make(map[string]string),
	}
}

// CreateUser registers a user; the email must be unused.
func (m *MemoryStore) CreateUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.email[u.Email]; ok {
		return ErrConflict
	}
	if _, ok := m.users[u.ID]; ok {
		return ErrConflict
	}
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.email[email]; ok {
		u, exists := m.users[id]
		return u, exists, nil
	}
	return domain.User{}, false, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// SetLastLogin records a successful authentication.
func (m *MemoryStore) SetLastLogin(id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.LastLogin = at
	m.users[id] = u
	return nil
}

// SetUserRole changes a user's role.
func (m *MemoryStore) SetUserRole(id string, role domain.UserRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Role = role
	m.users[id] = u
	return nil
}

// ListUsers returns all users ordered by creation time.
func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		res = append(res, u)
	}
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].Email < res[j].Email
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

// CreateChapter stores a new chapter; the ID must be unused.
func (m *MemoryStore) CreateChapter(c domain.Chapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chapters[c.ID]; ok {
		return ErrConflict
	}
	m.chapters[c.ID] = c
	m.order = append(m.order, c.ID)
	return nil
}

// UpsertChapter overwrites title, content, uploader and timestamp of an
// existing chapter or creates it. It reports whether a chapter was created.
func (m *MemoryStore) UpsertChapter(c domain.Chapter) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.chapters[c.ID]
	if !ok {
		m.chapters[c.ID] = c
		m.order = append(m.order, c.ID)
		return true, nil
	}
	existing.Title = c.Title
	existing.Content = c.Content
	existing.UploadedBy = c.UploadedBy
	existing.UpdatedAt = c.UpdatedAt
	m.chapters[c.ID] = existing
	return false, nil
}

// UpdateChapter edits title and content in place.
func (m *MemoryStore) UpdateChapter(id, title, content string, at time.Time) (domain.Chapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chapters[id]
	if !ok {
		return domain.Chapter{}, ErrNotFound
	}
	c.Title = title
	c.Content = content
	c.UpdatedAt = at
	m.chapters[id] = c
	return c, nil
}

// GetChapter retrieves a chapter by ID.
func (m *MemoryStore) GetChapter(id string) (domain.Chapter, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chapters[id]
	return c, ok, nil
}

// ListChapters returns chapters in insertion order.
func (m *MemoryStore) ListChapters() ([]domain.Chapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Chapter, 0, len(m.order))
	for _, id := range m.order {
		if c, ok := m.chapters[id]; ok {
			res = append(res, c)
		}
	}
	return res, nil
}

// DeleteChapter removes a chapter and its engagement under one lock.
func (m *MemoryStore) DeleteChapter(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chapters[id]; !ok {
		return ErrNotFound
	}
	m.deleteAllForChapterLocked(id)
	delete(m.chapters, id)
	filtered := m.order[:0]
	for _, item := range m.order {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.order = filtered
	return nil
}

// AddLike adds user to the chapter's like-set; repeats are no-ops.
func (m *MemoryStore) AddLike(chapterID, user string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chapters[chapterID]; !ok {
		return ErrNotFound
	}
	set, ok := m.likes[chapterID]
	if !ok {
		set = make(map[string]struct{})
		m.likes[chapterID] = set
	}
	set[user] = struct{}{}
	return nil
}

// HasLiked reports whether user is in the chapter's like-set.
func (m *MemoryStore) HasLiked(chapterID, user string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.likes[chapterID][user]
	return ok, nil
}

// CountLikes returns the size of the chapter's like-set.
func (m *MemoryStore) CountLikes(chapterID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.likes[chapterID]), nil
}

// ListLikers returns the like-set sorted by identity.
func (m *MemoryStore) ListLikers(chapterID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]string, 0, len(m.likes[chapterID]))
	for user := range m.likes[chapterID] {
		res = append(res, user)
	}
	sort.Strings(res)
	return res, nil
}

// AddReview appends a review to an existing chapter.
func (m *MemoryStore) AddReview(r domain.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chapters[r.ChapterID]; !ok {
		return ErrNotFound
	}
	m.reviews[r.ChapterID] = append(m.reviews[r.ChapterID], r)
	return nil
}

// ListReviews returns reviews newest first; equal timestamps keep the
// later submission first.
func (m *MemoryStore) ListReviews(chapterID string) ([]domain.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.reviews[chapterID]
	res := make([]domain.Review, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		res = append(res, src[i])
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

// DeleteAllForChapter drops the chapter's like-set and reviews.
func (m *MemoryStore) DeleteAllForChapter(chapterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteAllForChapterLocked(chapterID)
	return nil
}

func (m *MemoryStore) deleteAllForChapterLocked(chapterID string) {
	delete(m.likes, chapterID)
	delete(m.reviews, chapterID)
}

// DeleteOrphanEngagement removes likes and reviews whose chapter is gone and
// returns how many records were dropped.
func (m *MemoryStore) DeleteOrphanEngagement() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, set := range m.likes {
		if _, ok := m.chapters[id]; !ok {
			removed += len(set)
			delete(m.likes, id)
		}
	}
	for id, list := range m.reviews {
		if _, ok := m.chapters[id]; !ok {
			removed += len(list)
			delete(m.reviews, id)
		}
	}
	return removed, nil
}

// NewSession creates a session token for a user.
func (m *MemoryStore) NewSession(userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token := util.NewID()
	m.sess[token] = userID
	return token, nil
}

// GetUserIDByToken resolves a session token.
func (m *MemoryStore) GetUserIDByToken(token string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	uid, ok := m.sess[token]
	return uid, ok, nil
}

// DeleteSession forgets a session token.
func (m *MemoryStore) DeleteSession(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sess, token)
	return nil
}
