package server

import (
	"net/http"
	"net/url"
	"strings"

	"horizon/internal/app"
	"horizon/internal/util"
)

type chapterRequest struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type reviewRequest struct {
	Text string `json:"text"`
}

type likesResponse struct {
	ChapterID string   `json:"chapterId"`
	Count     int      `json:"count"`
	HasLiked  bool     `json:"hasLiked"`
	LikedBy   []string `json:"likedBy,omitempty"`
}

func (s *Server) handleChapters(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		chapters, err := s.app.ListChapters()
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"count": len(chapters), "items": chapters})
	case http.MethodPost:
		s.authenticated(s.handleCreateChapter).ServeHTTP(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleCreateChapter(w http.ResponseWriter, r *http.Request, sess app.Session) {
	var req chapterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.app.CreateChapter(sess, req.ID, req.Title, req.Content)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	util.LoggerFromContext(r.Context()).Info("chapter created", "chapter_id", c.ID)
	writeJSON(w, http.StatusCreated, c)
}

// handleChapterRoutes dispatches /chapters/{id}[/like|/likes|/reviews].
func (s *Server) handleChapterRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.EscapedPath(), "/chapters/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	id, err := url.PathUnescape(parts[0])
	if err != nil || strings.TrimSpace(id) == "" || len(parts) > 2 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if len(parts) == 1 {
		s.handleChapter(w, r, id)
		return
	}
	switch parts[1] {
	case "like":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.authenticated(func(w http.ResponseWriter, r *http.Request, sess app.Session) {
			s.handleLike(w, r, sess, id)
		}).ServeHTTP(w, r)
	case "likes":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleLikes(w, r, id)
	case "reviews":
		s.handleReviews(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleChapter(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		c, err := s.app.GetChapter(id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	case http.MethodPut, http.MethodPatch:
		s.authenticated(func(w http.ResponseWriter, r *http.Request, sess app.Session) {
			var req chapterRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			if r.Method == http.MethodPatch {
				c, err := s.app.UpdateChapter(sess, id, req.Title, req.Content)
				if err != nil {
					s.writeAppError(w, r, err)
					return
				}
				writeJSON(w, http.StatusOK, c)
				return
			}
			c, created, err := s.app.UpsertChapter(sess, id, req.Title, req.Content)
			if err != nil {
				s.writeAppError(w, r, err)
				return
			}
			status := http.StatusOK
			if created {
				status = http.StatusCreated
			}
			writeJSON(w, status, c)
		}).ServeHTTP(w, r)
	case http.MethodDelete:
		s.authenticated(func(w http.ResponseWriter, r *http.Request, sess app.Session) {
			if err := s.app.DeleteChapter(sess, id); err != nil {
				s.writeAppError(w, r, err)
				return
			}
			util.LoggerFromContext(r.Context()).Info("chapter deleted", "chapter_id", id)
			w.WriteHeader(http.StatusNoContent)
		}).ServeHTTP(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleLike(w http.ResponseWriter, r *http.Request, sess app.Session, id string) {
	if err := s.app.Like(sess, id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.writeLikes(w, r, sess, id)
}

func (s *Server) handleLikes(w http.ResponseWriter, r *http.Request, id string) {
	sess, err := s.optionalSession(r)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.writeLikes(w, r, sess, id)
}

// writeLikes reports count and the caller's own like; admins also get likedBy.
func (s *Server) writeLikes(w http.ResponseWriter, r *http.Request, sess app.Session, id string) {
	count, err := s.app.LikeCount(id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	resp := likesResponse{ChapterID: id, Count: count}
	if sess.Email() != "" {
		if resp.HasLiked, err = s.app.HasLiked(id, sess.Email()); err != nil {
			s.writeAppError(w, r, err)
			return
		}
	}
	if sess.IsAdmin() {
		if resp.LikedBy, err = s.app.LikedBy(sess, id); err != nil {
			s.writeAppError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReviews(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		reviews, err := s.app.ListReviews(id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"count": len(reviews), "items": reviews})
	case http.MethodPost:
		s.authenticated(func(w http.ResponseWriter, r *http.Request, sess app.Session) {
			var req reviewRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			reviewID, err := s.app.AddReview(sess, id, req.Text)
			if err != nil {
				s.writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]string{"id": reviewID})
		}).ServeHTTP(w, r)
	default:
		methodNotAllowed(w)
	}
}
