package app

import (
	"context"
	"fmt"
	"strings"

	"horizon/internal/util"
	"horizon/pkg/domain"
)

// Session is the caller identity passed explicitly to every operation.
// The zero value is an anonymous caller.
type Session struct {
	Token string
	User  domain.User
}

// IsAdmin reports whether the session's user holds the admin role.
func (s Session) IsAdmin() bool {
	return s.User.IsAdmin()
}

// Email is the identity recorded on likes, reviews and chapters.
func (s Session) Email() string {
	return s.User.Email
}

func (s Session) signedIn() bool {
	return s.User.ID != "" && s.User.Email != ""
}

func requireAdmin(sess Session) error {
	if !sess.signedIn() || !sess.IsAdmin() {
		return ErrUnauthorized
	}
	return nil
}

func requireUser(sess Session) error {
	if !sess.signedIn() {
		return ErrUnauthorized
	}
	return nil
}

// Login authenticates and issues a session token.
func (a *App) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := a.Authenticate(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return Session{}, fmt.Errorf("issue session: %w", err)
	}
	return Session{Token: token, User: user}, nil
}

// SessionFromToken resolves a token and re-reads the user, so role changes
// take effect on the next request.
func (a *App) SessionFromToken(ctx context.Context, token string) (Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, ErrInvalidSession
	}
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil {
		util.LoggerFromContext(ctx).Debug("session lookup failed", "err", err)
		return Session{}, ErrInvalidSession
	}
	if !ok {
		return Session{}, ErrInvalidSession
	}
	user, found, err := a.store.GetUserByID(uid)
	if err != nil {
		return Session{}, storageErr("fetch user", err)
	}
	if !found {
		return Session{}, ErrInvalidSession
	}
	return Session{Token: token, User: user}, nil
}

// Logout discards the session's token.
func (a *App) Logout(sess Session) error {
	if sess.Token == "" {
		return nil
	}
	if err := a.sessions.DeleteSession(sess.Token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
