package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"horizon/internal/util"
	"horizon/pkg/auth"
	"horizon/pkg/domain"
	"horizon/pkg/store"
)

// RegisterInput carries sign-up fields.
type RegisterInput struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Mobile   string `json:"mobile" validate:"omitempty,max=32"`
	Password string `json:"password" validate:"required,max=72"`
}

// Register creates an account. The configured admin email registers with the
// admin role; everyone else is a plain user.
func (a *App) Register(in RegisterInput) (domain.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	in.Mobile = strings.TrimSpace(in.Mobile)
	if err := a.check(in); err != nil {
		return domain.User{}, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, err
	}
	role := domain.RoleUser
	if a.adminEmail != "" && in.Email == a.adminEmail {
		role = domain.RoleAdmin
	}
	now := a.now()
	user := domain.User{
		ID:           util.NewID(),
		Email:        in.Email,
		Name:         in.Name,
		Mobile:       in.Mobile,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		LastLogin:    now,
	}
	if err := a.store.CreateUser(user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.User{}, ErrDuplicateEmail
		}
		return domain.User{}, storageErr("create user", err)
	}
	return user, nil
}

// Authenticate verifies credentials and stamps last_login on success.
func (a *App) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	email = normalizeEmail(email)
	if a.limiter != nil {
		allowed, err := a.limiter.Allow(ctx, "login:"+email)
		if err != nil {
			return domain.User{}, storageErr("login limiter", err)
		}
		if !allowed {
			util.LoggerFromContext(ctx).Warn("login throttled")
			return domain.User{}, ErrTooManyAttempts
		}
	}
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, storageErr("fetch user", err)
	}
	if !ok {
		auth.BurnCompare(password)
		return domain.User{}, ErrInvalidCredentials
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, ErrInvalidCredentials
	}
	now := a.now()
	if err := a.store.SetLastLogin(user.ID, now); err != nil {
		return domain.User{}, storageErr("update last login", err)
	}
	user.LastLogin = now
	return user, nil
}

// ListUsers returns every account (admin only).
func (a *App) ListUsers(sess Session) ([]domain.User, error) {
	if err := requireAdmin(sess); err != nil {
		return nil, err
	}
	users, err := a.store.ListUsers()
	if err != nil {
		return nil, storageErr("list users", err)
	}
	return users, nil
}

// SetAdmin grants or revokes the admin role. Admins cannot demote themselves,
// which keeps at least one admin around.
func (a *App) SetAdmin(sess Session, email string, admin bool) (domain.User, error) {
	if err := requireAdmin(sess); err != nil {
		return domain.User{}, err
	}
	target, ok, err := a.store.GetUserByEmail(normalizeEmail(email))
	if err != nil {
		return domain.User{}, storageErr("fetch user", err)
	}
	if !ok {
		return domain.User{}, ErrNotFound
	}
	if target.ID == sess.User.ID && !admin {
		return domain.User{}, fmt.Errorf("%w: cannot revoke your own admin role", ErrInvalidInput)
	}
	role := domain.RoleUser
	if admin {
		role = domain.RoleAdmin
	}
	if target.Role == role {
		return target, nil
	}
	if err := a.store.SetUserRole(target.ID, role); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, ErrNotFound
		}
		return domain.User{}, storageErr("set role", err)
	}
	target.Role = role
	return target, nil
}

// check runs struct validation and folds failures into ErrInvalidInput.
func (a *App) check(v any) error {
	err := a.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(fields, ", "))
}
