package app

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"golang.org/x/sync/errgroup"
	"horizon/pkg/domain"
	"horizon/pkg/store"
)

func TestRegisterAndAuthenticateScenario(t *testing.T) {
	forEachBackend(t, func(t *testing.T, a *App) {
		ctx := context.Background()
		user, err := a.Register(RegisterInput{Name: "Ada", Email: "A@x.com", Mobile: "555-0100", Password: "pw1"})
		if err != nil {
			t.Fatalf("register: %v", err)
		}
		if user.Email != readerEmail || user.Role != domain.RoleUser {
			t.Fatalf("unexpected user: %+v", user)
		}
		if user.PasswordHash == "pw1" || user.PasswordHash == "" {
			t.Fatalf("password must be stored hashed")
		}

		if _, err := a.Authenticate(ctx, readerEmail, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected invalid credentials, got %v", err)
		}
		if _, err := a.Authenticate(ctx, "nobody@x.com", "pw1"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected invalid credentials for unknown email, got %v", err)
		}

		got, err := a.Authenticate(ctx, readerEmail, "pw1")
		if err != nil {
			t.Fatalf("authenticate: %v", err)
		}
		if !got.LastLogin.After(user.LastLogin) {
			t.Fatalf("last login not advanced: before=%v after=%v", user.LastLogin, got.LastLogin)
		}
		stored, _, err := a.store.GetUserByEmail(readerEmail)
		if err != nil {
			t.Fatalf("reload user: %v", err)
		}
		if !stored.LastLogin.Equal(got.LastLogin) {
			t.Fatalf("last login not persisted: %v vs %v", stored.LastLogin, got.LastLogin)
		}
	})
}

func TestRegisterDuplicateEmail(t *testing.T) {
	forEachBackend(t, func(t *testing.T, a *App) {
		if _, err := a.Register(RegisterInput{Name: "Ada", Email: readerEmail, Password: "pw1"}); err != nil {
			t.Fatalf("register: %v", err)
		}
		_, err := a.Register(RegisterInput{Name: "Other", Email: " A@X.COM ", Password: "pw2"})
		if !errors.Is(err, ErrDuplicateEmail) {
			t.Fatalf("expected duplicate email, got %v", err)
		}
	})
}

func TestRegisterConcurrentSameEmail(t *testing.T) {
	forEachBackend(t, func(t *testing.T, a *App) {
		const n = 4
		errs := make([]error, n)
		var g errgroup.Group
		for i := 0; i < n; i++ {
			i := i
			g.Go(func() error {
				_, errs[i] = a.Register(RegisterInput{Name: "Racer", Email: "race@x.com", Password: "pw"})
				return nil
			})
		}
		_ = g.Wait()

		ok, dup := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrDuplicateEmail):
				dup++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if ok != 1 || dup != n-1 {
			t.Fatalf("expected 1 success and %d duplicates, got %d/%d", n-1, ok, dup)
		}
	})
}

func TestRegisterValidatesInput(t *testing.T) {
	a := newTestApp(t, store.NewMemoryStore())
	cases := []RegisterInput{
		{Name: "", Email: readerEmail, Password: "pw"},
		{Name: "Ada", Email: "not-an-email", Password: "pw"},
		{Name: "Ada", Email: readerEmail, Password: ""},
	}
	for _, in := range cases {
		if _, err := a.Register(in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected invalid input for %+v, got %v", in, err)
		}
	}
}

func TestRegisterGrantsAdminToConfiguredEmail(t *testing.T) {
	a := newTestApp(t, store.NewMemoryStore())
	admin, err := a.Register(RegisterInput{Name: "Boss", Email: "ADMIN@x.com", Password: "pw"})
	if err != nil {
		t.Fatalf("register admin: %v", err)
	}
	if !admin.IsAdmin() {
		t.Fatalf("configured admin email should get the admin role")
	}
}

func TestListUsersAdminOnly(t *testing.T) {
	forEachBackend(t, func(t *testing.T, a *App) {
		admin, reader := adminAndReader(t, a)
		if _, err := a.ListUsers(reader); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected unauthorized, got %v", err)
		}
		if _, err := a.ListUsers(Session{}); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected unauthorized for anonymous, got %v", err)
		}
		users, err := a.ListUsers(admin)
		if err != nil {
			t.Fatalf("list users: %v", err)
		}
		if len(users) != 2 || users[0].Email != adminEmail || users[1].Email != readerEmail {
			t.Fatalf("unexpected users: %+v", users)
		}
	})
}

func TestSetAdmin(t *testing.T) {
	forEachBackend(t, func(t *testing.T, a *App) {
		admin, reader := adminAndReader(t, a)

		if _, err := a.SetAdmin(reader, adminEmail, false); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("reader must not change roles, got %v", err)
		}
		if _, err := a.SetAdmin(admin, adminEmail, false); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("admin must not demote themselves, got %v", err)
		}
		if _, err := a.SetAdmin(admin, "ghost@x.com", true); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}

		promoted, err := a.SetAdmin(admin, readerEmail, true)
		if err != nil {
			t.Fatalf("promote: %v", err)
		}
		if !promoted.IsAdmin() {
			t.Fatalf("expected promoted user to be admin")
		}
		// Existing session picks up the new role on the next lookup.
		refreshed, err := a.SessionFromToken(context.Background(), reader.Token)
		if err != nil {
			t.Fatalf("session from token: %v", err)
		}
		if !refreshed.IsAdmin() {
			t.Fatalf("role change not visible through session")
		}
		if _, err := a.CreateChapter(refreshed, "promo", "Promoted", "body"); err != nil {
			t.Fatalf("promoted admin create chapter: %v", err)
		}

		demoted, err := a.SetAdmin(admin, readerEmail, false)
		if err != nil {
			t.Fatalf("demote: %v", err)
		}
		if demoted.IsAdmin() {
			t.Fatalf("expected demoted user")
		}
	})
}

type denyAll struct{ calls int }

func (d *denyAll) Allow(context.Context, string) (bool, error) {
	d.calls++
	return false, nil
}

func TestAuthenticateThrottled(t *testing.T) {
	limiter := &denyAll{}
	a, err := New(Config{Store: store.NewMemoryStore(), LoginLimiter: limiter})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if _, err := a.Register(RegisterInput{Name: "Ada", Email: readerEmail, Password: "pw1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := a.Authenticate(context.Background(), readerEmail, "pw1"); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected throttling, got %v", err)
	}
	if limiter.calls != 1 {
		t.Fatalf("expected limiter to be consulted once, got %d", limiter.calls)
	}
}

func TestAuthenticateRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	a, err := New(Config{
		Store:                   store.NewMemoryStore(),
		RedisAddr:               mr.Addr(),
		LoginRateLimitPerMinute: 2,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	if _, err := a.Register(RegisterInput{Name: "Ada", Email: readerEmail, Password: "pw1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := a.Authenticate(ctx, readerEmail, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected invalid credentials, got %v", i, err)
		}
	}
	if _, err := a.Authenticate(ctx, readerEmail, "pw1"); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected third attempt to be throttled, got %v", err)
	}

	mr.Close()
	if _, err := a.Authenticate(ctx, readerEmail, "pw1"); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected limiter outage to surface as storage unavailable, got %v", err)
	}
}
