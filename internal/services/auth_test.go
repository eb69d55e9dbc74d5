package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/medreq/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

func newTestSessionManager() (*SessionManager, *fakeUserRepo) {
	repo := newFakeUserRepo()
	return NewSessionManager(repo, WithHashCost(bcrypt.MinCost)), repo
}

func TestRegisterNormalizesAndHashes(t *testing.T) {
	sm, repo := newTestSessionManager()

	user, err := sm.Register(context.Background(), "  Alice@Example.COM ", "pw", types.RoleCommonUser)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}
	if user.PasswordHash == "" || user.PasswordHash == "pw" {
		t.Fatalf("password stored in plaintext")
	}
	if NewSession(user).ID() != user.ID {
		t.Fatalf("session id should equal user id")
	}
	if repo.count() != 1 {
		t.Fatalf("expected one row, got %d", repo.count())
	}
}

func TestRegisterDuplicateEmailIsCaseInsensitive(t *testing.T) {
	sm, repo := newTestSessionManager()
	ctx := context.Background()

	if _, err := sm.Register(ctx, "bob@x.com", "pw", types.RoleCommonUser); err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, email := range []string{"bob@x.com", "BOB@X.COM", " Bob@x.com"} {
		if _, err := sm.Register(ctx, email, "other", types.RoleCommonUser); !errors.Is(err, ErrDuplicateEmail) {
			t.Fatalf("%q: expected ErrDuplicateEmail, got %v", email, err)
		}
	}
	if repo.count() != 1 {
		t.Fatalf("duplicate registration created rows: %d", repo.count())
	}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	sm, _ := newTestSessionManager()
	ctx := context.Background()

	tests := []struct {
		name     string
		email    string
		password string
		role     types.Role
		want     error
	}{
		{name: "missing email", email: " ", password: "pw", want: ErrMissingCredentials},
		{name: "missing password", email: "a@x.com", want: ErrMissingCredentials},
		{name: "unknown role", email: "a@x.com", password: "pw", role: "admin", want: ErrInvalidRole},
		{name: "password over 72 bytes", email: "a@x.com", password: strings.Repeat("p", 73), want: ErrPasswordTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := sm.Register(ctx, tt.email, tt.password, tt.role); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRegisterAcceptsLongestPassword(t *testing.T) {
	sm, _ := newTestSessionManager()
	ctx := context.Background()
	password := strings.Repeat("p", 72)

	if _, err := sm.Register(ctx, "long@x.com", password, types.RoleCommonUser); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := sm.Login(ctx, "long@x.com", password); err != nil {
		t.Fatalf("login: %v", err)
	}
}

func TestRegisterDefaultsToCommonUser(t *testing.T) {
	sm, _ := newTestSessionManager()

	user, err := sm.Register(context.Background(), "c@x.com", "pw", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Role != types.RoleCommonUser {
		t.Fatalf("unexpected role: %q", user.Role)
	}
}

func TestSingleManagerScenario(t *testing.T) {
	sm, _ := newTestSessionManager()
	ctx := context.Background()

	a, err := sm.Register(ctx, "mgr@x.com", "pw1", types.RoleManager)
	if err != nil {
		t.Fatalf("register manager A: %v", err)
	}
	if _, err := sm.Register(ctx, "mgr2@x.com", "pw2", types.RoleManager); !errors.Is(err, ErrManagerAlreadyExists) {
		t.Fatalf("expected ErrManagerAlreadyExists, got %v", err)
	}

	logged, err := sm.Login(ctx, "mgr@x.com", "pw1")
	if err != nil {
		t.Fatalf("login A: %v", err)
	}
	if !logged.IsManager() {
		t.Fatalf("expected A to be manager")
	}
	if logged.ID != a.ID {
		t.Fatalf("unexpected user id: %d", logged.ID)
	}
}

func TestConcurrentManagerRegistrations(t *testing.T) {
	sm, repo := newTestSessionManager()
	ctx := context.Background()

	const attempts = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := sm.Register(ctx, fmt.Sprintf("mgr%d@x.com", i), "pw", types.RoleManager)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrManagerAlreadyExists) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one manager registration to succeed, got %d", successes)
	}
	if repo.managers() != 1 {
		t.Fatalf("expected one manager row, got %d", repo.managers())
	}
}

func TestLogin(t *testing.T) {
	sm, _ := newTestSessionManager()
	ctx := context.Background()

	registered, err := sm.Register(ctx, "dana@x.com", "correct", types.RoleCommonUser)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := sm.Login(ctx, "dana@x.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := sm.Login(ctx, "nobody@x.com", "correct"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: expected ErrInvalidCredentials, got %v", err)
	}

	user, err := sm.Login(ctx, "DANA@x.com", "correct")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if NewSession(user).ID() != registered.ID {
		t.Fatalf("session id %d does not match stored id %d", user.ID, registered.ID)
	}
}

func TestResolveRoundTrip(t *testing.T) {
	sm, _ := newTestSessionManager()
	ctx := context.Background()

	if _, err := sm.Register(ctx, "eve@x.com", "pw", types.RoleManager); err != nil {
		t.Fatalf("register: %v", err)
	}
	logged, err := sm.Login(ctx, "eve@x.com", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	resolved, ok, err := sm.Resolve(ctx, NewSession(logged).ID())
	if err != nil || !ok {
		t.Fatalf("resolve: ok=%v err=%v", ok, err)
	}
	if resolved.ID != logged.ID || resolved.Email != logged.Email || resolved.Role != logged.Role {
		t.Fatalf("resolved %+v, want %+v", resolved, logged)
	}
}

func TestResolveUnknownSession(t *testing.T) {
	sm, _ := newTestSessionManager()

	for _, id := range []int{0, -1, 999} {
		_, ok, err := sm.Resolve(context.Background(), id)
		if err != nil {
			t.Fatalf("resolve %d: %v", id, err)
		}
		if ok {
			t.Fatalf("session %d should not resolve", id)
		}
	}
}

func TestLogoutClearsSession(t *testing.T) {
	sm, _ := newTestSessionManager()
	session := Session{UserID: 4}

	sm.Logout(&session)
	if session.Valid() {
		t.Fatalf("expected cleared session, got %+v", session)
	}
	sm.Logout(nil)
}
