package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	authcore "github.com/arkadore/authcore"
)

type memoryProvider struct {
	mu     sync.Mutex
	nextID int64
	byMail map[string]*authcore.Identity
}

func newMemoryProvider() *memoryProvider {
	return &memoryProvider{byMail: map[string]*authcore.Identity{}}
}

func (p *memoryProvider) GetByEmail(_ context.Context, email string) (*authcore.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if identity, ok := p.byMail[email]; ok {
		clone := *identity
		return &clone, nil
	}
	return nil, nil
}

func (p *memoryProvider) GetByID(_ context.Context, id int64) (*authcore.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, identity := range p.byMail {
		if identity.ID == id {
			clone := *identity
			return &clone, nil
		}
	}
	return nil, nil
}

func (p *memoryProvider) Create(_ context.Context, identity *authcore.Identity) (*authcore.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	clone := *identity
	clone.ID = p.nextID
	p.byMail[identity.Email] = &clone
	out := clone
	return &out, nil
}

type nopMailer struct{}

func (nopMailer) SendCode(context.Context, string, string) error { return nil }

func newGuardEngine(t *testing.T) *authcore.Engine {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := authcore.DefaultConfig()
	cfg.JWT.Secret = []byte("0123456789abcdef0123456789abcdef")
	cfg.Account.AdminEmail = "root@x.com"

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithIdentityProvider(newMemoryProvider()).
		WithMailer(nopMailer{}).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func deviceHeaders(ua string) http.Header {
	h := http.Header{}
	h.Set("sec-ch-ua", `"Chromium";v="120"`)
	h.Set("user-agent", ua)
	h.Set("accept-language", "en-US")
	return h
}

func register(t *testing.T, engine *authcore.Engine, email, ua string) *authcore.AuthResult {
	t.Helper()
	res, err := engine.Register(context.Background(), authcore.RegisterRequest{
		Email:    email,
		Password: "hunter2!",
		Headers:  deviceHeaders(ua),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return res
}

func protectedHandler(t *testing.T, sawResult *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := AuthResultFromContext(r.Context()); !ok {
			t.Error("guard passed without storing the auth result")
		}
		*sawResult = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAccessAllowsValidToken(t *testing.T) {
	engine := newGuardEngine(t)
	res := register(t, engine, "alice@x.com", "ua-one")

	var sawResult bool
	handler := RequireAccess(engine)(protectedHandler(t, &sawResult))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header = deviceHeaders("ua-one")
	req.Header.Set("Authorization", "Bearer "+res.Tokens.AccessToken)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || !sawResult {
		t.Fatalf("status %d, saw result %v", rec.Code, sawResult)
	}
}

func TestRequireAccessRejectsMissingAndGarbageTokens(t *testing.T) {
	engine := newGuardEngine(t)

	handler := RequireAccess(engine)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler must not run")
	}))

	for _, auth := range []string{"", "Bearer ", "Bearer garbage", "Basic abc"} {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header = deviceHeaders("ua-one")
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("auth %q: status %d, want 401", auth, rec.Code)
		}
	}
}

func TestRequireAccessRejectsForeignDevice(t *testing.T) {
	engine := newGuardEngine(t)
	res := register(t, engine, "alice@x.com", "ua-one")

	handler := RequireAccess(engine)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler must not run")
	}))

	// Valid token replayed from a device with different headers.
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header = deviceHeaders("ua-other")
	req.Header.Set("Authorization", "Bearer "+res.Tokens.AccessToken)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}
}

func TestRequireRefreshHappyPath(t *testing.T) {
	engine := newGuardEngine(t)
	res := register(t, engine, "alice@x.com", "ua-one")

	var sawResult bool
	handler := RequireRefresh(engine)(protectedHandler(t, &sawResult))

	req := httptest.NewRequest(http.MethodPost, "/refresh", nil)
	req.Header = deviceHeaders("ua-one")
	req.AddCookie(&http.Cookie{Name: engine.CookieConfig().Name, Value: res.Tokens.RefreshToken})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !sawResult {
		t.Fatalf("status %d, saw result %v", rec.Code, sawResult)
	}
}

func TestRequireRefreshMismatchBurnsSession(t *testing.T) {
	engine := newGuardEngine(t)
	res := register(t, engine, "alice@x.com", "ua-one")

	handler := RequireRefresh(engine)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/refresh", nil)
	req.Header = deviceHeaders("ua-other")
	req.AddCookie(&http.Cookie{Name: engine.CookieConfig().Name, Value: res.Tokens.RefreshToken})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}

	// The stolen-token session is gone; the legitimate device is locked
	// out of refresh too and must log in again.
	if _, err := engine.ValidateRefresh(context.Background(), res.Tokens.RefreshToken, deviceHeaders("ua-one")); err == nil {
		t.Fatal("session must be deleted after a fingerprint mismatch")
	}
}

func TestRequireAdmin(t *testing.T) {
	engine := newGuardEngine(t)
	user := register(t, engine, "user@x.com", "ua-one")
	admin := register(t, engine, "root@x.com", "ua-one")

	var reached bool
	handler := RequireAdmin(engine)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+user.Tokens.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden || reached {
		t.Fatalf("plain user: status %d, reached %v", rec.Code, reached)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+admin.Tokens.AccessToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !reached {
		t.Fatalf("admin: status %d, reached %v", rec.Code, reached)
	}
}

func TestAnonymousKeyCookieRoundTrip(t *testing.T) {
	engine := newGuardEngine(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/otp", nil)
	key := AnonymousKey(rec, req, engine)
	if key == "" {
		t.Fatal("expected a minted key")
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != engine.CookieConfig().AnonKeyName {
		t.Fatalf("cookies %+v", cookies)
	}

	// A request presenting the cookie keeps its key and gets no new cookie.
	req = httptest.NewRequest(http.MethodGet, "/otp", nil)
	req.AddCookie(&http.Cookie{Name: engine.CookieConfig().AnonKeyName, Value: key})
	rec = httptest.NewRecorder()
	if got := AnonymousKey(rec, req, engine); got != key {
		t.Fatalf("key %q, want %q", got, key)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatal("existing key must not be reissued")
	}
}
