package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryUsers struct {
	mu    sync.Mutex
	users map[string]goGuard.UserRecord
}

func (m *memoryUsers) GetUserByIdentifier(_ context.Context, id string) (goGuard.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[strings.ToLower(id)]
	if !ok {
		return goGuard.UserRecord{}, goGuard.ErrUserNotFound
	}
	return u, nil
}

func (m *memoryUsers) CreateUser(_ context.Context, nu goGuard.NewUser) (goGuard.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := goGuard.UserRecord{
		ID:           "id-" + nu.Username,
		Username:     nu.Username,
		PasswordHash: nu.PasswordHash,
		Roles:        nu.Roles,
	}
	m.users[strings.ToLower(nu.Username)] = u
	return u, nil
}

func (m *memoryUsers) UpdatePasswordHash(context.Context, string, string) error { return nil }

func (m *memoryUsers) IdentifierExists(_ context.Context, username, _, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.users[strings.ToLower(username)]
	return ok, nil
}

func testConfig() goGuard.Config {
	cfg := goGuard.DefaultConfig()
	cfg.Profile = goGuard.ProfileDev
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Captcha.Provider = "dev"
	cfg.OTP.Channel = "dev"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Audit.Enabled = false
	cfg.Maintenance.SweepSpec = ""
	return cfg
}

func newEngine(t *testing.T, cfg goGuard.Config, rdb *redis.Client) *goGuard.Engine {
	t.Helper()

	log, _ := test.NewNullLogger()
	b := goGuard.New().
		WithConfig(cfg).
		WithUserProvider(&memoryUsers{users: map[string]goGuard.UserRecord{}}).
		WithLogger(log)
	if rdb != nil {
		b.WithRedis(rdb)
	}
	engine, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return engine
}

// echo answers 200 with the subject of the validated principal and the
// body the handler could still read.
func echo() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := ""
		if p, ok := PrincipalFromContext(r.Context()); ok {
			subject = p.Subject
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"subject": subject,
			"body":    string(body),
			"ip":      goGuard.ClientIP(r.Context()),
		})
	})
}

func do(h http.Handler, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestCaptchaStage(t *testing.T) {
	engine := newEngine(t, testConfig(), nil)
	h := New(engine).Handler(echo())

	rec := do(h, http.MethodPost, "/api/v1/auth/login", `{"username":"alice"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "challenge_required", decodeError(t, rec).Code)

	rec = do(h, http.MethodPost, "/api/v1/auth/login",
		`{"username":"alice","captchaToken":"wrong","captchaResponse":"x"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "challenge_invalid", decodeError(t, rec).Code)

	payload := `{"username":"alice","captchaToken":"dev-token","captchaResponse":"x"}`
	rec = do(h, http.MethodPost, "/api/v1/auth/login", payload, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, payload, got["body"], "handler must still see the body")
}

func TestCaptchaSkippedWhenDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Captcha.Enabled = false
	h := New(newEngine(t, cfg, nil)).Handler(echo())

	rec := do(h, http.MethodPost, "/api/v1/auth/login", `{"username":"alice"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPRateStage(t *testing.T) {
	cfg := testConfig()
	cfg.Captcha.Enabled = false
	cfg.RateLimit.IPMax = 2
	h := New(newEngine(t, cfg, nil)).Handler(echo())

	for i := 0; i < 2; i++ {
		rec := do(h, http.MethodGet, "/api/v1/auth/captcha", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(h, http.MethodGet, "/api/v1/auth/captcha", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "ip_rate_limited", decodeError(t, rec).Code)
}

func TestUsernameRateStage(t *testing.T) {
	cfg := testConfig()
	cfg.Captcha.Enabled = false
	cfg.RateLimit.UsernameMax = 1
	h := New(newEngine(t, cfg, nil)).Handler(echo())

	rec := do(h, http.MethodPost, "/api/v1/auth/send-otp", `{"username":"Alice"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Query parameter and body are the same budget once normalized.
	rec = do(h, http.MethodPost, "/api/v1/auth/login?username=alice", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "username_rate_limited", decodeError(t, rec).Code)

	// Routes outside the username list are unaffected.
	rec = do(h, http.MethodPost, "/api/v1/auth/refresh", `{"username":"alice"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPThrottleRunsBeforeCaptcha(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	cfg.Captcha.Provider = "local"
	cfg.RateLimit.IPMax = 1
	engine := newEngine(t, cfg, rdb)
	h := New(engine).Handler(echo())

	ch, err := engine.GenerateCaptcha(context.Background())
	require.NoError(t, err)
	key := cfg.Redis.Prefix + "cap:" + ch.ID
	require.True(t, mr.Exists(key))

	rec := do(h, http.MethodPost, "/api/v1/auth/refresh", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, http.MethodPost, "/api/v1/auth/login",
		`{"username":"alice","captchaToken":"`+ch.ID+`","captchaResponse":"guess"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "ip_rate_limited", decodeError(t, rec).Code)

	assert.True(t, mr.Exists(key), "a throttled request must not consume the captcha")
	assert.Zero(t, engine.MetricsSnapshot().Counters[goGuard.MetricChallengeFailure])
}

func TestCaptchaFailureKeepsUsernameBudget(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.UsernameMax = 1
	h := New(newEngine(t, cfg, nil)).Handler(echo())

	for i := 0; i < 3; i++ {
		rec := do(h, http.MethodPost, "/api/v1/auth/login",
			`{"username":"alice","captchaToken":"wrong","captchaResponse":"x"}`, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "challenge_invalid", decodeError(t, rec).Code)
	}

	valid := `{"username":"alice","captchaToken":"dev-token","captchaResponse":"x"}`
	rec := do(h, http.MethodPost, "/api/v1/auth/login", valid, nil)
	require.Equal(t, http.StatusOK, rec.Code, "captcha failures must not spend the username budget")

	rec = do(h, http.MethodPost, "/api/v1/auth/login", valid, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "username_rate_limited", decodeError(t, rec).Code)
}

func TestAuthRoutesSkipBearerStage(t *testing.T) {
	engine := newEngine(t, testConfig(), nil)
	h := New(engine).Handler(echo())
	garbage := http.Header{"Authorization": {"Bearer not-a-jwt"}}

	rec := do(h, http.MethodPost, "/api/v1/auth/login", `{"username":"alice"}`, garbage)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "challenge_required", decodeError(t, rec).Code)

	rec = do(h, http.MethodPost, "/api/v1/auth/refresh", "", garbage)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Zero(t, engine.MetricsSnapshot().Counters[goGuard.MetricValidateFailure])
}

func TestBearerStage(t *testing.T) {
	cfg := testConfig()
	engine := newEngine(t, cfg, nil)
	h := New(engine, WithAnonymous("/healthz")).Handler(echo())

	res, err := engine.Register(context.Background(), goGuard.RegisterRequest{
		Username: "alice",
		Password: "long-enough-1",
	})
	require.NoError(t, err)

	rec := do(h, http.MethodGet, "/api/v1/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token_invalid", decodeError(t, rec).Code)

	rec = do(h, http.MethodGet, "/api/v1/orders", "", http.Header{"Authorization": {"Bearer " + res.AccessToken}})
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "alice", got["subject"])

	rec = do(h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, engine.Logout(context.Background(), res.AccessToken, res.RefreshToken))
	rec = do(h, http.MethodGet, "/api/v1/orders", "", http.Header{"Authorization": {"Bearer " + res.AccessToken}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token_revoked", decodeError(t, rec).Code)
}

func TestBodyTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.MaxBodyBytes = 16
	h := New(newEngine(t, cfg, nil)).Handler(echo())

	rec := do(h, http.MethodPost, "/api/v1/auth/refresh", strings.Repeat("a", 64), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestPipelineFailsClosed(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	cfg.Captcha.Enabled = false
	h := New(newEngine(t, cfg, rdb)).Handler(echo())

	rec := do(h, http.MethodPost, "/api/v1/auth/login", `{"username":"alice"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	addr := mr.Addr()
	mr.Close()
	rec = do(h, http.MethodPost, "/api/v1/auth/login", `{"username":"alice"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "backend_unavailable", body.Code)
	assert.NotContains(t, body.Message, addr)
}

func TestNilEngineFailsClosed(t *testing.T) {
	h := New(nil).Handler(echo())
	rec := do(h, http.MethodGet, "/anything", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBodyField(t *testing.T) {
	b := &Body{raw: []byte(`{"username":"alice","n":3}`)}
	assert.Equal(t, "alice", b.Field("username"))
	assert.Equal(t, "", b.Field("n"))
	assert.Equal(t, "", b.Field("missing"))

	var nilBody *Body
	assert.Equal(t, "", nilBody.Field("username"))
	assert.True(t, errors.Is(nilBody.Decode(&struct{}{}), io.EOF))

	garbage := &Body{raw: []byte("not json")}
	assert.Equal(t, "", garbage.Field("username"))
}
