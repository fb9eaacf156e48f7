package goGuard

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/internal/clock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type mockUserProvider struct {
	mu     sync.Mutex
	users  map[string]UserRecord
	nextID int

	getErr      error
	updateCalls int
}

func newMockUserProvider() *mockUserProvider {
	return &mockUserProvider{users: map[string]UserRecord{}}
}

func (m *mockUserProvider) GetUserByIdentifier(_ context.Context, identifier string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return UserRecord{}, m.getErr
	}
	id := strings.ToLower(strings.TrimSpace(identifier))
	for _, u := range m.users {
		if strings.ToLower(u.Username) == id ||
			(u.Email != "" && strings.ToLower(u.Email) == id) ||
			(u.Mobile != "" && u.Mobile == id) {
			return u, nil
		}
	}
	return UserRecord{}, ErrUserNotFound
}

func (m *mockUserProvider) CreateUser(_ context.Context, nu NewUser) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	u := UserRecord{
		ID:           "u" + strconv.Itoa(m.nextID),
		Username:     nu.Username,
		Email:        nu.Email,
		Mobile:       nu.Mobile,
		PasswordHash: nu.PasswordHash,
		Roles:        nu.Roles,
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *mockUserProvider) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	m.users[userID] = u
	m.updateCalls++
	return nil
}

func (m *mockUserProvider) IdentifierExists(_ context.Context, username, email, mobile string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if strings.EqualFold(u.Username, username) ||
			(email != "" && strings.EqualFold(u.Email, email)) ||
			(mobile != "" && u.Mobile == mobile) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockUserProvider) put(u UserRecord) {
	m.mu.Lock()
	m.users[u.ID] = u
	m.mu.Unlock()
}

func (m *mockUserProvider) remove(id string) {
	m.mu.Lock()
	delete(m.users, id)
	m.mu.Unlock()
}

func (m *mockUserProvider) get(id string) UserRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id]
}

// outbox records delivered one-time codes by destination.
type outbox struct {
	mu    sync.Mutex
	codes map[string][]string
}

func (o *outbox) Send(_ context.Context, destination, code string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.codes == nil {
		o.codes = map[string][]string{}
	}
	o.codes[destination] = append(o.codes[destination], code)
	return nil
}

func (o *outbox) last(destination string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	c := o.codes[destination]
	if len(c) == 0 {
		return ""
	}
	return c[len(c)-1]
}

func (o *outbox) count(destination string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.codes[destination])
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Profile = ProfileDev
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = testSecret
	cfg.Captcha.Provider = "dev"
	cfg.OTP.Channel = "dev"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Audit.Enabled = false
	cfg.Maintenance.SweepSpec = ""
	return cfg
}

type testEngine struct {
	*Engine
	users *mockUserProvider
	clock *clock.Manual
	sent  *outbox
}

type engineOption func(*Builder)

func withRedis(rdb *redis.Client) engineOption {
	return func(b *Builder) { b.WithRedis(rdb) }
}

func withAuditSink(sink AuditSink) engineOption {
	return func(b *Builder) { b.WithAuditSink(sink) }
}

func newTestEngine(t testing.TB, cfg Config, opts ...engineOption) *testEngine {
	t.Helper()

	users := newMockUserProvider()
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	sent := &outbox{}
	log, _ := test.NewNullLogger()

	b := New().
		WithConfig(cfg).
		WithUserProvider(users).
		WithOTPSender(sent).
		WithLogger(log).
		WithClock(clk.Now)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEngine{Engine: engine, users: users, clock: clk, sent: sent}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

// seed stores a user whose password is hashed by the engine's hasher.
func (te *testEngine) seed(t testing.TB, username, plain string) UserRecord {
	t.Helper()

	hash, err := te.hasher.Hash(plain)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := UserRecord{
		ID:           "id-" + username,
		Username:     username,
		Email:        username + "@example.com",
		Mobile:       "+1-" + username,
		PasswordHash: hash,
		Roles:        []string{"ROLE_USER"},
	}
	te.users.put(u)
	return u
}

func ipContext(ip string) context.Context {
	return WithClientIP(context.Background(), ip)
}
