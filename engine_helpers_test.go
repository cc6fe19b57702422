package fingate

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"
)

const testSecret = "k3Jq9vX2mN8pL4tR7wY1zB6cF0hD5gS2"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memUsers struct {
	mu        sync.Mutex
	next      int64
	byID      map[int64]UserRecord
	byIdent   map[string]int64
	updateErr error
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[int64]UserRecord{}, byIdent: map[string]int64{}}
}

func (m *memUsers) GetUserByIdentifier(_ context.Context, identifier string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byIdent[identifier]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return m.byID[id], nil
}

func (m *memUsers) GetUserByID(_ context.Context, userID int64) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return u, nil
}

func (m *memUsers) CreateUser(_ context.Context, input CreateUserInput) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byIdent[input.Identifier]; ok {
		return UserRecord{}, ErrAccountExists
	}
	m.next++
	u := UserRecord{UserID: m.next, Identifier: input.Identifier, PasswordHash: input.PasswordHash, TokenVersion: 1}
	m.byID[u.UserID] = u
	m.byIdent[u.Identifier] = u.UserID
	return u, nil
}

func (m *memUsers) UpdatePassword(_ context.Context, userID int64, newHash string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return UserRecord{}, m.updateErr
	}
	u, ok := m.byID[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	u.PasswordHash = newHash
	u.TokenVersion++
	m.byID[userID] = u
	return u, nil
}

type sentMail struct {
	to, subject, body string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *recordingMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

var codePattern = regexp.MustCompile(`\b\d{6}\b`)

func (m *recordingMailer) lastCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no mail sent")
	}
	code := codePattern.FindString(m.sent[len(m.sent)-1].body)
	if code == "" {
		t.Fatalf("no code in mail body %q", m.sent[len(m.sent)-1].body)
	}
	return code
}

type recordingRegistry struct {
	mu         sync.Mutex
	registered map[string]int64
	revoked    map[string]bool
}

func newRecordingRegistry() *recordingRegistry {
	return &recordingRegistry{registered: map[string]int64{}, revoked: map[string]bool{}}
}

func (r *recordingRegistry) Register(_ context.Context, userID int64, jti string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered[jti] = userID
	return nil
}

func (r *recordingRegistry) Revoke(_ context.Context, jti string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked[jti] = true
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Environment.Name = EnvTest
	cfg.JWT.Secret = []byte(testSecret)
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.ExternalGuard.InitialBackoff = 0
	cfg.ExternalGuard.MaxBackoff = 0
	return cfg
}

type testEnv struct {
	engine   *Engine
	clock    *testClock
	users    *memUsers
	mailer   *recordingMailer
	registry *recordingRegistry
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	env := &testEnv{
		clock:    newTestClock(),
		users:    newMemUsers(),
		mailer:   &recordingMailer{},
		registry: newRecordingRegistry(),
	}
	engine, err := New().
		WithConfig(cfg).
		WithClock(env.clock.Now).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithUserProvider(env.users).
		WithSessionRegistry(env.registry).
		WithMailer(env.mailer).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

func (env *testEnv) register(t *testing.T, identifier, secret string) UserRecord {
	t.Helper()
	u, err := env.engine.Register(context.Background(), identifier, secret)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return u
}

func requestCtx(ip, ua string) context.Context {
	return WithUserAgent(WithClientIP(context.Background(), ip), ua)
}
