package auth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rvasek/authbridge/internal/account"
	"github.com/rvasek/authbridge/internal/logging"
	"github.com/rvasek/authbridge/internal/session"
	"github.com/rvasek/authbridge/internal/token"
	"github.com/rvasek/authbridge/internal/user"
)

func testLogger() *logging.Logger {
	return &logging.Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// fakeUserStore is an in-memory UserStore keyed by lowercased email.
type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]*user.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]*user.User)}
}

func (s *fakeUserStore) add(u *user.User) *user.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.Email = strings.ToLower(u.Email)
	s.users[u.Email] = u
	return u
}

func (s *fakeUserStore) Create(ctx context.Context, params user.NewParams) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(params.Email)
	if _, ok := s.users[email]; ok {
		return nil, user.ErrDuplicateEmail
	}

	role := params.Role
	if role == "" {
		role = user.RoleUser
	}
	u := &user.User{
		ID:            uuid.New(),
		Email:         email,
		Name:          params.Name,
		PasswordHash:  params.PasswordHash,
		Role:          role,
		EmailVerified: params.EmailVerified,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	s.users[email] = u
	return cloneUser(u), nil
}

func (s *fakeUserStore) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[strings.ToLower(email)]
	if !ok {
		return nil, user.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *fakeUserStore) GetByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.ID == id {
			return cloneUser(u), nil
		}
	}
	return nil, user.ErrNotFound
}

func (s *fakeUserStore) MarkEmailVerified(ctx context.Context, userID uuid.UUID, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.ID == userID {
			if u.EmailVerified == nil {
				t := when
				u.EmailVerified = &t
			}
			return nil
		}
	}
	return user.ErrNotFound
}

func cloneUser(u *user.User) *user.User {
	c := *u
	if u.PasswordHash != nil {
		h := *u.PasswordHash
		c.PasswordHash = &h
	}
	if u.EmailVerified != nil {
		t := *u.EmailVerified
		c.EmailVerified = &t
	}
	return &c
}

// fakeAccountStore is an in-memory AccountStore enforcing the same
// uniqueness rules as the accounts table.
type fakeAccountStore struct {
	mu       sync.Mutex
	accounts []*account.Account
	users    *fakeUserStore // for LinkToUser's verification stamp
}

func newFakeAccountStore(users *fakeUserStore) *fakeAccountStore {
	return &fakeAccountStore{users: users}
}

func (s *fakeAccountStore) Create(ctx context.Context, acct *account.Account) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(acct)
}

func (s *fakeAccountStore) insertLocked(acct *account.Account) (*account.Account, error) {
	for _, a := range s.accounts {
		if a.Provider == acct.Provider && a.ProviderAccountID == acct.ProviderAccountID {
			return nil, account.ErrDuplicate
		}
		if a.UserID == acct.UserID && a.Provider == acct.Provider {
			return nil, account.ErrDuplicate
		}
	}
	c := *acct
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now()
	s.accounts = append(s.accounts, &c)
	out := c
	return &out, nil
}

func (s *fakeAccountStore) GetByProvider(ctx context.Context, provider, providerAccountID string) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if a.Provider == provider && a.ProviderAccountID == providerAccountID {
			c := *a
			return &c, nil
		}
	}
	return nil, account.ErrNotFound
}

func (s *fakeAccountStore) GetByUserAndProvider(ctx context.Context, userID uuid.UUID, provider string) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if a.UserID == userID && a.Provider == provider {
			c := *a
			return &c, nil
		}
	}
	return nil, account.ErrNotFound
}

func (s *fakeAccountStore) LinkToUser(ctx context.Context, acct *account.Account, markVerified bool) (*account.Account, error) {
	s.mu.Lock()
	created, err := s.insertLocked(acct)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if markVerified {
		if err := s.users.MarkEmailVerified(ctx, acct.UserID, time.Now()); err != nil {
			return nil, err
		}
	}
	return created, nil
}

// fakeTokenStore mirrors the token.Store contract: one live token per email,
// lookups of expired tokens fail, consume is idempotent.
type fakeTokenStore struct {
	mu         sync.Mutex
	ttl        time.Duration
	seq        int
	tokens     map[string]*token.Token
	emailIndex map[string]string
}

func newFakeTokenStore(ttl time.Duration) *fakeTokenStore {
	return &fakeTokenStore{
		ttl:        ttl,
		tokens:     make(map[string]*token.Token),
		emailIndex: make(map[string]string),
	}
}

func (s *fakeTokenStore) Issue(ctx context.Context, email string, payload []byte) (*token.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.emailIndex[email]; ok {
		delete(s.tokens, prev)
	}

	s.seq++
	t := &token.Token{
		Value:     fmt.Sprintf("token-%d", s.seq),
		Email:     email,
		ExpiresAt: time.Now().Add(s.ttl),
		Payload:   payload,
	}
	s.tokens[t.Value] = t
	s.emailIndex[email] = t.Value
	return t, nil
}

func (s *fakeTokenStore) Lookup(ctx context.Context, value string) (*token.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[value]
	if !ok || t.Expired() {
		return nil, token.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (s *fakeTokenStore) Consume(ctx context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tokens[value]; ok {
		delete(s.tokens, value)
		if s.emailIndex[t.Email] == value {
			delete(s.emailIndex, t.Email)
		}
	}
	return nil
}

func (s *fakeTokenStore) TTL() time.Duration {
	return s.ttl
}

// expire backdates a token so lookups treat it as dead.
func (s *fakeTokenStore) expire(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[value]; ok {
		t.ExpiresAt = time.Now().Add(-time.Minute)
	}
}

// fakeSessionManager is an in-memory SessionManager.
type fakeSessionManager struct {
	mu       sync.Mutex
	seq      int
	maxAge   time.Duration
	sessions map[string]*session.Session
}

func newFakeSessionManager() *fakeSessionManager {
	return &fakeSessionManager{
		maxAge:   session.DefaultMaxAge,
		sessions: make(map[string]*session.Session),
	}
}

func (m *fakeSessionManager) Create(ctx context.Context, userID uuid.UUID) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	sess := &session.Session{
		ID:        uuid.New(),
		Token:     fmt.Sprintf("session-%d", m.seq),
		UserID:    userID,
		ExpiresAt: time.Now().Add(m.maxAge),
		CreatedAt: time.Now(),
	}
	m.sessions[sess.Token] = sess
	c := *sess
	return &c, nil
}

func (m *fakeSessionManager) Lookup(ctx context.Context, tok string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[tok]
	if !ok || time.Now().After(sess.ExpiresAt) {
		return nil, session.ErrNotFound
	}
	c := *sess
	c.Token = ""
	return &c, nil
}

func (m *fakeSessionManager) Refresh(ctx context.Context, tok string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[tok]
	if !ok {
		return false, nil
	}
	sess.ExpiresAt = time.Now().Add(m.maxAge)
	return true, nil
}

func (m *fakeSessionManager) Revoke(ctx context.Context, tok string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, tok)
	return nil
}

type sentEmail struct {
	To    string
	Token string
}

// fakeEmailService records sends on a channel so tests can wait for the
// async send without sleeping.
type fakeEmailService struct {
	sent chan sentEmail
}

func newFakeEmailService() *fakeEmailService {
	return &fakeEmailService{sent: make(chan sentEmail, 8)}
}

func (s *fakeEmailService) SendVerificationEmail(ctx context.Context, toEmail, tok string) error {
	s.sent <- sentEmail{To: toEmail, Token: tok}
	return nil
}

func (s *fakeEmailService) waitForSend(timeout time.Duration) (sentEmail, bool) {
	select {
	case e := <-s.sent:
		return e, true
	case <-time.After(timeout):
		return sentEmail{}, false
	}
}

// fakeRateLimiter lets handler tests flip the limit on and off.
type fakeRateLimiter struct {
	mu       sync.Mutex
	exceeded bool
	recorded int
}

func (l *fakeRateLimiter) CheckIPRateLimitWithPurpose(ctx context.Context, ip, purpose string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.exceeded, nil
}

func (l *fakeRateLimiter) RecordIPRequestWithPurpose(ctx context.Context, ip, purpose string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recorded++
	return nil
}
