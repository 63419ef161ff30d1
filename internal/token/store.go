package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("token not found or expired")

const (
	// VerificationTTL bounds email verification tokens.
	VerificationTTL = 1 * time.Hour
	// LinkAccountTTL bounds link-account tokens; the linking form must be
	// completed within this window.
	LinkAccountTTL = 10 * time.Minute
)

// Token is a single-use proof bound to an email address. Payload is an
// opaque blob owned by the token entry (empty for verification tokens); for
// link-account tokens it carries the pending OAuth account data.
type Token struct {
	Value     string
	Email     string
	ExpiresAt time.Time
	Payload   []byte
}

// Expired reports whether the token's deadline has passed. Redis TTL handles
// this in practice; the clock check covers lookups racing the expiry sweep.
func (t *Token) Expired() bool {
	return time.Now().After(t.ExpiresAt)
}

// Store issues, looks up, and consumes single-use tokens in Redis. Each
// instance owns one namespace and TTL; the verification and link-account
// stores are two instances of the same contract.
//
// Keys:
//
//	<ns>:<sha256(value)>   HASH {email, expires_at, payload}
//	<ns>:email:<email>     the current live token hash for the email
type Store struct {
	client *redis.Client
	ns     string
	ttl    time.Duration
}

// NewVerificationStore returns the store for email verification tokens.
func NewVerificationStore(client *redis.Client) *Store {
	return &Store{client: client, ns: "verify_token", ttl: VerificationTTL}
}

// NewLinkAccountStore returns the store for link-account tokens.
func NewLinkAccountStore(client *redis.Client) *Store {
	return &Store{client: client, ns: "link_token", ttl: LinkAccountTTL}
}

// TTL returns the lifetime this store stamps on issued tokens.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// issueScript replaces the email's live token in one atomic step: read the
// index, delete the token it points at, write the new token, repoint the
// index. Scripts run serialized in Redis, so two concurrent issues for the
// same email cannot both leave their token live — the later one always
// deletes whatever the index held.
//
// KEYS[1] = email index key, KEYS[2] = new token key
// ARGV[1] = new token hash, ARGV[2] = TTL seconds, ARGV[3] = email,
// ARGV[4] = expires_at unix, ARGV[5] = payload ("" when none),
// ARGV[6] = token key prefix
var issueScript = redis.NewScript(`
local prev = redis.call("GET", KEYS[1])
if prev and prev ~= ARGV[1] then
	redis.call("DEL", ARGV[6] .. prev)
end
redis.call("HSET", KEYS[2], "email", ARGV[3], "expires_at", ARGV[4])
if ARGV[5] ~= "" then
	redis.call("HSET", KEYS[2], "payload", ARGV[5])
end
redis.call("EXPIRE", KEYS[2], ARGV[2])
redis.call("SET", KEYS[1], ARGV[1], "EX", ARGV[2])
return 1
`)

// Issue generates a fresh token for the email and replaces any prior live
// token for the same address.
func (s *Store) Issue(ctx context.Context, email string, payload []byte) (*Token, error) {
	value, err := generateValue()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	tokenHash := hashValue(value)
	expiresAt := time.Now().Add(s.ttl)

	err = issueScript.Run(ctx, s.client,
		[]string{s.emailKey(email), s.tokenKey(tokenHash)},
		tokenHash,
		int(s.ttl.Seconds()),
		email,
		expiresAt.Unix(),
		string(payload),
		s.ns+":",
	).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}

	return &Token{
		Value:     value,
		Email:     email,
		ExpiresAt: expiresAt,
		Payload:   payload,
	}, nil
}

// Lookup retrieves a token by its value. Expired or unknown tokens are
// ErrNotFound; an expired entry that outlived its Redis TTL is deleted on
// sight.
func (s *Store) Lookup(ctx context.Context, value string) (*Token, error) {
	tokenHash := hashValue(value)

	data, err := s.client.HGetAll(ctx, s.tokenKey(tokenHash)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}

	expiresAtUnix, err := strconv.ParseInt(data["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token expiry: %w", err)
	}

	t := &Token{
		Value:     value,
		Email:     data["email"],
		ExpiresAt: time.Unix(expiresAtUnix, 0),
		Payload:   []byte(data["payload"]),
	}

	if t.Expired() {
		// Opportunistic cleanup; best effort.
		_ = s.Consume(ctx, value)
		return nil, ErrNotFound
	}

	return t, nil
}

// Consume deletes the token. The DEL is the single-use serialization point:
// of two concurrent consumers, one observes the delete and the other finds
// nothing on its next lookup. Deleting an absent token is not an error.
func (s *Store) Consume(ctx context.Context, value string) error {
	tokenHash := hashValue(value)

	email, err := s.client.HGet(ctx, s.tokenKey(tokenHash), "email").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to get token for consume: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.tokenKey(tokenHash))
	if email != "" {
		// Only drop the email index if it still points at this token;
		// a newer token for the same email must survive.
		pipe.Eval(ctx, `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) end return 0`,
			[]string{s.emailKey(email)}, tokenHash)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}

	return nil
}

func (s *Store) tokenKey(tokenHash string) string {
	return fmt.Sprintf("%s:%s", s.ns, tokenHash)
}

func (s *Store) emailKey(email string) string {
	return fmt.Sprintf("%s:email:%s", s.ns, email)
}

// generateValue creates a cryptographically secure random token value.
func generateValue() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// hashValue hashes a token value for use as a storage key, so a Redis dump
// never exposes usable tokens.
func hashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
