package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/rvasek/authbridge/internal/account"
	"github.com/rvasek/authbridge/internal/logging"
	"github.com/rvasek/authbridge/internal/session"
	"github.com/rvasek/authbridge/internal/user"
)

// dashboardRedirect is where a completed sign-in lands.
const dashboardRedirect = "/dashboard"

// Service is the top-level decision function over a sign-in attempt. It
// composes the credential verifier, the account linker, the token stores and
// the session manager into allow/deny/redirect outcomes.
type Service struct {
	users        UserStore
	accounts     AccountStore
	verifyTokens TokenStore // verification namespace, 1 hour TTL
	sessions     SessionManager
	emailService EmailService
	verifier     *Verifier
	linker       *Linker
	logger       *logging.Logger
}

func NewService(
	users UserStore,
	accounts AccountStore,
	verifyTokens TokenStore,
	linkTokens TokenStore,
	sessions SessionManager,
	emailService EmailService,
	logger *logging.Logger,
) *Service {
	return &Service{
		users:        users,
		accounts:     accounts,
		verifyTokens: verifyTokens,
		sessions:     sessions,
		emailService: emailService,
		verifier:     NewVerifier(users),
		linker:       NewLinker(linkTokens, users, accounts, logger),
		logger:       logger,
	}
}

// RegisterInput carries a registration form submission.
type RegisterInput struct {
	Name                 string
	Email                string
	Password             string
	PasswordConfirmation string
}

// SignInInput carries one sign-in attempt. Email and Password apply to the
// credentials provider; Assertion applies to OAuth providers.
type SignInInput struct {
	Provider  Provider
	Email     string
	Password  string
	Assertion *ProviderAssertion
}

// ProviderAssertion is a verified identity claim from an OAuth provider.
type ProviderAssertion struct {
	Email             string
	Name              string
	ProviderAccountID string
	Pending           PendingAccount
}

// SignInResult is the discriminated outcome of a sign-in attempt: either a
// session (allow) or a link challenge (suspend and redirect). Exactly one of
// Session and LinkChallenge is set.
type SignInResult struct {
	Session       *session.Session
	LinkChallenge *LinkChallenge
	RedirectTo    string
}

// Register creates a new unverified user and sends the verification email.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*user.User, error) {
	if input.Email == "" {
		return nil, ErrEmailRequired
	}
	if len(input.Email) > 254 {
		return nil, ErrInvalidEmailFormat
	}
	if _, err := mail.ParseAddress(input.Email); err != nil {
		return nil, ErrInvalidEmailFormat
	}
	if input.Password == "" {
		return nil, ErrPasswordRequired
	}
	if len(input.Password) < 8 {
		return nil, ErrPasswordTooShort
	}
	if input.Password != input.PasswordConfirmation {
		return nil, ErrPasswordMismatch
	}

	passwordHash, err := HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	email := strings.ToLower(input.Email)

	// Courtesy pre-check only; the unique constraint on email is the real
	// guard and Create maps its violation to the same error.
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, user.ErrDuplicateEmail
	} else if !errors.Is(err, user.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}

	newUser, err := s.users.Create(ctx, user.NewParams{
		Email:        email,
		Name:         input.Name,
		PasswordHash: &passwordHash,
		Role:         user.RoleUser,
	})
	if err != nil {
		if errors.Is(err, user.ErrDuplicateEmail) {
			return nil, user.ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	verificationToken, err := s.verifyTokens.Issue(ctx, email, nil)
	if err != nil {
		// The account exists; the user can request a resend later.
		s.logger.Error("failed to issue verification token", "email", email, "error", err.Error())
		return newUser, nil
	}

	// Send verification email in a goroutine (non-blocking)
	go func() {
		// Create a new context for the goroutine to avoid cancellation issues
		emailCtx := context.Background()
		if err := s.emailService.SendVerificationEmail(emailCtx, email, verificationToken.Value); err != nil {
			// Log error but don't fail registration
			// User can request a new verification email later
			s.logger.Warn("failed to send verification email", "email", email, "error", err.Error())
		}
	}()

	return newUser, nil
}

// SignIn runs one sign-in attempt, dispatching on the provider tag.
func (s *Service) SignIn(ctx context.Context, input SignInInput) (*SignInResult, error) {
	switch input.Provider {
	case ProviderCredentials:
		return s.signInWithCredentials(ctx, input.Email, input.Password)
	case ProviderGoogle:
		if input.Assertion == nil {
			return nil, ErrUnknownProvider
		}
		return s.signInWithProvider(ctx, ProviderGoogle, input.Assertion)
	default:
		return nil, ErrUnknownProvider
	}
}

func (s *Service) signInWithCredentials(ctx context.Context, email, password string) (*SignInResult, error) {
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	u, err := s.verifier.Verify(ctx, email, password)
	if err != nil {
		return nil, err
	}

	sess, err := s.sessions.Create(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info("user signed in", "user_id", u.ID, "provider", ProviderCredentials)

	return &SignInResult{Session: sess, RedirectTo: dashboardRedirect}, nil
}

// signInWithProvider handles an OAuth identity assertion. Re-login through a
// known identity link wins over everything else; a collision with an
// unlinked user suspends the flow into the linker.
func (s *Service) signInWithProvider(ctx context.Context, provider Provider, assertion *ProviderAssertion) (*SignInResult, error) {
	if assertion.Email == "" || assertion.ProviderAccountID == "" {
		return nil, ErrLinkMissingAccountData
	}

	email := strings.ToLower(assertion.Email)

	// Known identity link: ordinary re-login, regardless of what the
	// provider currently claims as the primary email.
	if acct, err := s.accounts.GetByProvider(ctx, provider.String(), assertion.ProviderAccountID); err == nil {
		sess, err := s.sessions.Create(ctx, acct.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		s.logger.Info("user signed in", "user_id", acct.UserID, "provider", provider)
		return &SignInResult{Session: sess, RedirectTo: dashboardRedirect}, nil
	} else if !errors.Is(err, account.ErrNotFound) {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, user.ErrNotFound) {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	pending := assertion.Pending
	pending.Provider = provider
	pending.ProviderAccountID = assertion.ProviderAccountID

	if existing == nil {
		return s.createProviderUser(ctx, provider, email, assertion.Name, &pending)
	}

	// Collision: the email belongs to a user who has no identity link for
	// this provider. Never attach silently; make the user prove ownership.
	challenge, err := s.linker.Begin(ctx, email, &pending)
	if err != nil {
		return nil, err
	}

	return &SignInResult{LinkChallenge: challenge, RedirectTo: challenge.RedirectTo}, nil
}

// createProviderUser provisions a brand-new user from an OAuth assertion.
// The provider already confirmed the mailbox, so the user starts verified.
func (s *Service) createProviderUser(ctx context.Context, provider Provider, email, name string, pending *PendingAccount) (*SignInResult, error) {
	now := time.Now()
	newUser, err := s.users.Create(ctx, user.NewParams{
		Email:         email,
		Name:          name,
		Role:          user.RoleUser,
		EmailVerified: &now,
	})
	if err != nil {
		if errors.Is(err, user.ErrDuplicateEmail) {
			// Lost a race with a concurrent callback for the same email;
			// restart the decision from the now-existing user.
			return s.signInWithProvider(ctx, provider, &ProviderAssertion{
				Email:             email,
				Name:              name,
				ProviderAccountID: pending.ProviderAccountID,
				Pending:           *pending,
			})
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if _, err := s.accounts.Create(ctx, pending.Account(newUser.ID)); err != nil {
		if !errors.Is(err, account.ErrDuplicate) {
			return nil, fmt.Errorf("failed to create identity link: %w", err)
		}
	}

	sess, err := s.sessions.Create(ctx, newUser.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info("new user created from provider sign-in",
		"user_id", newUser.ID,
		"provider", provider,
	)

	return &SignInResult{Session: sess, RedirectTo: dashboardRedirect}, nil
}

// CompleteLink finishes a pending account-linking flow.
func (s *Service) CompleteLink(ctx context.Context, email, password, tokenValue string) (*LinkResult, error) {
	return s.linker.Complete(ctx, email, password, tokenValue)
}

// VerifyEmail marks the token's user as verified and consumes the token.
func (s *Service) VerifyEmail(ctx context.Context, tokenValue string) error {
	t, err := s.verifyTokens.Lookup(ctx, tokenValue)
	if err != nil {
		if isTokenNotFound(err) {
			return ErrVerificationTokenInvalid
		}
		return fmt.Errorf("failed to look up verification token: %w", err)
	}

	u, err := s.users.GetByEmail(ctx, t.Email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return ErrVerificationTokenInvalid
		}
		return fmt.Errorf("failed to get user: %w", err)
	}

	if err := s.users.MarkEmailVerified(ctx, u.ID, time.Now()); err != nil {
		return fmt.Errorf("failed to verify email: %w", err)
	}

	if err := s.verifyTokens.Consume(ctx, tokenValue); err != nil {
		s.logger.Warn("failed to consume verification token", "error", err.Error())
	}

	s.logger.Info("email verified", "user_id", u.ID)

	return nil
}

// ResendVerificationEmail sends a new verification email to the user
// Always returns nil to prevent email enumeration attacks
func (s *Service) ResendVerificationEmail(ctx context.Context, email string) error {
	email = strings.ToLower(email)

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		// Don't reveal if user exists
		if errors.Is(err, user.ErrNotFound) {
			return nil
		}
		// Log error but return nil to prevent enumeration
		s.logger.Warn("failed to get user for resend verification", "error", err.Error())
		return nil
	}

	// Don't reveal that email is already verified
	if u.IsVerified() {
		return nil
	}

	t, err := s.verifyTokens.Issue(ctx, email, nil)
	if err != nil {
		s.logger.Warn("failed to issue verification token", "error", err.Error())
		return nil
	}

	// Send verification email in goroutine (non-blocking)
	go func() {
		emailCtx := context.Background()
		if err := s.emailService.SendVerificationEmail(emailCtx, email, t.Value); err != nil {
			s.logger.Warn("failed to resend verification email", "email", email, "error", err.Error())
		}
	}()

	return nil
}

// SignOut revokes the session; unknown tokens are a no-op.
func (s *Service) SignOut(ctx context.Context, sessionToken string) error {
	return s.sessions.Revoke(ctx, sessionToken)
}
