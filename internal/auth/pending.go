package auth

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rvasek/authbridge/internal/account"
)

// PendingAccount is the OAuth account data stashed while a linking flow is
// in progress. It travels as the payload of the link-account token, keyed
// per token, so concurrent link flows for different users never see each
// other's data.
type PendingAccount struct {
	Provider          Provider   `json:"provider"`
	ProviderAccountID string     `json:"provider_account_id"`
	AccessToken       string     `json:"access_token,omitempty"`
	RefreshToken      string     `json:"refresh_token,omitempty"`
	IDToken           string     `json:"id_token,omitempty"`
	TokenType         string     `json:"token_type,omitempty"`
	Scope             string     `json:"scope,omitempty"`
	TokenExpiresAt    *time.Time `json:"token_expires_at,omitempty"`
}

// Complete reports whether the payload carries the minimum needed to create
// an identity link.
func (p *PendingAccount) Complete() bool {
	return p != nil && p.Provider.Valid() && p.ProviderAccountID != ""
}

// Encode serializes the pending account for storage on a token entry.
func (p *PendingAccount) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode pending account: %w", err)
	}
	return data, nil
}

// DecodePendingAccount deserializes a token payload. An empty payload
// decodes to nil without error; callers check Complete.
func DecodePendingAccount(data []byte) (*PendingAccount, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var p PendingAccount
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode pending account: %w", err)
	}
	return &p, nil
}

// Account materializes the identity link owned by the given user.
func (p *PendingAccount) Account(userID uuid.UUID) *account.Account {
	acct := &account.Account{
		ID:                uuid.New(),
		UserID:            userID,
		Provider:          p.Provider.String(),
		ProviderAccountID: p.ProviderAccountID,
		TokenExpiresAt:    p.TokenExpiresAt,
	}
	acct.AccessToken = optional(p.AccessToken)
	acct.RefreshToken = optional(p.RefreshToken)
	acct.IDToken = optional(p.IDToken)
	acct.TokenType = optional(p.TokenType)
	acct.Scope = optional(p.Scope)
	return acct
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
