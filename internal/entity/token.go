package entity

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/voltalisd/internal/voltalis"
)

// Token lifetime bounds in days.
const (
	TokenLifetimeMin = 1
	TokenLifetimeMax = 999
)

// RevokeTokenButton drops the current token locally without calling the vendor.
type RevokeTokenButton struct {
	client SessionClient
}

func NewRevokeTokenButton(client SessionClient) *RevokeTokenButton {
	return &RevokeTokenButton{client: client}
}

func (b *RevokeTokenButton) ID() string         { return "revoke_token" }
func (b *RevokeTokenButton) Name() string       { return "Revoke token" }
func (b *RevokeTokenButton) Kind() Kind         { return KindButton }
func (b *RevokeTokenButton) Device() DeviceInfo { return tokenDevice }

func (b *RevokeTokenButton) State() State {
	return State{
		Available:  true,
		Attributes: sessionAttributes(b.client.Session()),
	}
}

// HandleAction revokes the token.
func (b *RevokeTokenButton) HandleAction(ctx context.Context, _ string) error {
	b.client.Revoke()
	log.Info().Msg("Token revoked by user")
	return nil
}

// TokenLifetimeNumber sets the maximum token age in days.
type TokenLifetimeNumber struct {
	client SessionClient
}

func NewTokenLifetimeNumber(client SessionClient) *TokenLifetimeNumber {
	return &TokenLifetimeNumber{client: client}
}

func (n *TokenLifetimeNumber) ID() string         { return "token_lifetime" }
func (n *TokenLifetimeNumber) Name() string       { return "Token lifetime" }
func (n *TokenLifetimeNumber) Kind() Kind         { return KindNumber }
func (n *TokenLifetimeNumber) Device() DeviceInfo { return tokenDevice }

// State reports the configured lifetime, falling back to the default when unset.
func (n *TokenLifetimeNumber) State() State {
	value := voltalis.DefaultTokenLifetimeDays
	if days := n.client.TokenLifetime(); days != nil {
		value = *days
	}
	return State{
		Value:     value,
		Available: true,
		Attributes: map[string]any{
			"min":  TokenLifetimeMin,
			"max":  TokenLifetimeMax,
			"step": 1,
			"unit": "days",
		},
	}
}

// HandleAction accepts a whole number of days, "7" or "7.0".
func (n *TokenLifetimeNumber) HandleAction(ctx context.Context, value string) error {
	days, err := ParseDays(value)
	if err != nil {
		return err
	}
	if err := n.client.SetTokenLifetime(&days); err != nil {
		return err
	}
	log.Info().Int("days", days).Msg("Token lifetime updated")
	return nil
}

// ParseDays parses a token lifetime within the allowed range.
func ParseDays(value string) (int, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, value)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %q is not a whole number of days", ErrInvalidValue, value)
	}
	if f < TokenLifetimeMin || f > TokenLifetimeMax {
		return 0, fmt.Errorf("%w: %v out of range [%d, %d]", ErrInvalidValue, f, TokenLifetimeMin, TokenLifetimeMax)
	}
	return int(f), nil
}

func sessionAttributes(s voltalis.SessionInfo) map[string]any {
	attrs := map[string]any{"authenticated": s.Authenticated}
	if !s.TokenCreatedAt.IsZero() {
		attrs["token_created_at"] = s.TokenCreatedAt
	}
	return attrs
}
