package domain

import (
	"context"
	"time"
)

// TokenState tracks a confirmation token through its life. The only legal
// transitions are Issued to Redeemed and Issued to Expired; both are
// terminal.
type TokenState string

const (
	TokenIssued   TokenState = "issued"
	TokenRedeemed TokenState = "redeemed"
	TokenExpired  TokenState = "expired"
)

// ConfirmationToken proves a human approved one fingerprinted operation.
// The value carries at least 128 bits of entropy and is single-use.
type ConfirmationToken struct {
	Value       string
	Fingerprint string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	State       TokenState
}

// RedeemResult reports why a redemption failed, or that it succeeded.
type RedeemResult string

const (
	RedeemOK       RedeemResult = "ok"
	RedeemUnknown  RedeemResult = "unknown"
	RedeemExpired  RedeemResult = "expired"
	RedeemConsumed RedeemResult = "consumed"
	RedeemMismatch RedeemResult = "mismatch"
)

// TokenStore holds pending confirmation tokens. Redeem must be atomic per
// token: under concurrent duplicate submissions exactly one caller observes
// RedeemOK and every other caller observes RedeemConsumed.
type TokenStore interface {
	// Issue persists a fresh token in the Issued state.
	Issue(ctx context.Context, token ConfirmationToken) error

	// Redeem transitions the token to Redeemed when it exists, is not
	// expired, has not been consumed, and its fingerprint matches.
	Redeem(ctx context.Context, value, fingerprint string) (RedeemResult, error)

	// Sweep expires tokens whose window has passed and returns the number
	// removed.
	Sweep(ctx context.Context) (int, error)
}
