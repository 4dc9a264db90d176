package token

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrUnknownMint           = errors.New("unknown mint")
	ErrMintAlreadyRegistered = errors.New("mint already registered")
)

// Credential is a capability scoped signing handle for the token ledger.
// Components hold their own Credential internally and never expose it to
// external callers.
type Credential struct {
	identity common.Address
}

func NewCredential(identity common.Address) Credential {
	return Credential{identity: identity}
}

// Identity returns the address this credential signs as.
func (c Credential) Identity() common.Address {
	return c.identity
}

// Ledger is the token transfer primitive the bridge builds on. Every call is
// atomic: it either fully applies or fails without side effects.
type Ledger interface {
	// MintTo issues amount new units of mint into destination. auth must be
	// the mint authority registered for mint.
	MintTo(ctx context.Context, mint, destination common.Address, auth Credential, amount uint64) error
	// Burn destroys amount units of mint held by source. auth must be the
	// owner of source.
	Burn(ctx context.Context, mint, source common.Address, auth Credential, amount uint64) error
	// Transfer moves amount units of mint between accounts. auth must be the
	// owner of source.
	Transfer(ctx context.Context, mint, source, destination common.Address, auth Credential, amount uint64) error
}
