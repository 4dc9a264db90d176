package bridge

import (
	"github.com/ethereum/go-ethereum/common"
)

type Config struct {
	// DBPath path of the DB
	DBPath string `mapstructure:"DBPath"`
	// TokenMint is the address of the bridged token mint on the token ledger
	TokenMint common.Address `mapstructure:"TokenMint"`
	// MintGuard is the guard reference reported in the bridge configuration
	MintGuard common.Address `mapstructure:"MintGuard"`
	// Authority is the identity allowed to change the bridge parameters
	Authority common.Address `mapstructure:"Authority"`
	// Relayer is the identity allowed to publish merkle roots and submit unlocks
	Relayer common.Address `mapstructure:"Relayer"`
	// MaxAmount is the upper bound of a single lock
	MaxAmount uint64 `mapstructure:"MaxAmount"`
	// MinAmount is the lower bound of a single lock
	MinAmount uint64 `mapstructure:"MinAmount"`
	// FeeRateBPS is the bridge fee in basis points, at most 10000
	FeeRateBPS uint16 `mapstructure:"FeeRateBPS"`
}
