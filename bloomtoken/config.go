package bloomtoken

import (
	"github.com/ethereum/go-ethereum/common"
)

type Config struct {
	// DBPath path of the DB
	DBPath string `mapstructure:"DBPath"`
	// Name of the token
	Name string `mapstructure:"Name"`
	// Symbol of the token
	Symbol string `mapstructure:"Symbol"`
	// Decimals of the token
	Decimals uint8 `mapstructure:"Decimals"`
	// MintAddr is the address identifying the token mint on the token ledger
	MintAddr common.Address `mapstructure:"MintAddr"`
	// Authority is the identity allowed to mint and to change the guard/feed references
	Authority common.Address `mapstructure:"Authority"`
}
