package relayer

import (
	"github.com/bloomnetwork/bloombridge/config/types"
	"github.com/ethereum/go-ethereum/common"
)

type Config struct {
	// DBPath path of the DB
	DBPath string `mapstructure:"DBPath"`
	// Identity is the relayer identity, it must match the one configured on the bridge
	Identity common.Address `mapstructure:"Identity"`
	// PollPeriod time between bridge journal polls
	PollPeriod types.Duration `mapstructure:"PollPeriod"`
	// RetryAfterErrorPeriod is the time that will be waited when an unexpected error happens before retry
	RetryAfterErrorPeriod types.Duration `mapstructure:"RetryAfterErrorPeriod"`
	// MaxRetryAttemptsAfterError is the maximum number of consecutive attempts that will happen before panicing.
	// Any number smaller than zero will be considered as unlimited retries
	MaxRetryAttemptsAfterError int `mapstructure:"MaxRetryAttemptsAfterError"`
}
