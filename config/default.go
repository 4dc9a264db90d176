package config

// DefaultValues is the default configuration
const DefaultValues = `
[Log]
Environment = "development" # "production" or "development"
Level = "info"
Outputs = ["stderr"]

[Token]
DBPath = "/tmp/bloombridge/token.sqlite"
Name = "Bloom"
Symbol = "BLOOM"
Decimals = 9
MintAddr = "0x0000000000000000000000000000000000000000"
Authority = "0x0000000000000000000000000000000000000000"

[Bridge]
DBPath = "/tmp/bloombridge/bridge.sqlite"
TokenMint = "0x0000000000000000000000000000000000000000"
MintGuard = "0x0000000000000000000000000000000000000000"
Authority = "0x0000000000000000000000000000000000000000"
Relayer = "0x0000000000000000000000000000000000000000"
MaxAmount = 1000000000000
MinAmount = 1000000
FeeRateBPS = 30

[Relayer]
DBPath = "/tmp/bloombridge/relayer.sqlite"
Identity = "0x0000000000000000000000000000000000000000"
PollPeriod = "1s"
RetryAfterErrorPeriod = "1s"
MaxRetryAttemptsAfterError = -1
`
