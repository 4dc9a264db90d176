package bridge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bloomnetwork/bloombridge/bridge/migrations"
	"github.com/bloomnetwork/bloombridge/db"
	"github.com/bloomnetwork/bloombridge/log"
	"github.com/bloomnetwork/bloombridge/merkle"
	"github.com/bloomnetwork/bloombridge/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

const (
	feeDenominatorBPS = 10000

	// maxLockAmount bounds MaxAmount so the bps fee product amount *
	// fee_rate_bps can never overflow a uint64
	maxLockAmount = math.MaxUint64 / feeDenominatorBPS
)

var (
	ErrAlreadyInitialized          = errors.New("bridge already initialized")
	ErrNotInitialized              = errors.New("bridge not initialized")
	ErrInvalidConfig               = errors.New("invalid bridge parameters")
	ErrUnauthorized                = errors.New("unauthorized")
	ErrAmountOutOfRange            = errors.New("amount out of range")
	ErrTransactionAlreadyProcessed = errors.New("transaction already processed")
	ErrInvalidMerkleProof          = errors.New("invalid merkle proof")
	ErrInsufficientLockedBalance   = errors.New("insufficient locked balance")
)

// Minter is the issuance path used on unlock, satisfied by
// bloomtoken.Controller.
type Minter interface {
	Mint(ctx context.Context, caller, to common.Address, amount uint64, reason string) (uint64, error)
}

// BridgeConfig is the singleton configuration and accounting record of the
// bridge.
type BridgeConfig struct {
	TokenMint           common.Address `meddler:"token_mint,address"`
	MintGuard           common.Address `meddler:"mint_guard,address"`
	Authority           common.Address `meddler:"authority,address"`
	Relayer             common.Address `meddler:"relayer,address"`
	MaxAmount           uint64         `meddler:"max_amount"`
	MinAmount           uint64         `meddler:"min_amount"`
	FeeRateBPS          uint16         `meddler:"fee_rate_bps"`
	TotalLocked         uint64         `meddler:"total_locked"`
	TotalFeesCollected  uint64         `meddler:"total_fees_collected"`
	MerkleRoot          common.Hash    `meddler:"merkle_root,hash"`
	MerkleRootUpdatedAt int64          `meddler:"merkle_root_updated_at"`
}

// UserLockedBalance tracks the net amount a user has in bridge custody.
type UserLockedBalance struct {
	User       common.Address `meddler:"user_address,address"`
	Amount     uint64         `meddler:"amount"`
	LastUpdate int64          `meddler:"last_update"`
}

// LockReceipt is returned by Lock.
type LockReceipt struct {
	TransactionID common.Hash
	NetAmount     uint64
	Fee           uint64
}

// Stats is the read-only view returned by GetStats.
type Stats struct {
	TotalLocked         uint64
	TotalFeesCollected  uint64
	MerkleRoot          common.Hash
	MerkleRootUpdatedAt int64
}

// Bridge owns the locked balance accounting, the fee computation and the
// lock/unlock orchestration. The token movements are delegated to the token
// ledger primitive, signed with the bridge's own scoped credential; issuance
// on unlock goes through the Minter.
type Bridge struct {
	logger *log.Logger
	db     *sql.DB
	token  token.Ledger
	minter Minter
	cred   token.Credential
	replay replayGuard

	// protocol operations are serialized: "verify proof" + "claim replay
	// guard" + "mint" must settle as one indivisible unit per transaction id
	mu  sync.Mutex
	now func() time.Time
}

// New creates a Bridge backed by the sqlite DB at cfg.DBPath. cred is the
// bridge's capability for the token ledger; its identity is also the bridge
// held pool account.
func New(cfg Config, tokenLedger token.Ledger, minter Minter, cred token.Credential) (*Bridge, error) {
	if err := migrations.RunMigrations(cfg.DBPath); err != nil {
		return nil, err
	}
	database, err := db.NewSQLiteDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return &Bridge{
		logger: log.WithFields("component", "bridge"),
		db:     database,
		token:  tokenLedger,
		minter: minter,
		cred:   cred,
		now:    time.Now,
	}, nil
}

// PoolAccount returns the bridge held token account.
func (b *Bridge) PoolAccount() common.Address {
	return b.cred.Identity()
}

// InitParams are the creation parameters of the bridge singleton.
type InitParams struct {
	TokenMint  common.Address
	MintGuard  common.Address
	Authority  common.Address
	Relayer    common.Address
	MaxAmount  uint64
	MinAmount  uint64
	FeeRateBPS uint16
}

// Initialize creates the bridge configuration with zeroed counters and a
// zero merkle root. It fails with ErrAlreadyInitialized on a second call.
func (b *Bridge) Initialize(ctx context.Context, p InitParams) error {
	if p.MinAmount > p.MaxAmount || p.MaxAmount > maxLockAmount || p.FeeRateBPS > feeDenominatorBPS {
		return fmt.Errorf("%w: min %d, max %d, fee %d bps",
			ErrInvalidConfig, p.MinAmount, p.MaxAmount, p.FeeRateBPS)
	}
	zeroRoot := common.Hash{}
	_, err := b.db.Exec(`
		INSERT INTO bridge_config (
			id, token_mint, mint_guard, authority, relayer,
			max_amount, min_amount, fee_rate_bps,
			total_locked, total_fees_collected, merkle_root, merkle_root_updated_at
		) VALUES (1, $1, $2, $3, $4, $5, $6, $7, 0, 0, $8, 0)`,
		p.TokenMint.Hex(), p.MintGuard.Hex(), p.Authority.Hex(), p.Relayer.Hex(),
		p.MaxAmount, p.MinAmount, p.FeeRateBPS, zeroRoot.Hex(),
	)
	if sqliteErr, ok := db.SQLiteErr(err); ok && sqliteErr.ExtendedCode == db.UniqueConstrain {
		return ErrAlreadyInitialized
	}
	if err != nil {
		return err
	}
	b.logger.Infof("bridge initialized: relayer %s, amounts [%d, %d], fee %d bps",
		p.Relayer, p.MinAmount, p.MaxAmount, p.FeeRateBPS)
	return nil
}

// Lock moves amount tokens from the user into bridge custody and credits the
// user's locked balance with the amount net of the bridge fee. It returns the
// deterministic transaction id the external side settles against.
func (b *Bridge) Lock(ctx context.Context, user token.Credential, amount uint64, externalAddress string) (LockReceipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := db.NewTx(ctx, b.db)
	if err != nil {
		return LockReceipt{}, err
	}
	defer func() {
		if err != nil {
			if errRllbck := tx.Rollback(); errRllbck != nil && !errors.Is(errRllbck, sql.ErrTxDone) {
				b.logger.Errorf("error while rolling back tx %v", errRllbck)
			}
		}
	}()

	cfg, err := getConfig(tx)
	if err != nil {
		return LockReceipt{}, err
	}
	if amount < cfg.MinAmount || amount > cfg.MaxAmount {
		err = fmt.Errorf("%w: %d not in [%d, %d]", ErrAmountOutOfRange, amount, cfg.MinAmount, cfg.MaxAmount)
		return LockReceipt{}, err
	}
	// integer division truncates toward zero, rounding always favors the
	// bridge; the product cannot overflow, amount is bounded by MaxAmount
	// which Initialize caps at maxLockAmount
	fee := amount * uint64(cfg.FeeRateBPS) / feeDenominatorBPS
	netAmount := amount - fee
	if err = b.token.Transfer(ctx, cfg.TokenMint, user.Identity(), b.PoolAccount(), user, amount); err != nil {
		return LockReceipt{}, err
	}
	lockedAt := b.now().Unix()
	if _, err = tx.Exec(`
		INSERT INTO user_locked (user_address, amount, last_update) VALUES ($1, $2, $3)
		ON CONFLICT (user_address) DO UPDATE SET amount = amount + $2, last_update = $3`,
		user.Identity().Hex(), netAmount, lockedAt,
	); err != nil {
		return LockReceipt{}, err
	}
	if _, err = tx.Exec(`
		UPDATE bridge_config
		SET total_locked = total_locked + $1, total_fees_collected = total_fees_collected + $2
		WHERE id = 1`, netAmount, fee,
	); err != nil {
		return LockReceipt{}, err
	}
	transactionID := merkle.TransactionID(user.Identity(), amount, externalAddress, lockedAt)
	if err = storeEvent(tx, EventTokensLocked, TokensLocked{
		User:            user.Identity(),
		Amount:          netAmount,
		ExternalAddress: externalAddress,
		TransactionID:   transactionID,
	}, lockedAt); err != nil {
		return LockReceipt{}, err
	}
	if err = tx.Commit(); err != nil {
		return LockReceipt{}, err
	}
	b.logger.Infof("locked %d (net %d, fee %d) from %s for %s, tx id %s",
		amount, netAmount, fee, user.Identity(), externalAddress, transactionID)
	return LockReceipt{
		TransactionID: transactionID,
		NetAmount:     netAmount,
		Fee:           fee,
	}, nil
}

// Unlock issues amount tokens to the user in response to a proven external
// side event. Relayer only. The proof verification and the replay claim
// commit before the mint is invoked: a crash between the two loses a mint
// (repairable by the mint authority) instead of allowing a second issuance
// for the same transaction id. A mint that fails outright releases the
// claim again so the relayer can retry.
func (b *Bridge) Unlock(ctx context.Context, caller, user common.Address, amount uint64, transactionID common.Hash, proof []common.Hash) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := db.NewTx(ctx, b.db)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if errRllbck := tx.Rollback(); errRllbck != nil && !errors.Is(errRllbck, sql.ErrTxDone) {
				b.logger.Errorf("error while rolling back tx %v", errRllbck)
			}
		}
	}()

	cfg, err := getConfig(tx)
	if err != nil {
		return err
	}
	if caller != cfg.Relayer {
		err = fmt.Errorf("%w: %s is not the relayer", ErrUnauthorized, caller)
		return err
	}
	// cap the proof length before any hashing happens
	if len(proof) > merkle.MaxProofDepth {
		err = fmt.Errorf("%w: proof len %d exceeds %d", ErrInvalidMerkleProof, len(proof), merkle.MaxProofDepth)
		return err
	}
	leaf := merkle.Leaf(user, amount, transactionID)
	if !merkle.Verify(leaf, proof, cfg.MerkleRoot) {
		err = fmt.Errorf("%w: root %s", ErrInvalidMerkleProof, cfg.MerkleRoot)
		return err
	}
	processedAt := b.now().Unix()
	alreadyClaimed, err := b.replay.claim(tx, transactionID, processedAt)
	if err != nil {
		return err
	}
	if alreadyClaimed {
		err = fmt.Errorf("%w: %s", ErrTransactionAlreadyProcessed, transactionID)
		return err
	}
	// the claim must be durable before issuance, the mint lives in the
	// controller's own DB and cannot join this tx
	if err = tx.Commit(); err != nil {
		return err
	}
	if _, err = b.minter.Mint(ctx, b.cred.Identity(), user, amount, "bridge unlock"); err != nil {
		// the mint definitively did not happen, release the id for a retry
		if _, errRelease := b.db.Exec(
			`DELETE FROM processed_transaction WHERE transaction_id = $1`, transactionID.Hex(),
		); errRelease != nil {
			b.logger.Errorf("error releasing claim %s after failed mint: %v", transactionID, errRelease)
		}
		return err
	}
	if err = storeEvent(b.db, EventTokensUnlocked, TokensUnlocked{
		User:          user,
		Amount:        amount,
		TransactionID: transactionID,
		MerkleRoot:    cfg.MerkleRoot,
	}, processedAt); err != nil {
		return err
	}
	b.logger.Infof("unlocked %d to %s, tx id %s, root %s", amount, user, transactionID, cfg.MerkleRoot)
	return nil
}

// EmergencyUnlock returns amount tokens from the bridge held pool straight to
// the user, bypassing merkle verification. Authority only; an administrative
// override for stuck or disputed transfers.
func (b *Bridge) EmergencyUnlock(ctx context.Context, caller, user common.Address, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := db.NewTx(ctx, b.db)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if errRllbck := tx.Rollback(); errRllbck != nil && !errors.Is(errRllbck, sql.ErrTxDone) {
				b.logger.Errorf("error while rolling back tx %v", errRllbck)
			}
		}
	}()

	cfg, err := getConfig(tx)
	if err != nil {
		return err
	}
	if caller != cfg.Authority {
		err = fmt.Errorf("%w: %s is not the bridge authority", ErrUnauthorized, caller)
		return err
	}
	var locked uint64
	err = tx.QueryRow(`SELECT amount FROM user_locked WHERE user_address = $1`, user.Hex()).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		locked = 0
	}
	if err != nil {
		return err
	}
	if locked < amount {
		err = fmt.Errorf("%w: locked %d, requested %d", ErrInsufficientLockedBalance, locked, amount)
		return err
	}
	if _, err = tx.Exec(
		`UPDATE user_locked SET amount = amount - $1, last_update = $2 WHERE user_address = $3`,
		amount, b.now().Unix(), user.Hex(),
	); err != nil {
		return err
	}
	if _, err = tx.Exec(
		`UPDATE bridge_config SET total_locked = total_locked - $1 WHERE id = 1`, amount,
	); err != nil {
		return err
	}
	if err = b.token.Transfer(ctx, cfg.TokenMint, b.PoolAccount(), user, b.cred, amount); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	b.logger.Warnf("emergency unlock: %d returned to %s by %s", amount, user, caller)
	return nil
}

// GetStats returns the bridge counters and the current checkpoint. Pure read.
func (b *Bridge) GetStats(ctx context.Context) (Stats, error) {
	cfg, err := getConfig(b.db)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		TotalLocked:         cfg.TotalLocked,
		TotalFeesCollected:  cfg.TotalFeesCollected,
		MerkleRoot:          cfg.MerkleRoot,
		MerkleRootUpdatedAt: cfg.MerkleRootUpdatedAt,
	}, nil
}

// GetLockedBalance returns the locked balance record of a user. Users that
// never locked get a zeroed record.
func (b *Bridge) GetLockedBalance(ctx context.Context, user common.Address) (UserLockedBalance, error) {
	var balance UserLockedBalance
	err := meddler.QueryRow(b.db, &balance, `
		SELECT user_address, amount, last_update FROM user_locked WHERE user_address = $1`,
		user.Hex())
	if errors.Is(err, sql.ErrNoRows) {
		return UserLockedBalance{User: user}, nil
	}
	return balance, err
}

// GetConfig returns the bridge configuration singleton.
func (b *Bridge) GetConfig(ctx context.Context) (BridgeConfig, error) {
	return getConfig(b.db)
}

func getConfig(q db.Querier) (BridgeConfig, error) {
	var cfg BridgeConfig
	err := meddler.QueryRow(q, &cfg, `
		SELECT token_mint, mint_guard, authority, relayer,
			max_amount, min_amount, fee_rate_bps,
			total_locked, total_fees_collected, merkle_root, merkle_root_updated_at
		FROM bridge_config WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return cfg, ErrNotInitialized
	}
	return cfg, err
}
