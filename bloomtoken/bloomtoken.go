package bloomtoken

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bloomnetwork/bloombridge/bloomtoken/migrations"
	"github.com/bloomnetwork/bloombridge/db"
	"github.com/bloomnetwork/bloombridge/log"
	"github.com/bloomnetwork/bloombridge/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

// Peg constants: 10 BLOOM = 1 BTC.
const (
	SatsPerBTC   uint64 = 100_000_000
	BTCPerBloom  uint64 = 10
	SatsPerBloom        = SatsPerBTC / BTCPerBloom
)

var (
	ErrAlreadyInitialized  = errors.New("mint ledger already initialized")
	ErrNotInitialized      = errors.New("mint ledger not initialized")
	ErrUnauthorized        = errors.New("unauthorized mint authority")
	ErrPegViolation        = errors.New("mint would break peg")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// MintGuard is the external authorization check consulted before increasing
// supply. Authorize reports whether the requested amount may be minted.
type MintGuard interface {
	Authorize(ctx context.Context, amount uint64) (bool, error)
}

// MintLedger is the singleton supply accounting record of the bloom token.
// total_supply == total_minted - total_burned holds after every operation.
type MintLedger struct {
	Name          string         `meddler:"name"`
	Symbol        string         `meddler:"symbol"`
	Decimals      uint8          `meddler:"decimals"`
	TotalSupply   uint64         `meddler:"total_supply"`
	TotalMinted   uint64         `meddler:"total_minted"`
	TotalBurned   uint64         `meddler:"total_burned"`
	MintAuthority common.Address `meddler:"mint_authority,address"`
	MintGuard     common.Address `meddler:"mint_guard,address"`
	ReserveFeed   common.Address `meddler:"reserve_feed,address"`
}

// PegInfo describes the fixed exchange ratio enforced at mint time.
type PegInfo struct {
	BloomPerBTC  uint64
	SatsPerBloom uint64
	PegStatement string
}

// Controller owns mint and burn of the bloom token. Minting is gated by the
// configured mint guard; the token movement itself is delegated to the
// external token ledger primitive.
type Controller struct {
	logger *log.Logger
	db     *sql.DB
	mint   common.Address
	ledger token.Ledger
	cred   token.Credential
	guard  MintGuard

	// serializes mint/burn against the supply counters, the guard check and
	// the ledger call must not interleave for overlapping operations
	mu  sync.Mutex
	now func() time.Time
}

// New creates a Controller backed by the sqlite DB at cfg.DBPath. guard may
// be nil, in which case a configured guard reference cannot be enforced and
// minting is refused while one is set.
func New(cfg Config, ledger token.Ledger, cred token.Credential, guard MintGuard) (*Controller, error) {
	if err := migrations.RunMigrations(cfg.DBPath); err != nil {
		return nil, err
	}
	database, err := db.NewSQLiteDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return &Controller{
		logger: log.WithFields("component", "bloomtoken"),
		db:     database,
		mint:   cfg.MintAddr,
		ledger: ledger,
		cred:   cred,
		guard:  guard,
		now:    time.Now,
	}, nil
}

// Initialize creates the mint ledger with zeroed counters. It fails with
// ErrAlreadyInitialized on a second call.
func (c *Controller) Initialize(ctx context.Context, name, symbol string, decimals uint8, authority common.Address) error {
	zero := common.Address{}
	_, err := c.db.Exec(`
		INSERT INTO mint_ledger (
			id, name, symbol, decimals, total_supply, total_minted, total_burned,
			mint_authority, mint_guard, reserve_feed
		) VALUES (1, $1, $2, $3, 0, 0, 0, $4, $5, $5)`,
		name, symbol, decimals, authority.Hex(), zero.Hex(),
	)
	if sqliteErr, ok := db.SQLiteErr(err); ok && sqliteErr.ExtendedCode == db.UniqueConstrain {
		return ErrAlreadyInitialized
	}
	if err != nil {
		return err
	}
	c.logger.Infof("bloom token mint initialized: %s (%s), decimals %d, authority %s",
		name, symbol, decimals, authority)
	return nil
}

// SetMintGuard replaces the mint guard reference. Authority only.
func (c *Controller) SetMintGuard(ctx context.Context, caller, guardRef common.Address) error {
	return c.setRef(ctx, caller, "mint_guard", guardRef, EventMintGuardUpdated)
}

// SetReserveFeed replaces the reserve feed reference. Authority only.
func (c *Controller) SetReserveFeed(ctx context.Context, caller, feedRef common.Address) error {
	return c.setRef(ctx, caller, "reserve_feed", feedRef, EventReserveFeedUpdated)
}

func (c *Controller) setRef(ctx context.Context, caller common.Address, column string, newRef common.Address, eventType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := db.NewTx(ctx, c.db)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if errRllbck := tx.Rollback(); errRllbck != nil && !errors.Is(errRllbck, sql.ErrTxDone) {
				c.logger.Errorf("error while rolling back tx %v", errRllbck)
			}
		}
	}()

	ledger, err := getMintLedger(tx)
	if err != nil {
		return err
	}
	if ledger.MintAuthority != caller {
		err = ErrUnauthorized
		return err
	}
	var old common.Address
	switch column {
	case "mint_guard":
		old = ledger.MintGuard
	case "reserve_feed":
		old = ledger.ReserveFeed
	}
	// column comes from the two callers above, never from user input
	if _, err = tx.Exec(fmt.Sprintf(`UPDATE mint_ledger SET %s = $1 WHERE id = 1`, column), newRef.Hex()); err != nil {
		return err
	}
	if err = storeEvent(tx, eventType, RefUpdated{Old: old, New: newRef}, c.now().Unix()); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	c.logger.Infof("%s updated: %s -> %s", eventType, old, newRef)
	return nil
}

// Mint issues amount tokens to the destination account after consulting the
// configured mint guard, and returns the total supply after the operation.
// A rejected guard decision fails with ErrPegViolation and leaves the
// counters untouched.
func (c *Controller) Mint(ctx context.Context, caller, to common.Address, amount uint64, reason string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := db.NewTx(ctx, c.db)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			if errRllbck := tx.Rollback(); errRllbck != nil && !errors.Is(errRllbck, sql.ErrTxDone) {
				c.logger.Errorf("error while rolling back tx %v", errRllbck)
			}
		}
	}()

	ledger, err := getMintLedger(tx)
	if err != nil {
		return 0, err
	}
	if ledger.MintAuthority != caller {
		err = ErrUnauthorized
		return 0, err
	}
	if ledger.MintGuard != (common.Address{}) {
		if c.guard == nil {
			err = fmt.Errorf("%w: guard %s configured but not reachable", ErrPegViolation, ledger.MintGuard)
			return 0, err
		}
		var ok bool
		ok, err = c.guard.Authorize(ctx, amount)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrPegViolation, err)
			return 0, err
		}
		if !ok {
			err = ErrPegViolation
			return 0, err
		}
	}
	if err = c.ledger.MintTo(ctx, c.mint, to, c.cred, amount); err != nil {
		return 0, err
	}
	newSupply := ledger.TotalSupply + amount
	if _, err = tx.Exec(`
		UPDATE mint_ledger
		SET total_supply = total_supply + $1, total_minted = total_minted + $1
		WHERE id = 1`, amount,
	); err != nil {
		return 0, err
	}
	at := c.now().Unix()
	if err = storeEvent(tx, EventMinted, Minted{To: to, Amount: amount, Reason: reason}, at); err != nil {
		return 0, err
	}
	if err = storeEvent(tx, EventPegEnforced, PegEnforced{
		BloomAmount:  amount,
		RequiredSats: amount * SatsPerBloom,
	}, at); err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	c.logger.Infof("minted %d to %s (%s), total supply %d", amount, to, reason, newSupply)
	return newSupply, nil
}

// Burn destroys amount tokens held by the owner of the given credential and
// returns the total supply after the operation. An insufficient balance is
// reported by the underlying token primitive and propagated.
func (c *Controller) Burn(ctx context.Context, owner token.Credential, amount uint64, reason string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := db.NewTx(ctx, c.db)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			if errRllbck := tx.Rollback(); errRllbck != nil && !errors.Is(errRllbck, sql.ErrTxDone) {
				c.logger.Errorf("error while rolling back tx %v", errRllbck)
			}
		}
	}()

	ledger, err := getMintLedger(tx)
	if err != nil {
		return 0, err
	}
	if amount > ledger.TotalSupply {
		// the token primitive would have to report a balance that outgrows
		// the recorded supply, refuse rather than underflow the counter
		err = ErrInsufficientBalance
		return 0, err
	}
	if err = c.ledger.Burn(ctx, c.mint, owner.Identity(), owner, amount); err != nil {
		if errors.Is(err, token.ErrInsufficientBalance) {
			err = fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
		}
		return 0, err
	}
	newSupply := ledger.TotalSupply - amount
	if _, err = tx.Exec(`
		UPDATE mint_ledger
		SET total_supply = total_supply - $1, total_burned = total_burned + $1
		WHERE id = 1`, amount,
	); err != nil {
		return 0, err
	}
	if err = storeEvent(tx, EventBurned, Burned{
		From:   owner.Identity(),
		Amount: amount,
		Reason: reason,
	}, c.now().Unix()); err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	c.logger.Infof("burned %d from %s (%s), total supply %d", amount, owner.Identity(), reason, newSupply)
	return newSupply, nil
}

// GetPegInfo returns the peg parameters. Pure read.
func (c *Controller) GetPegInfo() PegInfo {
	return PegInfo{
		BloomPerBTC:  BTCPerBloom,
		SatsPerBloom: SatsPerBloom,
		PegStatement: "Peg: 10 BLOOM = 1 BTC",
	}
}

// GetMintLedger returns the current supply accounting record.
func (c *Controller) GetMintLedger(ctx context.Context) (MintLedger, error) {
	return getMintLedger(c.db)
}

func getMintLedger(q db.Querier) (MintLedger, error) {
	var ledger MintLedger
	err := meddler.QueryRow(q, &ledger, `
		SELECT name, symbol, decimals, total_supply, total_minted, total_burned,
			mint_authority, mint_guard, reserve_feed
		FROM mint_ledger WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger, ErrNotInitialized
	}
	return ledger, err
}
