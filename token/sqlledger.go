package token

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bloomnetwork/bloombridge/db"
	"github.com/bloomnetwork/bloombridge/log"
	"github.com/bloomnetwork/bloombridge/token/migrations"
	"github.com/ethereum/go-ethereum/common"
)

// SQLLedger is a sqlite backed implementation of Ledger. It keeps one balance
// row per (mint, account) and a mint authority registry.
type SQLLedger struct {
	logger *log.Logger
	db     *sql.DB
}

func NewSQLLedger(dbPath string) (*SQLLedger, error) {
	if err := migrations.RunMigrations(dbPath); err != nil {
		return nil, err
	}
	database, err := db.NewSQLiteDB(dbPath)
	if err != nil {
		return nil, err
	}
	return &SQLLedger{
		logger: log.WithFields("component", "token-ledger"),
		db:     database,
	}, nil
}

// RegisterMint creates a mint and pins its mint authority. Registering the
// same mint twice is an error.
func (l *SQLLedger) RegisterMint(ctx context.Context, mint, mintAuthority common.Address) error {
	_, err := l.db.Exec(
		`INSERT INTO mint (address, mint_authority) VALUES ($1, $2)`,
		mint.Hex(), mintAuthority.Hex(),
	)
	if sqliteErr, ok := db.SQLiteErr(err); ok && sqliteErr.ExtendedCode == db.UniqueConstrain {
		return fmt.Errorf("%w: %s", ErrMintAlreadyRegistered, mint)
	}
	return err
}

func (l *SQLLedger) MintTo(ctx context.Context, mint, destination common.Address, auth Credential, amount uint64) error {
	tx, err := db.NewTx(ctx, l.db)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if errRllbck := tx.Rollback(); errRllbck != nil && !errors.Is(errRllbck, sql.ErrTxDone) {
				l.logger.Errorf("error while rolling back tx %v", errRllbck)
			}
		}
	}()

	var authority string
	err = tx.QueryRow(`SELECT mint_authority FROM mint WHERE address = $1`, mint.Hex()).Scan(&authority)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrUnknownMint
		return err
	}
	if err != nil {
		return err
	}
	if common.HexToAddress(authority) != auth.Identity() {
		err = ErrUnauthorized
		return err
	}
	if err = credit(tx, mint, destination, amount); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

func (l *SQLLedger) Burn(ctx context.Context, mint, source common.Address, auth Credential, amount uint64) error {
	if auth.Identity() != source {
		return ErrUnauthorized
	}
	tx, err := db.NewTx(ctx, l.db)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if errRllbck := tx.Rollback(); errRllbck != nil && !errors.Is(errRllbck, sql.ErrTxDone) {
				l.logger.Errorf("error while rolling back tx %v", errRllbck)
			}
		}
	}()

	if err = debit(tx, mint, source, amount); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

func (l *SQLLedger) Transfer(ctx context.Context, mint, source, destination common.Address, auth Credential, amount uint64) error {
	if auth.Identity() != source {
		return ErrUnauthorized
	}
	tx, err := db.NewTx(ctx, l.db)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if errRllbck := tx.Rollback(); errRllbck != nil && !errors.Is(errRllbck, sql.ErrTxDone) {
				l.logger.Errorf("error while rolling back tx %v", errRllbck)
			}
		}
	}()

	if err = debit(tx, mint, source, amount); err != nil {
		return err
	}
	if err = credit(tx, mint, destination, amount); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

// BalanceOf returns the balance of an account, zero if it was never funded.
func (l *SQLLedger) BalanceOf(ctx context.Context, mint, account common.Address) (uint64, error) {
	var balance uint64
	err := l.db.QueryRow(
		`SELECT balance FROM account WHERE mint = $1 AND address = $2`,
		mint.Hex(), account.Hex(),
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

func credit(tx db.Querier, mint, account common.Address, amount uint64) error {
	_, err := tx.Exec(`
		INSERT INTO account (mint, address, balance) VALUES ($1, $2, $3)
		ON CONFLICT (mint, address) DO UPDATE SET balance = balance + $3`,
		mint.Hex(), account.Hex(), amount,
	)
	return err
}

func debit(tx db.Querier, mint, account common.Address, amount uint64) error {
	var balance uint64
	err := tx.QueryRow(
		`SELECT balance FROM account WHERE mint = $1 AND address = $2`,
		mint.Hex(), account.Hex(),
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && balance < amount) {
		return ErrInsufficientBalance
	}
	if err != nil {
		return err
	}
	_, err = tx.Exec(
		`UPDATE account SET balance = balance - $1 WHERE mint = $2 AND address = $3`,
		amount, mint.Hex(), account.Hex(),
	)
	return err
}
