package bridge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bloomnetwork/bloombridge/db"
	"github.com/ethereum/go-ethereum/common"
)

// SetRelayer replaces the relayer identity. Authority only.
func (b *Bridge) SetRelayer(ctx context.Context, caller, newRelayer common.Address) error {
	return b.adminUpdate(ctx, caller, func(tx *sql.Tx, cfg BridgeConfig) error {
		if _, err := tx.Exec(`UPDATE bridge_config SET relayer = $1 WHERE id = 1`, newRelayer.Hex()); err != nil {
			return err
		}
		return storeEvent(tx, EventRelayerUpdated, RelayerUpdated{
			Old: cfg.Relayer,
			New: newRelayer,
		}, b.now().Unix())
	})
}

// SetMintGuard replaces the mint guard reference the bridge reports in its
// configuration. Authority only.
func (b *Bridge) SetMintGuard(ctx context.Context, caller, newGuard common.Address) error {
	return b.adminUpdate(ctx, caller, func(tx *sql.Tx, cfg BridgeConfig) error {
		if _, err := tx.Exec(`UPDATE bridge_config SET mint_guard = $1 WHERE id = 1`, newGuard.Hex()); err != nil {
			return err
		}
		return storeEvent(tx, EventMintGuardUpdated, MintGuardUpdated{
			Old: cfg.MintGuard,
			New: newGuard,
		}, b.now().Unix())
	})
}

// UpdateMerkleRoot stores a new checkpoint root. Relayer only. This is the
// sole mechanism by which new unlock eligibility enters the system; updates
// replace the previous root, last write wins.
func (b *Bridge) UpdateMerkleRoot(ctx context.Context, caller common.Address, newRoot common.Hash) error {
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
	updatedAt := b.now().Unix()
	if _, err = tx.Exec(
		`UPDATE bridge_config SET merkle_root = $1, merkle_root_updated_at = $2 WHERE id = 1`,
		newRoot.Hex(), updatedAt,
	); err != nil {
		return err
	}
	if err = storeEvent(tx, EventMerkleRootUpdated, MerkleRootUpdated{
		NewRoot:   newRoot,
		Timestamp: updatedAt,
	}, updatedAt); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	b.logger.Debugf("merkle root updated to %s", newRoot)
	return nil
}

func (b *Bridge) adminUpdate(ctx context.Context, caller common.Address, update func(tx *sql.Tx, cfg BridgeConfig) error) error {
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
	if err = update(tx, cfg); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}
