package bridge

import (
	"database/sql"
	"errors"

	"github.com/bloomnetwork/bloombridge/db"
	"github.com/ethereum/go-ethereum/common"
)

// ProcessedTransaction is the replay protection record of one external
// transaction id. Once IsProcessed is set it is never written again.
type ProcessedTransaction struct {
	TransactionID common.Hash `meddler:"transaction_id,hash"`
	IsProcessed   bool        `meddler:"is_processed"`
	ProcessedAt   int64       `meddler:"processed_at"`
}

// replayGuard tracks settled transaction ids. claim must run inside the same
// tx as the proof verification and the mint so the three steps settle as one
// unit.
type replayGuard struct{}

// claim looks up or lazily creates the record for the given id. If it was
// already processed it reports true without mutating anything; otherwise it
// marks the id processed at the given time and reports false.
func (replayGuard) claim(tx db.Querier, transactionID common.Hash, at int64) (bool, error) {
	var processed bool
	err := tx.QueryRow(
		`SELECT is_processed FROM processed_transaction WHERE transaction_id = $1`,
		transactionID.Hex(),
	).Scan(&processed)
	if err == nil && processed {
		return true, nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	_, err = tx.Exec(`
		INSERT INTO processed_transaction (transaction_id, is_processed, processed_at)
		VALUES ($1, TRUE, $2)
		ON CONFLICT (transaction_id) DO UPDATE SET is_processed = TRUE, processed_at = $2
		WHERE is_processed = FALSE`,
		transactionID.Hex(), at,
	)
	return false, err
}
