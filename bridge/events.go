package bridge

import (
	"context"
	"encoding/json"

	"github.com/bloomnetwork/bloombridge/db"
	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

// Event types appended to the bridge journal.
const (
	EventTokensLocked      = "TokensLocked"
	EventTokensUnlocked    = "TokensUnlocked"
	EventMerkleRootUpdated = "MerkleRootUpdated"
	EventRelayerUpdated    = "RelayerUpdated"
	EventMintGuardUpdated  = "MintGuardUpdated"
)

// TokensLocked is emitted on every lock. Amount is the net amount credited to
// the locked balance, after the bridge fee.
type TokensLocked struct {
	User            common.Address
	Amount          uint64
	ExternalAddress string
	TransactionID   common.Hash
}

// TokensUnlocked is emitted on every proven unlock, carrying the merkle root
// the proof was verified against.
type TokensUnlocked struct {
	User          common.Address
	Amount        uint64
	TransactionID common.Hash
	MerkleRoot    common.Hash
}

type MerkleRootUpdated struct {
	NewRoot   common.Hash
	Timestamp int64
}

// RelayerUpdated carries the replaced relayer identity in Old.
type RelayerUpdated struct {
	Old common.Address
	New common.Address
}

// MintGuardUpdated carries the replaced guard reference in Old.
type MintGuardUpdated struct {
	Old common.Address
	New common.Address
}

// Event is one entry of the append-only journal. Data holds the JSON encoded
// payload of the type named by Type.
type Event struct {
	ID        uint64 `meddler:"id"`
	Type      string `meddler:"type"`
	Data      string `meddler:"data"`
	CreatedAt int64  `meddler:"created_at"`
}

// Decode unmarshals the payload into dst.
func (e *Event) Decode(dst interface{}) error {
	return json.Unmarshal([]byte(e.Data), dst)
}

func storeEvent(tx db.Querier, eventType string, data interface{}, at int64) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = tx.Exec(
		`INSERT INTO event (type, data, created_at) VALUES ($1, $2, $3)`,
		eventType, string(payload), at,
	)
	return err
}

// GetEventsFrom returns up to limit journal entries with ID > afterID, in
// insertion order. Observers poll it to tail the journal.
func (b *Bridge) GetEventsFrom(ctx context.Context, afterID uint64, limit int) ([]Event, error) {
	var events []*Event
	err := meddler.QueryAll(b.db, &events, `
		SELECT id, type, data, created_at FROM event
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, err
	}
	res := make([]Event, 0, len(events))
	for _, e := range events {
		res = append(res, *e)
	}
	return res, nil
}
