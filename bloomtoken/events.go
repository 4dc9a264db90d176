package bloomtoken

import (
	"context"
	"encoding/json"

	"github.com/bloomnetwork/bloombridge/db"
	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

// Event types appended to the token journal.
const (
	EventMinted             = "Minted"
	EventBurned             = "Burned"
	EventPegEnforced        = "PegEnforced"
	EventMintGuardUpdated   = "MintGuardUpdated"
	EventReserveFeedUpdated = "ReserveFeedUpdated"
)

type Minted struct {
	To     common.Address
	Amount uint64
	Reason string
}

type Burned struct {
	From   common.Address
	Amount uint64
	Reason string
}

// PegEnforced records the peg units backing a mint.
type PegEnforced struct {
	BloomAmount  uint64
	RequiredSats uint64
}

// RefUpdated is the payload of the guard/feed admin updates. Old carries the
// replaced reference.
type RefUpdated struct {
	Old common.Address
	New common.Address
}

// Event is one entry of the append-only journal. Data holds the JSON
// encoded payload of the type named by Type.
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

// GetEventsFrom returns up to limit journal entries with ID > afterID, in
// insertion order. Observers poll it to tail the journal.
func (c *Controller) GetEventsFrom(ctx context.Context, afterID uint64, limit int) ([]Event, error) {
	var events []*Event
	err := meddler.QueryAll(c.db, &events, `
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
