package relayer

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bloomnetwork/bloombridge/bridge"
	"github.com/bloomnetwork/bloombridge/db"
	"github.com/bloomnetwork/bloombridge/log"
	"github.com/bloomnetwork/bloombridge/merkle"
	"github.com/bloomnetwork/bloombridge/relayer/migrations"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

const (
	eventBatchSize   = 100
	unlockBufferSize = 1000
)

// BridgeClient is the bridge surface the relayer drives, satisfied by
// bridge.Bridge.
type BridgeClient interface {
	GetEventsFrom(ctx context.Context, afterID uint64, limit int) ([]bridge.Event, error)
	UpdateMerkleRoot(ctx context.Context, caller common.Address, newRoot common.Hash) error
	Unlock(ctx context.Context, caller, user common.Address, amount uint64, transactionID common.Hash, proof []common.Hash) error
}

type unlockJob struct {
	user          common.Address
	amount        uint64
	transactionID common.Hash
	leaf          common.Hash
}

// Relayer tails the bridge journal, folds every lock into its checkpoint
// accumulator, publishes roots and submits the unlock proofs. Because the
// pairwise combination is order sensitive, one checkpoint proves exactly one
// leaf: roots are published per unlock, and unlocks always verify against the
// most recently published root.
type Relayer struct {
	logger   *log.Logger
	db       *sql.DB
	bridge   BridgeClient
	identity common.Address
	tree     *merkle.Tree
	rh       *RetryHandler

	pollPeriod time.Duration
	jobs       chan unlockJob
}

func New(cfg Config, bridgeClient BridgeClient) (*Relayer, error) {
	if err := migrations.RunMigrations(cfg.DBPath); err != nil {
		return nil, err
	}
	database, err := db.NewSQLiteDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return &Relayer{
		logger:   log.WithFields("component", "relayer"),
		db:       database,
		bridge:   bridgeClient,
		identity: cfg.Identity,
		tree:     merkle.NewTree(),
		rh: &RetryHandler{
			RetryAfterErrorPeriod:      cfg.RetryAfterErrorPeriod.Duration,
			MaxRetryAttemptsAfterError: cfg.MaxRetryAttemptsAfterError,
		},
		pollPeriod: cfg.PollPeriod.Duration,
		jobs:       make(chan unlockJob, unlockBufferSize),
	}, nil
}

// Identity returns the relayer identity used to sign root updates and
// unlocks.
func (r *Relayer) Identity() common.Address {
	return r.identity
}

// Start runs the journal tailer and the unlock settler until ctx is
// cancelled. Recovery runs concurrently with the settler so a backlog
// larger than the job buffer drains instead of blocking startup.
func (r *Relayer) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := r.recoverPending(ctx); err != nil {
			return err
		}
		return r.tailEvents(ctx)
	})
	g.Go(func() error {
		return r.settleUnlocks(ctx)
	})
	return g.Wait()
}

// recoverPending reloads the unsettled unlocks persisted by a previous run
// into the accumulator and the work queue. The rows are read out fully
// before feeding the queue, the settler needs the DB connection to settle
// what it receives.
func (r *Relayer) recoverPending(ctx context.Context) error {
	rows, err := r.db.Query(`
		SELECT transaction_id, user_address, amount, leaf
		FROM pending_unlock WHERE settled = FALSE
		ORDER BY rowid ASC`)
	if err != nil {
		return err
	}
	var pending []unlockJob
	for rows.Next() {
		var txID, user, leaf string
		var amount uint64
		if err := rows.Scan(&txID, &user, &amount, &leaf); err != nil {
			rows.Close()
			return err
		}
		pending = append(pending, unlockJob{
			user:          common.HexToAddress(user),
			amount:        amount,
			transactionID: common.HexToHash(txID),
			leaf:          common.HexToHash(leaf),
		})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	if err := rows.Close(); err != nil {
		return err
	}
	for _, job := range pending {
		if err := r.tree.AddLeaf(job.leaf); err != nil {
			return err
		}
		select {
		case r.jobs <- job:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if len(pending) > 0 {
		r.logger.Infof("recovered %d pending unlocks", len(pending))
	}
	return nil
}

func (r *Relayer) tailEvents(ctx context.Context) error {
	var attempts int
	ticker := time.NewTicker(r.pollPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		cursor, err := r.lastEventID()
		if err != nil {
			attempts++
			r.logger.Errorf("error reading cursor: %v", err)
			r.rh.Handle("relayer tailEvents", attempts)
			continue
		}
		events, err := r.bridge.GetEventsFrom(ctx, cursor, eventBatchSize)
		if err != nil {
			attempts++
			r.logger.Errorf("error tailing bridge events: %v", err)
			r.rh.Handle("relayer tailEvents", attempts)
			continue
		}
		for _, event := range events {
			if event.Type == bridge.EventTokensLocked {
				var locked bridge.TokensLocked
				if err := event.Decode(&locked); err != nil {
					return err
				}
				if err := r.enqueueUnlock(ctx, locked); err != nil {
					return err
				}
			}
			if err := r.storeCursor(event.ID); err != nil {
				return err
			}
		}
		attempts = 0
	}
}

// enqueueUnlock persists the observed lock and feeds it to the settler. The
// leaf is derived from the net amount, exactly as the unlocker will.
func (r *Relayer) enqueueUnlock(ctx context.Context, locked bridge.TokensLocked) error {
	leaf := merkle.Leaf(locked.User, locked.Amount, locked.TransactionID)
	if err := r.tree.AddLeaf(leaf); err != nil {
		if errors.Is(err, merkle.ErrDuplicatedLeaf) {
			r.logger.Warnf("lock %s already tracked, skipping", locked.TransactionID)
			return nil
		}
		return err
	}
	if _, err := r.db.Exec(`
		INSERT INTO pending_unlock (transaction_id, user_address, amount, leaf, settled)
		VALUES ($1, $2, $3, $4, FALSE)
		ON CONFLICT (transaction_id) DO NOTHING`,
		locked.TransactionID.Hex(), locked.User.Hex(), locked.Amount, leaf.Hex(),
	); err != nil {
		return err
	}
	select {
	case r.jobs <- unlockJob{
		user:          locked.User,
		amount:        locked.Amount,
		transactionID: locked.TransactionID,
		leaf:          leaf,
	}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (r *Relayer) settleUnlocks(ctx context.Context) error {
	var attempts int
	for {
		var job unlockJob
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job = <-r.jobs:
		}
		for {
			err := r.settle(ctx, job)
			if err == nil {
				attempts = 0
				break
			}
			if errors.Is(err, bridge.ErrTransactionAlreadyProcessed) {
				r.logger.Warnf("unlock %s already settled on the bridge", job.transactionID)
				if err := r.markSettled(job); err != nil {
					return err
				}
				attempts = 0
				break
			}
			attempts++
			r.logger.Errorf("error settling unlock %s: %v", job.transactionID, err)
			r.rh.Handle("relayer settleUnlocks", attempts)
		}
	}
}

// settle publishes the checkpoint that proves the job's leaf and submits the
// unlock against it.
func (r *Relayer) settle(ctx context.Context, job unlockJob) error {
	root, proof, err := r.tree.RootFor(job.leaf)
	if err != nil {
		return err
	}
	if err := r.bridge.UpdateMerkleRoot(ctx, r.identity, root); err != nil {
		return err
	}
	if err := r.bridge.Unlock(ctx, r.identity, job.user, job.amount, job.transactionID, proof); err != nil {
		return err
	}
	if err := r.markSettled(job); err != nil {
		return err
	}
	r.logger.Infof("settled unlock %s: %d to %s", job.transactionID, job.amount, job.user)
	return nil
}

func (r *Relayer) markSettled(job unlockJob) error {
	r.tree.RemoveLeaf(job.leaf)
	_, err := r.db.Exec(
		`UPDATE pending_unlock SET settled = TRUE WHERE transaction_id = $1`,
		job.transactionID.Hex(),
	)
	return err
}

func (r *Relayer) lastEventID() (uint64, error) {
	var id uint64
	err := r.db.QueryRow(`SELECT last_event_id FROM cursor WHERE id = 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

func (r *Relayer) storeCursor(eventID uint64) error {
	_, err := r.db.Exec(`
		INSERT INTO cursor (id, last_event_id) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET last_event_id = $1`,
		eventID,
	)
	return err
}
