package relayer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/bloomnetwork/bloombridge/bridge"
	"github.com/bloomnetwork/bloombridge/config/types"
	"github.com/bloomnetwork/bloombridge/merkle"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	testRelayerIdentity = common.HexToAddress("0xcc")
	testUser            = common.HexToAddress("0xee")
)

type unlockCall struct {
	caller        common.Address
	user          common.Address
	amount        uint64
	transactionID common.Hash
	proof         []common.Hash
	root          common.Hash
}

// mockBridge mimics the bridge surface: proofs are verified against the last
// published root and a transaction id unlocks at most once.
type mockBridge struct {
	mu       sync.Mutex
	events   []bridge.Event
	root     common.Hash
	unlocks  []unlockCall
	settled  map[common.Hash]bool
	unlocked chan common.Hash
}

func newMockBridge() *mockBridge {
	return &mockBridge{
		settled:  make(map[common.Hash]bool),
		unlocked: make(chan common.Hash, 100),
	}
}

func (m *mockBridge) addLockedEvent(t *testing.T, id uint64, user common.Address, amount uint64, txID common.Hash) {
	t.Helper()
	payload, err := json.Marshal(bridge.TokensLocked{
		User:            user,
		Amount:          amount,
		ExternalAddress: "bc1qexternal",
		TransactionID:   txID,
	})
	require.NoError(t, err)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, bridge.Event{
		ID:        id,
		Type:      bridge.EventTokensLocked,
		Data:      string(payload),
		CreatedAt: time.Now().Unix(),
	})
}

func (m *mockBridge) GetEventsFrom(ctx context.Context, afterID uint64, limit int) ([]bridge.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []bridge.Event
	for _, e := range m.events {
		if e.ID > afterID && len(res) < limit {
			res = append(res, e)
		}
	}
	return res, nil
}

func (m *mockBridge) UpdateMerkleRoot(ctx context.Context, caller common.Address, newRoot common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if caller != testRelayerIdentity {
		return bridge.ErrUnauthorized
	}
	m.root = newRoot
	return nil
}

func (m *mockBridge) Unlock(ctx context.Context, caller, user common.Address, amount uint64, transactionID common.Hash, proof []common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if caller != testRelayerIdentity {
		return bridge.ErrUnauthorized
	}
	if m.settled[transactionID] {
		return fmt.Errorf("%w: %s", bridge.ErrTransactionAlreadyProcessed, transactionID)
	}
	leaf := merkle.Leaf(user, amount, transactionID)
	if !merkle.Verify(leaf, proof, m.root) {
		return bridge.ErrInvalidMerkleProof
	}
	m.settled[transactionID] = true
	m.unlocks = append(m.unlocks, unlockCall{
		caller:        caller,
		user:          user,
		amount:        amount,
		transactionID: transactionID,
		proof:         proof,
		root:          m.root,
	})
	m.unlocked <- transactionID
	return nil
}

func newTestRelayer(t *testing.T, mock *mockBridge) *Relayer {
	t.Helper()
	r, err := New(Config{
		DBPath:                     path.Join(t.TempDir(), "relayer.sqlite"),
		Identity:                   testRelayerIdentity,
		PollPeriod:                 types.NewDuration(10 * time.Millisecond),
		RetryAfterErrorPeriod:      types.NewDuration(10 * time.Millisecond),
		MaxRetryAttemptsAfterError: -1,
	}, mock)
	require.NoError(t, err)
	return r
}

func waitUnlocked(t *testing.T, mock *mockBridge) common.Hash {
	t.Helper()
	select {
	case txID := <-mock.unlocked:
		return txID
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an unlock")
		return common.Hash{}
	}
}

func TestRelayerSettlesLocks(t *testing.T) {
	mock := newMockBridge()
	r := newTestRelayer(t, mock)

	txID1 := common.HexToHash("0x01")
	txID2 := common.HexToHash("0x02")
	mock.addLockedEvent(t, 1, testUser, 9_950, txID1)
	mock.addLockedEvent(t, 2, testUser, 4_975, txID2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Start(ctx)
	}()

	settled := map[common.Hash]bool{
		waitUnlocked(t, mock): true,
		waitUnlocked(t, mock): true,
	}
	require.True(t, settled[txID1])
	require.True(t, settled[txID2])
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	mock.mu.Lock()
	defer mock.mu.Unlock()
	require.Len(t, mock.unlocks, 2)
	for _, call := range mock.unlocks {
		require.Equal(t, testRelayerIdentity, call.caller)
		require.Equal(t, testUser, call.user)
		leaf := merkle.Leaf(call.user, call.amount, call.transactionID)
		require.True(t, merkle.Verify(leaf, call.proof, call.root))
	}
}

func TestRelayerSkipsDuplicatedEvents(t *testing.T) {
	mock := newMockBridge()
	r := newTestRelayer(t, mock)

	txID := common.HexToHash("0x01")
	mock.addLockedEvent(t, 1, testUser, 9_950, txID)
	mock.addLockedEvent(t, 2, testUser, 9_950, txID)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Start(ctx)
	}()

	require.Equal(t, txID, waitUnlocked(t, mock))
	// give the tailer time to reach the duplicate
	time.Sleep(100 * time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	mock.mu.Lock()
	defer mock.mu.Unlock()
	require.Len(t, mock.unlocks, 1)
}

func TestRelayerRecoversPending(t *testing.T) {
	mock := newMockBridge()
	r := newTestRelayer(t, mock)

	// an unsettled unlock left behind by a previous run
	txID := common.HexToHash("0x01")
	leaf := merkle.Leaf(testUser, 9_950, txID)
	_, err := r.db.Exec(`
		INSERT INTO pending_unlock (transaction_id, user_address, amount, leaf, settled)
		VALUES ($1, $2, $3, $4, FALSE)`,
		txID.Hex(), testUser.Hex(), 9_950, leaf.Hex())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Start(ctx)
	}()

	require.Equal(t, txID, waitUnlocked(t, mock))
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	var settled bool
	err = r.db.QueryRow(`SELECT settled FROM pending_unlock WHERE transaction_id = $1`, txID.Hex()).Scan(&settled)
	require.NoError(t, err)
	require.True(t, settled)
}

func TestRelayerRecoversBacklogLargerThanQueue(t *testing.T) {
	mock := newMockBridge()
	r := newTestRelayer(t, mock)

	// more pending rows than the job buffer can hold at once, recovery must
	// drain them concurrently with the settler instead of blocking startup
	backlog := unlockBufferSize + 1
	dbTx, err := r.db.Begin()
	require.NoError(t, err)
	for i := 0; i < backlog; i++ {
		txID := common.BigToHash(big.NewInt(int64(i + 1)))
		leaf := merkle.Leaf(testUser, uint64(i+1), txID)
		_, err := dbTx.Exec(`
			INSERT INTO pending_unlock (transaction_id, user_address, amount, leaf, settled)
			VALUES ($1, $2, $3, $4, FALSE)`,
			txID.Hex(), testUser.Hex(), uint64(i+1), leaf.Hex())
		require.NoError(t, err)
	}
	require.NoError(t, dbTx.Commit())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Start(ctx)
	}()
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for range mock.unlocked {
		}
	}()

	require.Eventually(t, func() bool {
		var unsettled int
		if err := r.db.QueryRow(
			`SELECT COUNT(*) FROM pending_unlock WHERE settled = FALSE`,
		).Scan(&unsettled); err != nil {
			return false
		}
		return unsettled == 0
	}, 60*time.Second, 100*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	close(mock.unlocked)
	<-drained

	mock.mu.Lock()
	defer mock.mu.Unlock()
	require.Len(t, mock.unlocks, backlog)
}

func TestRelayerHandlesAlreadyProcessed(t *testing.T) {
	mock := newMockBridge()
	r := newTestRelayer(t, mock)

	// the bridge settled this transaction in a previous run, only the local
	// bookkeeping is stale
	txID := common.HexToHash("0x01")
	mock.settled[txID] = true
	leaf := merkle.Leaf(testUser, 9_950, txID)
	_, err := r.db.Exec(`
		INSERT INTO pending_unlock (transaction_id, user_address, amount, leaf, settled)
		VALUES ($1, $2, $3, $4, FALSE)`,
		txID.Hex(), testUser.Hex(), 9_950, leaf.Hex())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Start(ctx)
	}()

	require.Eventually(t, func() bool {
		var settled bool
		if err := r.db.QueryRow(
			`SELECT settled FROM pending_unlock WHERE transaction_id = $1`, txID.Hex(),
		).Scan(&settled); err != nil {
			return false
		}
		return settled
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	mock.mu.Lock()
	defer mock.mu.Unlock()
	require.Empty(t, mock.unlocks)
}
