package bloomtoken

import (
	"context"
	"errors"
	"path"
	"testing"

	"github.com/bloomnetwork/bloombridge/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	testMint      = common.HexToAddress("0x01")
	testAuthority = common.HexToAddress("0xaa")
	testUser      = common.HexToAddress("0xbb")
)

type staticGuard struct {
	allow bool
	err   error
}

func (g *staticGuard) Authorize(ctx context.Context, amount uint64) (bool, error) {
	return g.allow, g.err
}

func newTestController(t *testing.T, guard MintGuard) (*Controller, *token.SQLLedger) {
	t.Helper()
	dir := t.TempDir()
	ledger, err := token.NewSQLLedger(path.Join(dir, "token.sqlite"))
	require.NoError(t, err)
	require.NoError(t, ledger.RegisterMint(context.Background(), testMint, testAuthority))

	controller, err := New(Config{
		DBPath:    path.Join(dir, "bloomtoken.sqlite"),
		MintAddr:  testMint,
		Authority: testAuthority,
	}, ledger, token.NewCredential(testAuthority), guard)
	require.NoError(t, err)
	require.NoError(t, controller.Initialize(context.Background(), "Bloom", "BLOOM", 9, testAuthority))
	return controller, ledger
}

func TestInitializeOnce(t *testing.T) {
	controller, _ := newTestController(t, nil)
	err := controller.Initialize(context.Background(), "Bloom", "BLOOM", 9, testAuthority)
	require.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestNotInitialized(t *testing.T) {
	dir := t.TempDir()
	ledger, err := token.NewSQLLedger(path.Join(dir, "token.sqlite"))
	require.NoError(t, err)
	controller, err := New(Config{
		DBPath:   path.Join(dir, "bloomtoken.sqlite"),
		MintAddr: testMint,
	}, ledger, token.NewCredential(testAuthority), nil)
	require.NoError(t, err)

	_, err = controller.Mint(context.Background(), testAuthority, testUser, 1, "test")
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = controller.GetMintLedger(context.Background())
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestMint(t *testing.T) {
	controller, ledger := newTestController(t, nil)
	ctx := context.Background()

	supply, err := controller.Mint(ctx, testAuthority, testUser, 1_000, "bridge unlock")
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), supply)

	supply, err = controller.Mint(ctx, testAuthority, testUser, 500, "bridge unlock")
	require.NoError(t, err)
	require.Equal(t, uint64(1_500), supply)

	balance, err := ledger.BalanceOf(ctx, testMint, testUser)
	require.NoError(t, err)
	require.Equal(t, uint64(1_500), balance)

	ml, err := controller.GetMintLedger(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1_500), ml.TotalSupply)
	require.Equal(t, uint64(1_500), ml.TotalMinted)
	require.Equal(t, uint64(0), ml.TotalBurned)
}

func TestMintUnauthorized(t *testing.T) {
	controller, _ := newTestController(t, nil)
	_, err := controller.Mint(context.Background(), testUser, testUser, 1_000, "test")
	require.ErrorIs(t, err, ErrUnauthorized)

	ml, err := controller.GetMintLedger(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(0), ml.TotalSupply)
}

func TestMintGuard(t *testing.T) {
	guard := &staticGuard{allow: true}
	controller, _ := newTestController(t, guard)
	ctx := context.Background()
	guardRef := common.HexToAddress("0x6a")
	require.NoError(t, controller.SetMintGuard(ctx, testAuthority, guardRef))

	supply, err := controller.Mint(ctx, testAuthority, testUser, 100, "test")
	require.NoError(t, err)
	require.Equal(t, uint64(100), supply)

	// a rejecting guard must leave supply and balances untouched
	guard.allow = false
	_, err = controller.Mint(ctx, testAuthority, testUser, 100, "test")
	require.ErrorIs(t, err, ErrPegViolation)

	guard.allow = true
	guard.err = errors.New("feed unavailable")
	_, err = controller.Mint(ctx, testAuthority, testUser, 100, "test")
	require.ErrorIs(t, err, ErrPegViolation)

	ml, err := controller.GetMintLedger(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(100), ml.TotalSupply)
	require.Equal(t, uint64(100), ml.TotalMinted)
}

func TestMintGuardConfiguredButMissing(t *testing.T) {
	controller, _ := newTestController(t, nil)
	ctx := context.Background()
	require.NoError(t, controller.SetMintGuard(ctx, testAuthority, common.HexToAddress("0x6a")))

	_, err := controller.Mint(ctx, testAuthority, testUser, 100, "test")
	require.ErrorIs(t, err, ErrPegViolation)
}

func TestBurn(t *testing.T) {
	controller, _ := newTestController(t, nil)
	ctx := context.Background()
	userCred := token.NewCredential(testUser)

	_, err := controller.Mint(ctx, testAuthority, testUser, 1_000, "test")
	require.NoError(t, err)

	supply, err := controller.Burn(ctx, userCred, 400, "redeem")
	require.NoError(t, err)
	require.Equal(t, uint64(600), supply)

	ml, err := controller.GetMintLedger(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(600), ml.TotalSupply)
	require.Equal(t, uint64(1_000), ml.TotalMinted)
	require.Equal(t, uint64(400), ml.TotalBurned)

	_, err = controller.Burn(ctx, userCred, 700, "redeem")
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestSetRefsUnauthorized(t *testing.T) {
	controller, _ := newTestController(t, nil)
	ctx := context.Background()
	err := controller.SetMintGuard(ctx, testUser, common.HexToAddress("0x6a"))
	require.ErrorIs(t, err, ErrUnauthorized)
	err = controller.SetReserveFeed(ctx, testUser, common.HexToAddress("0x6b"))
	require.ErrorIs(t, err, ErrUnauthorized)

	ml, err := controller.GetMintLedger(ctx)
	require.NoError(t, err)
	require.Equal(t, common.Address{}, ml.MintGuard)
	require.Equal(t, common.Address{}, ml.ReserveFeed)
}

func TestSetRefs(t *testing.T) {
	controller, _ := newTestController(t, nil)
	ctx := context.Background()
	guardRef := common.HexToAddress("0x6a")
	feedRef := common.HexToAddress("0x6b")
	require.NoError(t, controller.SetMintGuard(ctx, testAuthority, guardRef))
	require.NoError(t, controller.SetReserveFeed(ctx, testAuthority, feedRef))

	ml, err := controller.GetMintLedger(ctx)
	require.NoError(t, err)
	require.Equal(t, guardRef, ml.MintGuard)
	require.Equal(t, feedRef, ml.ReserveFeed)
}

func TestGetEventsFrom(t *testing.T) {
	controller, _ := newTestController(t, nil)
	ctx := context.Background()

	_, err := controller.Mint(ctx, testAuthority, testUser, 1_000, "bridge unlock")
	require.NoError(t, err)
	_, err = controller.Burn(ctx, token.NewCredential(testUser), 400, "redeem")
	require.NoError(t, err)

	events, err := controller.GetEventsFrom(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, EventMinted, events[0].Type)
	require.Equal(t, EventPegEnforced, events[1].Type)
	require.Equal(t, EventBurned, events[2].Type)

	var minted Minted
	require.NoError(t, events[0].Decode(&minted))
	require.Equal(t, testUser, minted.To)
	require.Equal(t, uint64(1_000), minted.Amount)
	require.Equal(t, "bridge unlock", minted.Reason)

	var enforced PegEnforced
	require.NoError(t, events[1].Decode(&enforced))
	require.Equal(t, uint64(1_000), enforced.BloomAmount)
	require.Equal(t, uint64(1_000)*SatsPerBloom, enforced.RequiredSats)

	// tail from a cursor
	events, err = controller.GetEventsFrom(ctx, events[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, EventBurned, events[0].Type)
}

func TestGetPegInfo(t *testing.T) {
	controller, _ := newTestController(t, nil)
	info := controller.GetPegInfo()
	require.Equal(t, uint64(10), info.BloomPerBTC)
	require.Equal(t, uint64(10_000_000), info.SatsPerBloom)
	require.Equal(t, "Peg: 10 BLOOM = 1 BTC", info.PegStatement)
}
