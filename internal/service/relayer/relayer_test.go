package relayer

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pine-finance/relayer-svc/internal/data"
	"github.com/pine-finance/relayer-svc/internal/service/book"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

type fakeOrders struct {
	mu     sync.Mutex
	stored map[string]data.Order
	saves  int
}

func newFakeOrders(seed ...data.Order) *fakeOrders {
	f := &fakeOrders{stored: make(map[string]data.Order)}
	for _, order := range seed {
		f.stored[order.ID] = order
	}
	return f
}

func (f *fakeOrders) Exist(id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.stored[id]
	return ok, nil
}

func (f *fakeOrders) Save(order data.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if prev, ok := f.stored[order.ID]; ok && prev.ExecutedTxHash != nil {
		order.ExecutedTxHash = prev.ExecutedTxHash
	}
	f.stored[order.ID] = order
	return nil
}

func (f *fakeOrders) Get(id string) (*data.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.stored[id]
	if !ok {
		return nil, nil
	}
	return &order, nil
}

func (f *fakeOrders) GetOpen() ([]data.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var open []data.Order
	for _, order := range f.stored {
		if !order.Terminal() {
			open = append(open, order)
		}
	}
	return open, nil
}

func (f *fakeOrders) GetByCreatedTx(string) ([]data.Order, error) { return nil, nil }

type fakeProvider struct {
	mu          sync.Mutex
	estimateErr error
	callErr     error
	sendErr     error
	gasPrice    *big.Int
	broadcasts  []*types.Transaction
	estimates   int
}

func (f *fakeProvider) BlockNumber(context.Context) (uint64, error) { return 0, nil }
func (f *fakeProvider) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}
func (f *fakeProvider) TransactionByHash(context.Context, common.Hash) (*types.Transaction, bool, error) {
	return nil, false, ethereum.NotFound
}

func (f *fakeProvider) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, f.callErr
}

func (f *fakeProvider) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	f.estimates++
	f.mu.Unlock()
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 21000, nil
}

func (f *fakeProvider) SuggestGasPrice(context.Context) (*big.Int, error) {
	if f.gasPrice == nil {
		return big.NewInt(100), nil
	}
	return f.gasPrice, nil
}

func (f *fakeProvider) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 7, nil
}

func (f *fakeProvider) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, tx)
	return nil
}

type fakeCoreContract struct {
	address  common.Address
	mu       sync.Mutex
	auxData  [][]byte
	exists   bool
	notReady bool
}

func (f *fakeCoreContract) Address() common.Address { return f.address }

func (f *fakeCoreContract) PackExecuteOrder(_, _, _ common.Address, _, _, auxData []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auxData = append(f.auxData, auxData)
	return append([]byte{0xca, 0x11}, auxData...), nil
}

func (f *fakeCoreContract) ExistOrder(*bind.CallOpts, common.Address, common.Address, common.Address, common.Address, []byte) (bool, error) {
	return f.exists, nil
}

func (f *fakeCoreContract) CanExecuteOrder(*bind.CallOpts, common.Address, common.Address, common.Address, common.Address, []byte) (bool, error) {
	return !f.notReady, nil
}

type fakeVenue struct {
	name      string
	handler   common.Address
	quoteFunc func(order data.Order) (*big.Int, error)
	quotes    int
}

func (f *fakeVenue) Name() string            { return f.name }
func (f *fakeVenue) Handler() common.Address { return f.handler }
func (f *fakeVenue) Quote(_ context.Context, order data.Order) (*big.Int, error) {
	f.quotes++
	return f.quoteFunc(order)
}

type routerFixture struct {
	router   *Router
	provider *fakeProvider
	orders   *fakeOrders
	core     *fakeCoreContract
	order    data.Order
}

func newFixture(t *testing.T, venues []Venue, tweak func(*RouterOpts)) *routerFixture {
	t.Helper()

	relayerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	secretKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	order := data.Order{
		ID:            "100-1",
		Module:        common.HexToAddress("0x22"),
		InputToken:    common.HexToAddress("0x33"),
		OutputToken:   common.HexToAddress("0x44"),
		InputAmount:   big.NewInt(1000),
		MinReturn:     big.NewInt(1000000),
		Owner:         common.HexToAddress("0x11"),
		Witness:       crypto.PubkeyToAddress(secretKey.PublicKey),
		Secret:        hexutil.Encode(crypto.FromECDSA(secretKey)),
		CreatedTxHash: common.HexToHash("0xbb"),
	}

	orders := newFakeOrders(order)
	provider := &fakeProvider{}
	core := &fakeCoreContract{address: common.HexToAddress("0xc0fe"), exists: true}
	orderBook := book.New(logan.New(), orders, core, 4, time.Second)

	opts := RouterOpts{
		Provider: provider,
		Core:     core,
		Book:     orderBook,
		Orders:   orders,
		Venues:   venues,
		Sender:   crypto.PubkeyToAddress(relayerKey.PublicKey),
		Key:      relayerKey,
		ChainID:  big.NewInt(1),
		BaseFee:  big.NewInt(5),
		Timeout:  time.Second,
	}
	if tweak != nil {
		tweak(&opts)
	}

	return &routerFixture{
		router:   NewRouter(logan.New(), opts),
		provider: provider,
		orders:   orders,
		core:     core,
		order:    order,
	}
}

func quoting(amount int64) func(data.Order) (*big.Int, error) {
	return func(data.Order) (*big.Int, error) { return big.NewInt(amount), nil }
}

func TestRouterResolveFills(t *testing.T) {
	venue := &fakeVenue{name: "test", handler: common.HexToAddress("0x77"), quoteFunc: quoting(1100000)}
	fx := newFixture(t, []Venue{venue}, nil)

	require.NoError(t, fx.router.Resolve(context.Background(), &fx.order))

	require.Len(t, fx.provider.broadcasts, 1)
	require.True(t, fx.order.Terminal())
	assert.Equal(t, fx.provider.broadcasts[0].Hash().Hex(), *fx.order.ExecutedTxHash)

	stored, err := fx.orders.Get(fx.order.ID)
	require.NoError(t, err)
	require.True(t, stored.Terminal())

	// A terminal order resolves to a no-op.
	require.NoError(t, fx.router.Resolve(context.Background(), &fx.order))
	assert.Len(t, fx.provider.broadcasts, 1)
}

func TestRouterQuoteBelowMinReturn(t *testing.T) {
	venue := &fakeVenue{name: "test", quoteFunc: quoting(900000)}
	fx := newFixture(t, []Venue{venue}, nil)

	require.NoError(t, fx.router.Resolve(context.Background(), &fx.order))

	assert.Empty(t, fx.provider.broadcasts)
	assert.False(t, fx.order.Terminal())

	// The order is not skipped: the next round quotes it again.
	require.NoError(t, fx.router.Resolve(context.Background(), &fx.order))
	assert.Equal(t, 2, venue.quotes)
}

func TestRouterNoRouteSkipsVenue(t *testing.T) {
	venue := &fakeVenue{name: "test", quoteFunc: func(data.Order) (*big.Int, error) {
		return nil, errors.Wrap(ErrNoRoute, "no pool for pair")
	}}
	fx := newFixture(t, []Venue{venue}, nil)

	require.NoError(t, fx.router.Resolve(context.Background(), &fx.order))
	require.NoError(t, fx.router.Resolve(context.Background(), &fx.order))

	assert.Equal(t, 1, venue.quotes)
	assert.Empty(t, fx.provider.broadcasts)
}

func TestRouterTransientQuoteErrorRetries(t *testing.T) {
	venue := &fakeVenue{name: "test", quoteFunc: func(data.Order) (*big.Int, error) {
		return nil, errors.New("rpc timeout")
	}}
	fx := newFixture(t, []Venue{venue}, nil)

	require.NoError(t, fx.router.Resolve(context.Background(), &fx.order))
	require.NoError(t, fx.router.Resolve(context.Background(), &fx.order))

	assert.Equal(t, 2, venue.quotes)
	assert.Empty(t, fx.provider.broadcasts)
}

func TestRouterBestQuoteWins(t *testing.T) {
	worse := &fakeVenue{name: "worse", handler: common.HexToAddress("0x77"), quoteFunc: quoting(1100000)}
	better := &fakeVenue{name: "better", handler: common.HexToAddress("0x88"), quoteFunc: quoting(1200000)}
	fx := newFixture(t, []Venue{worse, better}, func(opts *RouterOpts) {
		opts.PickBest = true
	})

	require.NoError(t, fx.router.Resolve(context.Background(), &fx.order))

	require.Len(t, fx.provider.broadcasts, 1)
	assert.Equal(t, 1, worse.quotes)
	assert.Equal(t, 1, better.quotes)

	// The winning venue's handler ends up in the packed aux data.
	require.NotEmpty(t, fx.core.auxData)
	values, err := auxDataArguments.Unpack(fx.core.auxData[len(fx.core.auxData)-1])
	require.NoError(t, err)
	assert.Equal(t, better.handler, values[0].(common.Address))
}

func TestRouterFirstVenueWinsWithoutBestPolicy(t *testing.T) {
	first := &fakeVenue{name: "first", handler: common.HexToAddress("0x77"), quoteFunc: quoting(1100000)}
	second := &fakeVenue{name: "second", handler: common.HexToAddress("0x88"), quoteFunc: quoting(9900000)}
	fx := newFixture(t, []Venue{first, second}, nil)

	require.NoError(t, fx.router.Resolve(context.Background(), &fx.order))

	require.Len(t, fx.provider.broadcasts, 1)
	assert.Equal(t, 1, first.quotes)
	assert.Zero(t, second.quotes)
}

func TestRouterFee(t *testing.T) {
	var observed *big.Int
	venue := &fakeVenue{name: "test", handler: common.HexToAddress("0x77"), quoteFunc: quoting(1100000)}
	fx := newFixture(t, []Venue{venue}, func(opts *RouterOpts) {
		opts.FeePolicy = func(fee *big.Int) *big.Int {
			observed = new(big.Int).Set(fee)
			return fee
		}
	})

	require.NoError(t, fx.router.Resolve(context.Background(), &fx.order))

	// gas price 100 wei, 21000 gas estimated, plus the flat base fee.
	want := big.NewInt(100*21000 + 5)
	require.NotNil(t, observed)
	assert.Zero(t, observed.Cmp(want))

	values, err := auxDataArguments.Unpack(fx.core.auxData[len(fx.core.auxData)-1])
	require.NoError(t, err)
	assert.Zero(t, want.Cmp(values[2].(*big.Int)))
}

func TestRouterEstimateFailureLeavesOpen(t *testing.T) {
	venue := &fakeVenue{name: "test", quoteFunc: quoting(1100000)}
	fx := newFixture(t, []Venue{venue}, nil)
	fx.provider.estimateErr = errors.New("intrinsic gas too low")

	require.NoError(t, fx.router.Resolve(context.Background(), &fx.order))

	assert.Empty(t, fx.provider.broadcasts)
	assert.False(t, fx.order.Terminal())
}

func TestRouterVaultNotReadyLeavesOpen(t *testing.T) {
	venue := &fakeVenue{name: "test", quoteFunc: quoting(1100000)}
	fx := newFixture(t, []Venue{venue}, nil)
	fx.core.notReady = true

	require.NoError(t, fx.router.Resolve(context.Background(), &fx.order))

	// The readiness view gates the attempt before any gas work.
	assert.Equal(t, 0, fx.provider.estimates)
	assert.Empty(t, fx.provider.broadcasts)
	assert.False(t, fx.order.Terminal())

	fx.core.notReady = false
	require.NoError(t, fx.router.Resolve(context.Background(), &fx.order))
	assert.Len(t, fx.provider.broadcasts, 1)
}

func TestRouterSimulationRevert(t *testing.T) {
	t.Run("plain revert keeps the venue in play", func(t *testing.T) {
		venue := &fakeVenue{name: "test", quoteFunc: quoting(1100000)}
		fx := newFixture(t, []Venue{venue}, nil)
		fx.provider.callErr = errors.New("execution reverted: UniswapV2Library: INSUFFICIENT_LIQUIDITY")

		require.NoError(t, fx.router.Resolve(context.Background(), &fx.order))
		assert.Empty(t, fx.provider.broadcasts)

		// Prices move, the next round simulates clean and fills.
		fx.provider.callErr = nil
		require.NoError(t, fx.router.Resolve(context.Background(), &fx.order))
		assert.Equal(t, 2, venue.quotes)
		assert.Len(t, fx.provider.broadcasts, 1)
	})

	t.Run("missing pool skip-lists the venue", func(t *testing.T) {
		venue := &fakeVenue{name: "test", quoteFunc: quoting(1100000)}
		fx := newFixture(t, []Venue{venue}, nil)
		fx.provider.callErr = errors.New("execution reverted: There are no pools with selected tokens")

		require.NoError(t, fx.router.Resolve(context.Background(), &fx.order))
		assert.Empty(t, fx.provider.broadcasts)

		fx.provider.callErr = nil
		require.NoError(t, fx.router.Resolve(context.Background(), &fx.order))
		assert.Equal(t, 1, venue.quotes)
		assert.Empty(t, fx.provider.broadcasts)
	})
}

func TestRouterAbortsWhenOrderRaced(t *testing.T) {
	venue := &fakeVenue{name: "test", quoteFunc: quoting(1100000)}

	t.Run("filled by someone else mid-flight", func(t *testing.T) {
		venue := &fakeVenue{name: "test", quoteFunc: quoting(1100000)}
		fx := newFixture(t, []Venue{venue}, nil)
		// The vault no longer holds the order once we re-check.
		fx.core.exists = false

		require.NoError(t, fx.router.Resolve(context.Background(), &fx.order))
		assert.Empty(t, fx.provider.broadcasts)
	})

	t.Run("terminal in store mid-flight", func(t *testing.T) {
		fx := newFixture(t, []Venue{venue}, nil)
		terminal := fx.order
		tx := "0xelse"
		terminal.ExecutedTxHash = &tx
		require.NoError(t, fx.orders.Save(terminal))

		require.NoError(t, fx.router.Resolve(context.Background(), &fx.order))
		assert.Empty(t, fx.provider.broadcasts)
		assert.False(t, fx.order.Terminal())
	})
}

func TestRouterBroadcastFailureStaysOpen(t *testing.T) {
	venue := &fakeVenue{name: "test", quoteFunc: quoting(1100000)}
	fx := newFixture(t, []Venue{venue}, nil)
	fx.provider.sendErr = errors.New("nonce too low")

	require.NoError(t, fx.router.Resolve(context.Background(), &fx.order))

	assert.Empty(t, fx.provider.broadcasts)
	assert.False(t, fx.order.Terminal())
}

func TestRouterWitnessSignature(t *testing.T) {
	venue := &fakeVenue{name: "test", quoteFunc: quoting(900000)}
	fx := newFixture(t, []Venue{venue}, nil)

	require.NoError(t, fx.router.Resolve(context.Background(), &fx.order))
	require.NotEmpty(t, fx.order.Signature)

	sig, err := hexutil.Decode(fx.order.Signature)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.GreaterOrEqual(t, sig[64], byte(27))

	// The signature must recover to the order's witness over the sender hash.
	recoverable := append([]byte{}, sig...)
	recoverable[64] -= 27
	sender := crypto.PubkeyToAddress(fx.router.key.PublicKey)
	pub, err := crypto.SigToPub(crypto.Keccak256(sender.Bytes()), recoverable)
	require.NoError(t, err)
	assert.Equal(t, fx.order.Witness, crypto.PubkeyToAddress(*pub))

	// The persisted signature is reused, not recomputed.
	stored, err := fx.orders.Get(fx.order.ID)
	require.NoError(t, err)
	assert.Equal(t, fx.order.Signature, stored.Signature)

	savesBefore := fx.orders.saves
	require.NoError(t, fx.router.Resolve(context.Background(), &fx.order))
	assert.Equal(t, savesBefore, fx.orders.saves)
}

func TestRouterRejectsForeignSecret(t *testing.T) {
	venue := &fakeVenue{name: "test", quoteFunc: quoting(1100000)}
	fx := newFixture(t, []Venue{venue}, nil)

	stranger, err := crypto.GenerateKey()
	require.NoError(t, err)
	fx.order.Secret = hexutil.Encode(crypto.FromECDSA(stranger))

	assert.Error(t, fx.router.Resolve(context.Background(), &fx.order))
	assert.Empty(t, fx.provider.broadcasts)
}

func TestRouterInFlightGuard(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	venue := &fakeVenue{name: "test", quoteFunc: func(data.Order) (*big.Int, error) {
		entered <- struct{}{}
		<-release
		return big.NewInt(1100000), nil
	}}
	fx := newFixture(t, []Venue{venue}, nil)

	first := fx.order
	done := make(chan error, 1)
	go func() { done <- fx.router.Resolve(context.Background(), &first) }()
	<-entered

	// The same order arriving again while the first attempt holds it
	// must be turned away without touching the venue.
	second := fx.order
	require.NoError(t, fx.router.Resolve(context.Background(), &second))
	assert.False(t, second.Terminal())

	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, 1, venue.quotes)
	assert.Len(t, fx.provider.broadcasts, 1)
	assert.True(t, first.Terminal())
}

func TestRouterLoopModeReenters(t *testing.T) {
	var (
		mu       sync.Mutex
		calls    int
		releases = []chan struct{}{make(chan struct{}), make(chan struct{})}
	)
	entered := make(chan struct{})
	venue := &fakeVenue{name: "test", quoteFunc: func(data.Order) (*big.Int, error) {
		mu.Lock()
		ch := releases[calls]
		calls++
		mu.Unlock()
		entered <- struct{}{}
		<-ch
		return big.NewInt(1100000), nil
	}}
	fx := newFixture(t, []Venue{venue}, func(opts *RouterOpts) {
		opts.LoopMode = true
	})

	first := fx.order
	firstDone := make(chan error, 1)
	go func() { firstDone <- fx.router.Resolve(context.Background(), &first) }()
	<-entered

	// Loop mode lets the second attempt in while the first holds the order.
	second := fx.order
	secondDone := make(chan error, 1)
	go func() { secondDone <- fx.router.Resolve(context.Background(), &second) }()
	<-entered

	close(releases[0])
	require.NoError(t, <-firstDone)
	assert.True(t, first.Terminal())

	// The first attempt already filled the order; the commit gate stops
	// the second one from broadcasting a duplicate.
	close(releases[1])
	require.NoError(t, <-secondDone)

	assert.Equal(t, 2, venue.quotes)
	assert.Len(t, fx.provider.broadcasts, 1)
}

func TestIsNoRouteError(t *testing.T) {
	assert.True(t, isNoRouteError(errors.New("execution reverted: no pool")))
	assert.True(t, isNoRouteError(errors.New("UniswapV2Library: INSUFFICIENT_LIQUIDITY")))
	assert.True(t, isNoRouteError(errors.New("there are no pools with selected tokens")))
	assert.False(t, isNoRouteError(errors.New("connection refused")))
	assert.False(t, isNoRouteError(nil))
}

func TestIsPermanentRevert(t *testing.T) {
	assert.True(t, isPermanentRevert(errors.New("execution reverted: There are no pools with selected tokens")))
	assert.True(t, isPermanentRevert(errors.New("missing market data for pair")))
	assert.False(t, isPermanentRevert(errors.New("execution reverted: UniswapV2Library: INSUFFICIENT_LIQUIDITY")))
	assert.False(t, isPermanentRevert(errors.New("connection refused")))
	assert.False(t, isPermanentRevert(nil))
}
