package relayer

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pine-finance/relayer-svc/internal/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

var (
	wrappedNative = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenA        = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	tokenB        = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

type fakeRouterContract struct {
	amounts func(path []common.Address) ([]*big.Int, error)
}

func (f *fakeRouterContract) GetAmountsOut(_ *bind.CallOpts, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	return f.amounts(path)
}

func tokenOrder(input, output common.Address) data.Order {
	return data.Order{
		ID:          "10-0",
		InputToken:  input,
		OutputToken: output,
		InputAmount: big.NewInt(1000),
		MinReturn:   big.NewInt(1),
	}
}

func TestUniswapV2Quote(t *testing.T) {
	t.Run("best of direct and through-native paths", func(t *testing.T) {
		router := &fakeRouterContract{amounts: func(path []common.Address) ([]*big.Int, error) {
			if len(path) == 2 {
				return []*big.Int{big.NewInt(1000), big.NewInt(500)}, nil
			}
			return []*big.Int{big.NewInt(1000), big.NewInt(2000), big.NewInt(800)}, nil
		}}
		venue := NewUniswapV2(logan.New(), common.Address{}, router, wrappedNative, time.Second)

		out, err := venue.Quote(context.Background(), tokenOrder(tokenA, tokenB))
		require.NoError(t, err)
		assert.Zero(t, out.Cmp(big.NewInt(800)))
	})

	t.Run("native input maps to the wrapped token", func(t *testing.T) {
		var seenPaths [][]common.Address
		router := &fakeRouterContract{amounts: func(path []common.Address) ([]*big.Int, error) {
			seenPaths = append(seenPaths, path)
			return []*big.Int{big.NewInt(1000), big.NewInt(500)}, nil
		}}
		venue := NewUniswapV2(logan.New(), common.Address{}, router, wrappedNative, time.Second)

		_, err := venue.Quote(context.Background(), tokenOrder(data.NativeAsset, tokenB))
		require.NoError(t, err)
		// No through-native detour when one side already is the native asset.
		require.Len(t, seenPaths, 1)
		assert.Equal(t, []common.Address{wrappedNative, tokenB}, seenPaths[0])
	})

	t.Run("native to wrapped native has no route", func(t *testing.T) {
		venue := NewUniswapV2(logan.New(), common.Address{}, &fakeRouterContract{}, wrappedNative, time.Second)

		_, err := venue.Quote(context.Background(), tokenOrder(data.NativeAsset, wrappedNative))
		assert.Equal(t, ErrNoRoute, errors.Cause(err))
	})

	t.Run("all paths reverting means no route", func(t *testing.T) {
		router := &fakeRouterContract{amounts: func([]common.Address) ([]*big.Int, error) {
			return nil, errors.New("execution reverted")
		}}
		venue := NewUniswapV2(logan.New(), common.Address{}, router, wrappedNative, time.Second)

		_, err := venue.Quote(context.Background(), tokenOrder(tokenA, tokenB))
		assert.Equal(t, ErrNoRoute, errors.Cause(err))
	})

	t.Run("transient failure is not a no-route verdict", func(t *testing.T) {
		router := &fakeRouterContract{amounts: func([]common.Address) ([]*big.Int, error) {
			return nil, errors.New("connection refused")
		}}
		venue := NewUniswapV2(logan.New(), common.Address{}, router, wrappedNative, time.Second)

		_, err := venue.Quote(context.Background(), tokenOrder(tokenA, tokenB))
		require.Error(t, err)
		assert.NotEqual(t, ErrNoRoute, errors.Cause(err))
	})
}

type fakeRateSource struct {
	rates map[[2]common.Address]*big.Int
}

func (f *fakeRateSource) GetExpectedRate(_ *bind.CallOpts, src, dest common.Address, _ *big.Int) (*big.Int, *big.Int, error) {
	rate, ok := f.rates[[2]common.Address{src, dest}]
	if !ok {
		return big.NewInt(0), big.NewInt(0), nil
	}
	return rate, new(big.Int).Div(rate, big.NewInt(100)), nil
}

func TestKyberQuote(t *testing.T) {
	// Rates carry 18 decimals: 2e18 doubles the amount per hop.
	double := new(big.Int).Mul(big.NewInt(2), ratePrecision)

	t.Run("direct quote with native leg", func(t *testing.T) {
		proxy := &fakeRateSource{rates: map[[2]common.Address]*big.Int{
			{data.NativeAsset, tokenB}: double,
		}}
		venue := NewKyber(logan.New(), common.Address{}, proxy, time.Second)

		out, err := venue.Quote(context.Background(), tokenOrder(data.NativeAsset, tokenB))
		require.NoError(t, err)
		assert.Zero(t, out.Cmp(big.NewInt(2000)))
	})

	t.Run("token to token hops through native", func(t *testing.T) {
		proxy := &fakeRateSource{rates: map[[2]common.Address]*big.Int{
			{tokenA, data.NativeAsset}: double,
			{data.NativeAsset, tokenB}: double,
		}}
		venue := NewKyber(logan.New(), common.Address{}, proxy, time.Second)

		out, err := venue.Quote(context.Background(), tokenOrder(tokenA, tokenB))
		require.NoError(t, err)
		assert.Zero(t, out.Cmp(big.NewInt(4000)))
	})

	t.Run("zero rate means no route", func(t *testing.T) {
		venue := NewKyber(logan.New(), common.Address{}, &fakeRateSource{}, time.Second)

		_, err := venue.Quote(context.Background(), tokenOrder(tokenA, tokenB))
		assert.Equal(t, ErrNoRoute, errors.Cause(err))
	})
}

type fakeSplitSource struct {
	returns map[[2]common.Address]*big.Int
	parts   []*big.Int
	flags   []*big.Int
}

func (f *fakeSplitSource) GetExpectedReturn(_ *bind.CallOpts, fromToken, destToken common.Address, _, parts, flags *big.Int) (*big.Int, []*big.Int, error) {
	f.parts = append(f.parts, parts)
	f.flags = append(f.flags, flags)
	out, ok := f.returns[[2]common.Address{fromToken, destToken}]
	if !ok {
		return big.NewInt(0), nil, nil
	}
	return out, []*big.Int{big.NewInt(10)}, nil
}

func TestOneInchQuote(t *testing.T) {
	t.Run("direct quote with native leg", func(t *testing.T) {
		split := &fakeSplitSource{returns: map[[2]common.Address]*big.Int{
			{data.NativeAsset, tokenB}: big.NewInt(2000),
		}}
		venue := NewOneInch(logan.New(), common.Address{}, split, time.Second)

		out, err := venue.Quote(context.Background(), tokenOrder(data.NativeAsset, tokenB))
		require.NoError(t, err)
		assert.Zero(t, out.Cmp(big.NewInt(2000)))
		// The aggregator is always asked for a 10-way split with no flags.
		require.Len(t, split.parts, 1)
		assert.Zero(t, split.parts[0].Cmp(big.NewInt(10)))
		assert.Zero(t, split.flags[0].Sign())
	})

	t.Run("token to token hops through native", func(t *testing.T) {
		split := &fakeSplitSource{returns: map[[2]common.Address]*big.Int{
			{tokenA, data.NativeAsset}: big.NewInt(3000),
			{data.NativeAsset, tokenB}: big.NewInt(4500),
		}}
		venue := NewOneInch(logan.New(), common.Address{}, split, time.Second)

		out, err := venue.Quote(context.Background(), tokenOrder(tokenA, tokenB))
		require.NoError(t, err)
		assert.Zero(t, out.Cmp(big.NewInt(4500)))
		require.Len(t, split.parts, 2)
	})

	t.Run("zero return means no route", func(t *testing.T) {
		venue := NewOneInch(logan.New(), common.Address{}, &fakeSplitSource{}, time.Second)

		_, err := venue.Quote(context.Background(), tokenOrder(tokenA, tokenB))
		assert.Equal(t, ErrNoRoute, errors.Cause(err))
	})

	t.Run("transient failure is not a no-route verdict", func(t *testing.T) {
		venue := NewOneInch(logan.New(), common.Address{}, &failingSplitSource{}, time.Second)

		_, err := venue.Quote(context.Background(), tokenOrder(tokenA, tokenB))
		require.Error(t, err)
		assert.NotEqual(t, ErrNoRoute, errors.Cause(err))
	})
}

type failingSplitSource struct{}

func (failingSplitSource) GetExpectedReturn(*bind.CallOpts, common.Address, common.Address, *big.Int, *big.Int, *big.Int) (*big.Int, []*big.Int, error) {
	return nil, nil, errors.New("connection refused")
}
