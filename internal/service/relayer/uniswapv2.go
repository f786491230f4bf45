package relayer

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pine-finance/relayer-svc/internal/data"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

// RouterContract is the quoting surface of a Uniswap V2 style router.
type RouterContract interface {
	GetAmountsOut(opts *bind.CallOpts, amountIn *big.Int, path []common.Address) ([]*big.Int, error)
}

// UniswapV2 prices orders against a V2 AMM. Pairs that do not include
// the wrapped native token are additionally routed through it, and the
// better of the two quotes wins.
type UniswapV2 struct {
	log            *logan.Entry
	handler        common.Address
	router         RouterContract
	wrappedNative  common.Address
	requestTimeout time.Duration
}

func NewUniswapV2(log *logan.Entry, handler common.Address, router RouterContract, wrappedNative common.Address, requestTimeout time.Duration) *UniswapV2 {
	return &UniswapV2{
		log:            log.WithField("venue", "uniswap_v2"),
		handler:        handler,
		router:         router,
		wrappedNative:  wrappedNative,
		requestTimeout: requestTimeout,
	}
}

func (v *UniswapV2) Name() string {
	return "uniswap_v2"
}

func (v *UniswapV2) Handler() common.Address {
	return v.handler
}

func (v *UniswapV2) Quote(ctx context.Context, order data.Order) (*big.Int, error) {
	input := v.wrapNative(order.InputToken)
	output := v.wrapNative(order.OutputToken)
	if input == output {
		return nil, errors.Wrap(ErrNoRoute, "input and output resolve to the same asset")
	}

	paths := [][]common.Address{{input, output}}
	if input != v.wrappedNative && output != v.wrappedNative {
		paths = append(paths, []common.Address{input, v.wrappedNative, output})
	}

	var (
		best         *big.Int
		transientErr error
	)
	for _, path := range paths {
		child, cancel := context.WithTimeout(ctx, v.requestTimeout)
		amounts, err := v.router.GetAmountsOut(&bind.CallOpts{Context: child}, order.InputAmount, path)
		cancel()
		if err != nil {
			if isNoRouteError(err) {
				v.log.WithFields(logan.F{"order_id": order.ID, "hops": len(path) - 1}).
					Debug("no pair for path")
				continue
			}
			transientErr = err
			continue
		}
		if len(amounts) == 0 {
			continue
		}

		out := amounts[len(amounts)-1]
		if best == nil || out.Cmp(best) > 0 {
			best = out
		}
	}

	if best == nil {
		if transientErr != nil {
			return nil, errors.Wrap(transientErr, "failed to quote order")
		}
		return nil, errors.Wrap(ErrNoRoute, "no path has liquidity")
	}
	return best, nil
}

func (v *UniswapV2) wrapNative(token common.Address) common.Address {
	if token == data.NativeAsset {
		return v.wrappedNative
	}
	return token
}
