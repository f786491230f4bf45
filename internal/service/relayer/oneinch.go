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

// SplitSource is the quoting surface of the 1inch aggregation contract.
type SplitSource interface {
	GetExpectedReturn(opts *bind.CallOpts, fromToken, destToken common.Address, amount, parts, flags *big.Int) (*big.Int, []*big.Int, error)
}

// splitParts is how many chunks the aggregator may split the swap into
// when searching for the best distribution.
var (
	splitParts = big.NewInt(10)
	splitFlags = big.NewInt(0)
)

// OneInch prices orders against the 1inch on-chain aggregator. The
// aggregator understands the native asset sentinel directly; token-to-token
// pairs are quoted as two sequential hops through the native asset.
type OneInch struct {
	log            *logan.Entry
	handler        common.Address
	split          SplitSource
	requestTimeout time.Duration
}

func NewOneInch(log *logan.Entry, handler common.Address, split SplitSource, requestTimeout time.Duration) *OneInch {
	return &OneInch{
		log:            log.WithField("venue", "one_inch"),
		handler:        handler,
		split:          split,
		requestTimeout: requestTimeout,
	}
}

func (v *OneInch) Name() string {
	return "one_inch"
}

func (v *OneInch) Handler() common.Address {
	return v.handler
}

func (v *OneInch) Quote(ctx context.Context, order data.Order) (*big.Int, error) {
	if order.InputToken == data.NativeAsset || order.OutputToken == data.NativeAsset {
		return v.expectedReturn(ctx, order.InputToken, order.OutputToken, order.InputAmount)
	}

	viaNative, err := v.expectedReturn(ctx, order.InputToken, data.NativeAsset, order.InputAmount)
	if err != nil {
		return nil, err
	}
	out, err := v.expectedReturn(ctx, data.NativeAsset, order.OutputToken, viaNative)
	if err != nil {
		return nil, err
	}

	v.log.WithFields(logan.F{"order_id": order.ID, "via_native": viaNative.String()}).
		Debug("quoted token-to-token order through native asset")
	return out, nil
}

func (v *OneInch) expectedReturn(ctx context.Context, from, dest common.Address, amount *big.Int) (*big.Int, error) {
	child, cancel := context.WithTimeout(ctx, v.requestTimeout)
	defer cancel()

	out, _, err := v.split.GetExpectedReturn(&bind.CallOpts{Context: child},
		from, dest, amount, splitParts, splitFlags)
	if err != nil {
		if isNoRouteError(err) {
			return nil, errors.Wrap(ErrNoRoute, "return query reverted")
		}
		return nil, errors.Wrap(err, "failed to get expected return")
	}
	if out.Sign() == 0 {
		// The aggregator reports untradable pairs as a zero return.
		return nil, errors.Wrap(ErrNoRoute, "pair has no return")
	}
	return out, nil
}
