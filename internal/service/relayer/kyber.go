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

// RateSource is the quoting surface of the Kyber network proxy.
type RateSource interface {
	GetExpectedRate(opts *bind.CallOpts, src, dest common.Address, srcQty *big.Int) (*big.Int, *big.Int, error)
}

// Rates are quoted with 18 decimals of precision.
var ratePrecision = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Kyber prices orders against the network proxy's expected rate. The
// proxy understands the native asset sentinel directly; token-to-token
// pairs are quoted as two sequential hops through the native asset.
type Kyber struct {
	log            *logan.Entry
	handler        common.Address
	proxy          RateSource
	requestTimeout time.Duration
}

func NewKyber(log *logan.Entry, handler common.Address, proxy RateSource, requestTimeout time.Duration) *Kyber {
	return &Kyber{
		log:            log.WithField("venue", "kyber"),
		handler:        handler,
		proxy:          proxy,
		requestTimeout: requestTimeout,
	}
}

func (v *Kyber) Name() string {
	return "kyber"
}

func (v *Kyber) Handler() common.Address {
	return v.handler
}

func (v *Kyber) Quote(ctx context.Context, order data.Order) (*big.Int, error) {
	if order.InputToken == data.NativeAsset || order.OutputToken == data.NativeAsset {
		return v.expectedOut(ctx, order.InputToken, order.OutputToken, order.InputAmount)
	}

	viaNative, err := v.expectedOut(ctx, order.InputToken, data.NativeAsset, order.InputAmount)
	if err != nil {
		return nil, err
	}
	out, err := v.expectedOut(ctx, data.NativeAsset, order.OutputToken, viaNative)
	if err != nil {
		return nil, err
	}

	v.log.WithFields(logan.F{"order_id": order.ID, "via_native": viaNative.String()}).
		Debug("quoted token-to-token order through native asset")
	return out, nil
}

func (v *Kyber) expectedOut(ctx context.Context, src, dest common.Address, amount *big.Int) (*big.Int, error) {
	child, cancel := context.WithTimeout(ctx, v.requestTimeout)
	defer cancel()

	rate, _, err := v.proxy.GetExpectedRate(&bind.CallOpts{Context: child}, src, dest, amount)
	if err != nil {
		if isNoRouteError(err) {
			return nil, errors.Wrap(ErrNoRoute, "rate query reverted")
		}
		return nil, errors.Wrap(err, "failed to get expected rate")
	}
	if rate.Sign() == 0 {
		// The proxy reports unknown markets as a zero rate.
		return nil, errors.Wrap(ErrNoRoute, "market has no rate")
	}

	out := new(big.Int).Mul(amount, rate)
	return out.Quo(out, ratePrecision), nil
}
