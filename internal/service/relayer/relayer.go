package relayer

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pine-finance/relayer-svc/internal/chain"
	"github.com/pine-finance/relayer-svc/internal/data"
	"github.com/pine-finance/relayer-svc/internal/oracle"
	"github.com/pine-finance/relayer-svc/internal/service/book"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

// Core is the slice of the vault binding the router needs.
type Core interface {
	Address() common.Address
	PackExecuteOrder(module, inputToken, owner common.Address, data, signature, auxData []byte) ([]byte, error)
}

// FeePolicy adjusts the gas-based fee before execution. The default
// keeps it as computed.
type FeePolicy func(fee *big.Int) *big.Int

// Router resolves one open order per call: price it on the configured
// venues, simulate the fill, and broadcast at most one transaction.
type Router struct {
	log      *logan.Entry
	provider chain.Provider
	core     Core
	book     *book.Book
	orders   data.Orders
	oracle   *oracle.Client

	venues   []Venue
	pickBest bool

	sender    common.Address
	key       *ecdsa.PrivateKey
	chainID   *big.Int
	baseFee   *big.Int
	gasMargin uint64
	feePolicy FeePolicy
	loopMode  bool

	requestTimeout time.Duration

	mu sync.Mutex
	// inFlight guards against resubmitting an order concurrently within
	// this process; cross-process races are handled by the openness
	// re-check before broadcast.
	inFlight map[string]struct{}
	// skip holds venue-order pairs proven permanently unquotable.
	skip map[string]struct{}
}

type RouterOpts struct {
	Provider  chain.Provider
	Core      Core
	Book      *book.Book
	Orders    data.Orders
	Oracle    *oracle.Client
	Venues    []Venue
	PickBest  bool
	Sender    common.Address
	Key       *ecdsa.PrivateKey
	ChainID   *big.Int
	BaseFee   *big.Int
	GasMargin uint64
	FeePolicy FeePolicy
	LoopMode  bool
	Timeout   time.Duration
}

func NewRouter(log *logan.Entry, opts RouterOpts) *Router {
	feePolicy := opts.FeePolicy
	if feePolicy == nil {
		feePolicy = func(fee *big.Int) *big.Int { return fee }
	}
	return &Router{
		log:            log.WithField("who", "router"),
		provider:       opts.Provider,
		core:           opts.Core,
		book:           opts.Book,
		orders:         opts.Orders,
		oracle:         opts.Oracle,
		venues:         opts.Venues,
		pickBest:       opts.PickBest,
		sender:         opts.Sender,
		key:            opts.Key,
		chainID:        opts.ChainID,
		baseFee:        opts.BaseFee,
		gasMargin:      opts.GasMargin,
		feePolicy:      feePolicy,
		loopMode:       opts.LoopMode,
		requestTimeout: opts.Timeout,
		inFlight:       make(map[string]struct{}),
		skip:           make(map[string]struct{}),
	}
}

// Resolve drives one order one step further: it either broadcasts a fill,
// leaves the order open for the next round, or does nothing because the
// order is terminal or another attempt is in flight. A nil return means
// the round goes on; errors are reserved for store failures.
func (r *Router) Resolve(ctx context.Context, order *data.Order) error {
	if order.Terminal() {
		return nil
	}

	log := r.log.WithField("order_id", order.ID)
	if !r.begin(order.ID) {
		log.Debug("order attempt already in flight, skipping")
		return nil
	}
	defer r.end(order.ID)

	signature, err := r.ensureSignature(order)
	if err != nil {
		return err
	}

	venue, expected := r.selectVenue(ctx, *order)
	if venue == nil {
		return nil
	}
	log.WithFields(logan.F{
		"venue":      venue.Name(),
		"expected":   expected.String(),
		"min_return": order.MinReturn.String(),
	}).Debug("order is executable, attempting fill")

	return r.execute(ctx, order, venue, signature)
}

// selectVenue quotes the configured venues and returns the winner, or nil
// when the order is not executable this tick. With the best-quote policy
// every venue is asked and the greatest expected output wins, ties going
// to the first configured.
func (r *Router) selectVenue(ctx context.Context, order data.Order) (Venue, *big.Int) {
	var (
		chosen Venue
		best   *big.Int
	)

	for _, venue := range r.venues {
		log := r.log.WithFields(logan.F{"order_id": order.ID, "venue": venue.Name()})
		if r.skipped(venue, order) {
			continue
		}

		expected, err := venue.Quote(ctx, order)
		if err != nil {
			if errors.Cause(err) == ErrNoRoute {
				log.Info("order permanently ineligible on venue")
				r.addSkip(venue, order)
				continue
			}
			log.WithError(err).Warn("failed to quote order, will retry next round")
			continue
		}

		if expected.Cmp(order.MinReturn) < 0 {
			log.WithFields(logan.F{"expected": expected.String(), "min_return": order.MinReturn.String()}).
				Debug("order not executable on venue this tick")
			continue
		}

		if chosen == nil || expected.Cmp(best) > 0 {
			chosen, best = venue, expected
		}
		if !r.pickBest {
			break
		}
	}

	return chosen, best
}

func (r *Router) execute(ctx context.Context, order *data.Order, venue Venue, signature []byte) error {
	log := r.log.WithFields(logan.F{"order_id": order.ID, "venue": venue.Name()})

	ready, err := r.book.Executable(ctx, *order)
	if err != nil {
		log.WithError(err).Warn("failed to check order readiness, leaving order open")
		return nil
	}
	if !ready {
		log.Debug("vault reports order not executable, leaving order open")
		return nil
	}

	execData, err := book.ExecData(*order)
	if err != nil {
		return err
	}

	// Gas is estimated with a provisional 1 wei fee; the real fee depends
	// on the estimate itself.
	callData, err := r.packCall(order, execData, signature, venue.Handler(), big.NewInt(1))
	if err != nil {
		return err
	}

	coreAddr := r.core.Address()
	msg := ethereum.CallMsg{From: r.sender, To: &coreAddr, Data: callData}

	child, cancel := context.WithTimeout(ctx, r.requestTimeout)
	estimated, err := r.provider.EstimateGas(child, msg)
	cancel()
	if err != nil {
		log.WithError(err).Debug("execution does not estimate, leaving order open")
		return nil
	}

	gasPrice, err := r.gasPrice(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to load gas price")
		return nil
	}

	fee := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(estimated))
	fee.Add(fee, r.baseFee)
	fee = r.feePolicy(fee)

	callData, err = r.packCall(order, execData, signature, venue.Handler(), fee)
	if err != nil {
		return err
	}

	gasLimit := estimated + r.gasMargin
	msg.Data = callData
	msg.Gas = gasLimit
	msg.GasPrice = gasPrice

	// Simulate before committing gas.
	child, cancel = context.WithTimeout(ctx, r.requestTimeout)
	_, err = r.provider.CallContract(child, msg, nil)
	cancel()
	if err != nil {
		if isPermanentRevert(err) {
			log.WithError(err).Info("simulation rejected order permanently on venue")
			r.addSkip(venue, *order)
		} else {
			log.WithError(err).Debug("simulation failed, leaving order open")
		}
		return nil
	}

	// The dry run passed; make sure nobody filled or cancelled the order
	// while we were simulating.
	open, err := r.book.StillOpen(ctx, *order)
	if err != nil {
		log.WithError(err).Warn("failed to re-check order openness, aborting attempt")
		return nil
	}
	if !open {
		log.Debug("order no longer open, abandoning attempt")
		return nil
	}

	child, cancel = context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()

	nonce, err := r.provider.PendingNonceAt(child, r.sender)
	if err != nil {
		return errors.Wrap(err, "failed to get sender nonce")
	}

	tx := types.NewTransaction(nonce, coreAddr, common.Big0, gasLimit, gasPrice, callData)
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(r.chainID), r.key)
	if err != nil {
		return errors.Wrap(err, "failed to sign transaction")
	}

	if err = r.provider.SendTransaction(child, signedTx); err != nil {
		log.WithError(err).Warn("failed to broadcast fill transaction")
		return nil
	}

	executedTx := signedTx.Hash().Hex()
	log.WithFields(logan.F{"executed_tx": executedTx, "fee": fee.String()}).
		Info("filled order")
	return r.book.MarkFilled(order, executedTx)
}

// gasPrice takes the larger of the external oracle's quote and the
// provider's own estimate. An oracle answer of zero means unknown.
func (r *Router) gasPrice(ctx context.Context) (*big.Int, error) {
	recommended := r.oracle.RecommendedGasPrice(ctx)

	child, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()

	suggested, err := r.provider.SuggestGasPrice(child)
	if err != nil {
		if recommended.Sign() > 0 {
			return recommended, nil
		}
		return nil, errors.Wrap(err, "failed to get provider gas price")
	}

	if recommended.Cmp(suggested) > 0 {
		return recommended, nil
	}
	return suggested, nil
}

// ensureSignature derives the witness authorization signature once and
// persists it so later attempts do not re-sign.
func (r *Router) ensureSignature(order *data.Order) ([]byte, error) {
	if order.Signature != "" {
		sig, err := hexutil.Decode(order.Signature)
		return sig, errors.Wrap(err, "invalid cached signature")
	}

	secret, err := hexutil.Decode(order.Secret)
	if err != nil {
		return nil, errors.Wrap(err, "invalid order secret")
	}
	secretKey, err := crypto.ToECDSA(secret)
	if err != nil {
		return nil, errors.Wrap(err, "order secret is not a valid key")
	}
	if derived := crypto.PubkeyToAddress(secretKey.PublicKey); derived != order.Witness {
		return nil, errors.Errorf("order secret derives %s, witness is %s",
			derived.Hex(), order.Witness.Hex())
	}

	sig, err := crypto.Sign(crypto.Keccak256(r.sender.Bytes()), secretKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign witness authorization")
	}
	// The vault expects the legacy 27/28 recovery id.
	sig[64] += 27

	order.Signature = hexutil.Encode(sig)
	if err = r.orders.Save(*order); err != nil {
		return nil, errors.Wrap(err, "failed to persist order signature")
	}

	r.log.WithField("order_id", order.ID).Debug("computed witness signature")
	return sig, nil
}

func (r *Router) packCall(order *data.Order, execData, signature []byte, handler common.Address, fee *big.Int) ([]byte, error) {
	auxData, err := packAuxData(handler, r.sender, fee)
	if err != nil {
		return nil, err
	}
	return r.core.PackExecuteOrder(order.Module, order.InputToken, order.Owner, execData, signature, auxData)
}

func (r *Router) begin(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inFlight[id]; ok && !r.loopMode {
		return false
	}
	r.inFlight[id] = struct{}{}
	return true
}

func (r *Router) end(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, id)
}

func (r *Router) skipped(venue Venue, order data.Order) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.skip[venue.Name()+"|"+order.ID]
	return ok
}

func (r *Router) addSkip(venue Venue, order data.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skip[venue.Name()+"|"+order.ID] = struct{}{}
}

var auxDataArguments abi.Arguments

func init() {
	addressT, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	uint256T, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	auxDataArguments = abi.Arguments{
		{Name: "handler", Type: addressT},
		{Name: "relayer", Type: addressT},
		{Name: "fee", Type: uint256T},
	}
}

func packAuxData(handler, relayer common.Address, fee *big.Int) ([]byte, error) {
	packed, err := auxDataArguments.Pack(handler, relayer, fee)
	return packed, errors.Wrap(err, "failed to pack aux data")
}
