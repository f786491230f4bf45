package book

import (
	"context"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pine-finance/relayer-svc/internal/data"
	"github.com/pine-finance/relayer-svc/internal/service/indexer"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

// CoreContract is the slice of the vault the ledger needs: the on-chain
// order existence and readiness views.
type CoreContract interface {
	ExistOrder(opts *bind.CallOpts, module, inputToken, owner, witness common.Address, data []byte) (bool, error)
	CanExecuteOrder(opts *bind.CallOpts, module, inputToken, owner, witness common.Address, data []byte) (bool, error)
}

// Book is the single source of truth for order existence and openness,
// mediating between the indexer and the execution router. Openness is
// always read from the store so multiple relayer instances can share it.
type Book struct {
	log    *logan.Entry
	orders data.Orders
	core   CoreContract

	pool           pond.Pool
	requestTimeout time.Duration
}

func New(log *logan.Entry, orders data.Orders, core CoreContract, batchSize int, requestTimeout time.Duration) *Book {
	return &Book{
		log:            log.WithField("who", "book"),
		orders:         orders,
		core:           core,
		pool:           pond.NewPool(batchSize),
		requestTimeout: requestTimeout,
	}
}

// Add decodes a raw candidate payload and admits it as an open order.
// Malformed payloads are dropped and logged, never persisted; duplicates
// of an already known id are skipped. Only store failures propagate.
func (b *Book) Add(ctx context.Context, raw []byte, origin indexer.Origin) error {
	log := b.log.WithField("order_id", origin.ID())

	decoded, err := decodePayload(raw)
	if err != nil {
		log.WithError(err).Info("dropping candidate with malformed payload")
		return nil
	}

	known, err := b.orders.Exist(origin.ID())
	if err != nil {
		return errors.Wrap(err, "failed to check order existence")
	}
	if known {
		log.Debug("order already known, skipping")
		return nil
	}

	order := data.Order{
		ID:            origin.ID(),
		Module:        decoded.Module,
		InputToken:    decoded.InputToken,
		OutputToken:   decoded.OutputToken,
		InputAmount:   origin.Amount,
		MinReturn:     decoded.MinReturn,
		Owner:         decoded.Owner,
		Witness:       decoded.Witness,
		Secret:        decoded.secretHex(),
		CreatedTxHash: origin.TxHash,
	}

	if err = b.orders.Save(order); err != nil {
		return errors.Wrap(err, "failed to save order")
	}

	log.WithFields(logan.F{
		"owner":        order.Owner.Hex(),
		"input_token":  order.InputToken.Hex(),
		"output_token": order.OutputToken.Hex(),
	}).Info("admitted new order")
	return nil
}

// GetOpenOrders reads the current open set from the store, never a cache.
func (b *Book) GetOpenOrders() ([]data.Order, error) {
	orders, err := b.orders.GetOpen()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get open orders")
	}
	b.log.WithField("count", len(orders)).Debug("loaded open orders")
	return orders, nil
}

// MarkFilled sets the terminal tx of the order exactly once. A second
// call on an already terminal order is a no-op: both the in-memory field
// and the store upsert keep the first value.
func (b *Book) MarkFilled(order *data.Order, txHash string) error {
	if order.Terminal() {
		b.log.WithField("order_id", order.ID).Debug("order already terminal, keeping first result")
		return nil
	}

	order.ExecutedTxHash = &txHash
	if err := b.orders.Save(*order); err != nil {
		return errors.Wrap(err, "failed to persist terminal order state")
	}

	b.log.WithFields(logan.F{"order_id": order.ID, "executed_tx": txHash}).
		Info("order reached terminal state")
	return nil
}

// MarkCancelled closes an order that no longer exists on-chain.
func (b *Book) MarkCancelled(order *data.Order) error {
	return b.MarkFilled(order, data.CancelledTx)
}

// ExistsOnChain returns the subset of candidates that provably no longer
// exist on-chain. A failed check keeps the order in the open set: absence
// of proof is not proof of absence.
func (b *Book) ExistsOnChain(ctx context.Context, candidates []data.Order) ([]data.Order, error) {
	var (
		mu   sync.Mutex
		gone []data.Order
	)

	group := b.pool.NewGroupContext(ctx)
	for _, order := range candidates {
		order := order
		group.Submit(func() {
			exists, err := b.existOrder(ctx, order)
			if err != nil {
				b.log.WithError(err).WithField("order_id", order.ID).
					Warn("existence check failed, keeping order open")
				return
			}
			if exists {
				return
			}
			mu.Lock()
			gone = append(gone, order)
			mu.Unlock()
		})
	}

	if err := group.Wait(); err != nil && ctx.Err() != nil {
		return nil, errors.Wrap(err, "existence check cancelled")
	}
	return gone, nil
}

// StillOpen is the final commit gate: the store must not show a terminal
// state and the vault must still hold the order. Any error aborts the
// current attempt.
func (b *Book) StillOpen(ctx context.Context, order data.Order) (bool, error) {
	stored, err := b.orders.Get(order.ID)
	if err != nil {
		return false, errors.Wrap(err, "failed to re-read order")
	}
	if stored == nil || stored.Terminal() {
		return false, nil
	}

	exists, err := b.existOrder(ctx, order)
	if err != nil {
		return false, errors.Wrap(err, "failed to re-check order on-chain")
	}
	return exists, nil
}

// Executable asks the vault's order module whether the fill would pass
// right now. It is the cheap gate before any gas is estimated: a limit
// order below its price target exists but is not executable.
func (b *Book) Executable(ctx context.Context, order data.Order) (bool, error) {
	execData, err := ExecData(order)
	if err != nil {
		return false, err
	}

	child, cancel := context.WithTimeout(ctx, b.requestTimeout)
	defer cancel()

	ready, err := b.core.CanExecuteOrder(&bind.CallOpts{Context: child},
		order.Module, order.InputToken, order.Owner, order.Witness, execData)
	return ready, errors.Wrap(err, "failed to check order readiness")
}

func (b *Book) existOrder(ctx context.Context, order data.Order) (bool, error) {
	execData, err := ExecData(order)
	if err != nil {
		return false, err
	}

	child, cancel := context.WithTimeout(ctx, b.requestTimeout)
	defer cancel()

	return b.core.ExistOrder(&bind.CallOpts{Context: child},
		order.Module, order.InputToken, order.Owner, order.Witness, execData)
}

var execDataArguments abi.Arguments

func init() {
	addressT, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	uint256T, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	execDataArguments = abi.Arguments{
		{Name: "outputToken", Type: addressT},
		{Name: "minReturn", Type: uint256T},
	}
}

// ExecData packs the module-specific order data passed to the vault's
// existence and execution entry points.
func ExecData(order data.Order) ([]byte, error) {
	packed, err := execDataArguments.Pack(order.OutputToken, order.MinReturn)
	return packed, errors.Wrap(err, "failed to pack order exec data")
}
