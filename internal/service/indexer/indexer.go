package indexer

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pine-finance/relayer-svc/internal/chain"
	"github.com/pine-finance/relayer-svc/internal/data"
	"github.com/pine-finance/relayer-svc/internal/gobind"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

// Origin identifies the on-chain event a raw order candidate was
// discovered through.
type Origin struct {
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
	// Amount deposited alongside the order: the event amount for native
	// deposits, the transfer argument for token deposits.
	Amount *big.Int
}

// ID derives the stable order identifier from the discovery event.
func (o Origin) ID() string {
	return fmt.Sprintf("%d-%d", o.BlockNumber, o.LogIndex)
}

// Emit consumes one raw candidate payload. An error fails the owning
// sub-range so it is retried without advancing the watermark.
type Emit func(ctx context.Context, raw []byte, origin Origin) error

// minDepositCallData is the shortest transfer call data that can still
// carry a trailing order payload: selector, two static words, the bytes
// head of the vault data, and the payload window itself.
const minDepositCallData = 4 + 2*32 + 2*32 + 7*32

type Indexer struct {
	log      *logan.Entry
	provider chain.Provider
	core     *gobind.PineCore
	tokens   TokenSource
	orders   data.Orders

	batchSize     int
	batchAttempts int
	pool          pond.Pool

	requestTimeout time.Duration
}

func New(
	log *logan.Entry,
	provider chain.Provider,
	core *gobind.PineCore,
	tokens TokenSource,
	orders data.Orders,
	batchSize, batchAttempts int,
	requestTimeout time.Duration,
) *Indexer {
	return &Indexer{
		log:            log.WithField("who", "indexer"),
		provider:       provider,
		core:           core,
		tokens:         tokens,
		orders:         orders,
		batchSize:      batchSize,
		batchAttempts:  batchAttempts,
		pool:           pond.NewPool(batchSize),
		requestTimeout: requestTimeout,
	}
}

// Scan walks [from, to] and emits every raw order candidate exactly once
// per underlying event. Native deposit events are handled before the
// token transfer sweep; completeness of the whole range is guaranteed,
// emission order across tokens is not.
func (ix *Indexer) Scan(ctx context.Context, from, to uint64, emit Emit) error {
	if to < from {
		ix.log.WithFields(logan.F{"from": from, "to": to}).Debug("skipping scan of empty range")
		return nil
	}
	log := ix.log.WithFields(logan.F{"from": from, "to": to})
	log.Debug("scanning range")

	if err := ix.scanDeposits(ctx, from, to, emit); err != nil {
		return errors.Wrap(err, "failed to scan native deposits")
	}

	total, err := ix.tokens.Count(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get token universe size")
	}

	for i := 0; i < total; i++ {
		token, err := ix.tokens.TokenAt(ctx, i)
		if err != nil {
			return errors.Wrap(err, "failed to resolve token", logan.F{"index": i})
		}
		if token == (common.Address{}) {
			continue
		}

		log.WithFields(logan.F{"token": token.Hex(), "checked": i + 1, "total": total}).
			Debug("sweeping token transfers")

		if err = ix.scanToken(ctx, token, from, to, emit); err != nil {
			return errors.Wrap(err, "failed to sweep token", logan.F{"token": token.Hex()})
		}
	}

	log.Debug("finished scanning range")
	return nil
}

func (ix *Indexer) scanDeposits(ctx context.Context, from, to uint64, emit Emit) error {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{ix.core.Address()},
		Topics:    [][]common.Hash{{ix.core.DepositETHTopic()}},
	}

	logs, err := ix.safeFilterLogs(ctx, query, from, to)
	if err != nil {
		return errors.Wrap(err, "failed to filter deposit events")
	}
	ix.log.WithField("count", len(logs)).Debug("found native deposit events")

	for _, l := range logs {
		event, err := ix.core.UnpackDepositETH(l)
		if err != nil {
			ix.log.WithError(err).WithField("tx", l.TxHash.Hex()).
				Info("dropping malformed deposit event")
			continue
		}

		origin := Origin{
			TxHash:      l.TxHash,
			BlockNumber: l.BlockNumber,
			LogIndex:    l.Index,
			Amount:      event.Amount,
		}
		known, err := ix.orders.Exist(origin.ID())
		if err != nil {
			return errors.Wrap(err, "failed to check order existence")
		}
		if known {
			continue
		}

		ix.log.WithField("tx", l.TxHash.Hex()).Info("found native deposit order")
		if err = emit(ctx, event.Data, origin); err != nil {
			return errors.Wrap(err, "failed to emit deposit order")
		}
	}

	return nil
}

func (ix *Indexer) scanToken(ctx context.Context, token common.Address, from, to uint64, emit Emit) error {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{token},
		Topics:    [][]common.Hash{{gobind.TransferEventTopic}},
	}

	logs, err := ix.safeFilterLogs(ctx, query, from, to)
	if err != nil {
		return errors.Wrap(err, "failed to filter transfer events")
	}
	ix.log.WithFields(logan.F{"token": token.Hex(), "count": len(logs)}).
		Debug("found token transfer events")

	// One transaction may fire several transfers; check it once.
	seen := make(map[common.Hash]struct{}, len(logs))
	candidates := make([]types.Log, 0, len(logs))
	for _, l := range logs {
		if _, ok := seen[l.TxHash]; ok {
			continue
		}
		seen[l.TxHash] = struct{}{}
		candidates = append(candidates, l)
	}

	for start := 0; start < len(candidates); start += ix.batchSize {
		end := start + ix.batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		if err = ix.processBatch(ctx, candidates[start:end], emit); err != nil {
			return errors.Wrap(err, "failed to process transfer batch")
		}
	}

	return nil
}

// processBatch inspects a batch of transactions concurrently. A partial
// failure retries the whole batch; emission stays idempotent through the
// store existence check.
func (ix *Indexer) processBatch(ctx context.Context, batch []types.Log, emit Emit) error {
	var lastErr error

	for attempt := 0; attempt < ix.batchAttempts; attempt++ {
		group := ix.pool.NewGroupContext(ctx)
		var mu sync.Mutex

		for _, l := range batch {
			l := l
			group.SubmitErr(func() error {
				return ix.checkTransaction(ctx, l, emit, &mu)
			})
		}

		lastErr = group.Wait()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ix.log.WithError(lastErr).WithField("attempt", attempt+1).
			Warn("transfer batch failed, retrying")
	}

	return errors.Wrap(lastErr, "batch attempts exhausted")
}

func (ix *Indexer) checkTransaction(ctx context.Context, l types.Log, emit Emit, mu *sync.Mutex) error {
	child, cancel := context.WithTimeout(ctx, ix.requestTimeout)
	defer cancel()

	tx, _, err := ix.provider.TransactionByHash(child, l.TxHash)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction", logan.F{"tx": l.TxHash.Hex()})
	}

	callData := tx.Data()
	amount, isTransfer := gobind.ParseTransferAmount(callData)
	if !isTransfer || len(callData) < minDepositCallData {
		ix.log.WithField("tx", l.TxHash.Hex()).Debug("transaction is not an order deposit")
		return nil
	}

	origin := Origin{
		TxHash:      l.TxHash,
		BlockNumber: l.BlockNumber,
		LogIndex:    l.Index,
		Amount:      amount,
	}
	known, err := ix.orders.Exist(origin.ID())
	if err != nil {
		return errors.Wrap(err, "failed to check order existence")
	}
	if known {
		return nil
	}

	ix.log.WithField("tx", l.TxHash.Hex()).Info("found token deposit order")

	// The emit path writes to the store; serialize it so the batch only
	// fans out the provider reads.
	mu.Lock()
	defer mu.Unlock()
	return emit(ctx, callData, origin)
}

// safeFilterLogs wraps the provider log query with recursive bisection:
// when the provider refuses a multi-block range as too large, both halves
// are fetched independently and concatenated. A single block that still
// overflows cannot be split and the error propagates.
func (ix *Indexer) safeFilterLogs(ctx context.Context, query ethereum.FilterQuery, from, to uint64) ([]types.Log, error) {
	query.FromBlock = new(big.Int).SetUint64(from)
	query.ToBlock = new(big.Int).SetUint64(to)

	child, cancel := context.WithTimeout(ctx, ix.requestTimeout)
	logs, err := ix.provider.FilterLogs(child, query)
	cancel()
	if err == nil {
		return logs, nil
	}
	if !chain.IsTooManyResults(err) || from >= to {
		return nil, err
	}

	mid := from + (to-from)/2
	ix.log.WithFields(logan.F{"from": from, "to": to, "mid": mid}).
		Debug("splitting log query in two")

	left, err := ix.safeFilterLogs(ctx, query, from, mid)
	if err != nil {
		return nil, err
	}
	right, err := ix.safeFilterLogs(ctx, query, mid+1, to)
	if err != nil {
		return nil, err
	}

	return append(left, right...), nil
}
