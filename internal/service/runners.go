package service

import (
	"context"

	"github.com/pine-finance/relayer-svc/internal/service/indexer"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

// indexRound advances the deposit scan from the persisted watermark to
// the current chain head. The range is split into bounded sub-ranges and
// the watermark moves only after a sub-range fully succeeded, so a crash
// mid-round rescans at most one sub-range.
func (s *service) indexRound(ctx context.Context) error {
	from := s.indexing.StartBlock
	saved, err := s.watermarks.Get(s.indexing.Strategy)
	if err != nil {
		return errors.Wrap(err, "failed to get watermark")
	}
	if saved != nil && *saved+1 > from {
		from = *saved + 1
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	head, err := s.provider.BlockNumber(reqCtx)
	cancel()
	if err != nil {
		return errors.Wrap(err, "failed to get chain head")
	}
	if from > head {
		return nil
	}

	emit := func(ctx context.Context, raw []byte, origin indexer.Origin) error {
		return s.book.Add(ctx, raw, origin)
	}

	for from <= head {
		to := from + s.indexing.BlockStep - 1
		if to > head {
			to = head
		}

		if err := s.indexer.Scan(ctx, from, to, emit); err != nil {
			return errors.Wrap(err, "scan failed", logan.F{"from": from, "to": to})
		}
		if err := s.watermarks.Set(s.indexing.Strategy, to); err != nil {
			return errors.Wrap(err, "failed to save watermark", logan.F{"block": to})
		}

		from = to + 1
	}

	return nil
}

// executionRound prunes orders the vault no longer holds and then walks
// the remaining open set through the router. A single stuck order must
// not starve the rest, so per-order failures are logged and skipped.
func (s *service) executionRound(ctx context.Context) error {
	open, err := s.book.GetOpenOrders()
	if err != nil {
		return errors.Wrap(err, "failed to load open orders")
	}
	if len(open) == 0 {
		return nil
	}

	gone, err := s.book.ExistsOnChain(ctx, open)
	if err != nil {
		return errors.Wrap(err, "failed to check open orders on-chain")
	}
	pruned := make(map[string]struct{}, len(gone))
	for i := range gone {
		if err := s.book.MarkCancelled(&gone[i]); err != nil {
			s.log.WithError(err).WithField("order_id", gone[i].ID).
				Error("failed to mark order cancelled")
			continue
		}
		pruned[gone[i].ID] = struct{}{}
	}

	for i := range open {
		if _, ok := pruned[open[i].ID]; ok {
			continue
		}
		if err := s.router.Resolve(ctx, &open[i]); err != nil {
			s.log.WithError(err).WithField("order_id", open[i].ID).
				Error("failed to resolve order")
		}

		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "execution round interrupted")
		}
	}

	return nil
}
