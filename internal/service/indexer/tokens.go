package indexer

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pine-finance/relayer-svc/internal/gobind"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

// TokenSource enumerates the token universe a scan sweeps for transfers.
type TokenSource interface {
	Count(ctx context.Context) (int, error)
	// TokenAt may return the zero address for tokens the strategy skips.
	TokenAt(ctx context.Context, index int) (common.Address, error)
}

// registrySource pages every token known to the on-chain registry.
// Registry ids are 1-based; resolved addresses are cached for the process
// lifetime since the registry is append-only.
type registrySource struct {
	registry *gobind.TokenRegistry
	timeout  time.Duration

	cache map[int]common.Address
	skip  map[common.Address]struct{}
}

func NewRegistrySource(registry *gobind.TokenRegistry, skipTokens []common.Address, timeout time.Duration) TokenSource {
	skip := make(map[common.Address]struct{}, len(skipTokens))
	for _, token := range skipTokens {
		skip[token] = struct{}{}
	}
	return &registrySource{
		registry: registry,
		timeout:  timeout,
		cache:    make(map[int]common.Address),
		skip:     skip,
	}
}

func (s *registrySource) Count(ctx context.Context) (int, error) {
	child, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	total, err := s.registry.TokenCount(&bind.CallOpts{Context: child})
	if err != nil {
		return 0, errors.Wrap(err, "failed to get registry token count")
	}
	return int(total.Int64()), nil
}

func (s *registrySource) TokenAt(ctx context.Context, index int) (common.Address, error) {
	id := index + 1

	token, ok := s.cache[id]
	if !ok {
		child, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		var err error
		token, err = s.registry.GetTokenWithID(&bind.CallOpts{Context: child}, big.NewInt(int64(id)))
		if err != nil {
			return common.Address{}, errors.Wrap(err, "failed to get token by registry id")
		}
		s.cache[id] = token
	}

	if _, skipped := s.skip[token]; skipped {
		return common.Address{}, nil
	}
	return token, nil
}

// curatedSource sweeps a fixed configured list.
type curatedSource struct {
	tokens []common.Address
}

func NewCuratedSource(tokens []common.Address) TokenSource {
	return curatedSource{tokens: tokens}
}

func (s curatedSource) Count(context.Context) (int, error) {
	return len(s.tokens), nil
}

func (s curatedSource) TokenAt(_ context.Context, index int) (common.Address, error) {
	if index < 0 || index >= len(s.tokens) {
		return common.Address{}, errors.Errorf("token index %d out of range", index)
	}
	return s.tokens[index], nil
}
