package config

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pine-finance/relayer-svc/internal/data"
	"gitlab.com/distributed_lab/figure/v3"
	"gitlab.com/distributed_lab/kit/kv"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

type Indexing struct {
	Strategy   string
	StartBlock uint64
	// BlockStep bounds the size of a single scan sub-range while catching up.
	BlockStep   uint64
	BlockPeriod time.Duration

	BatchSize     int
	BatchAttempts int

	CuratedTokens []common.Address
	SkipTokens    []common.Address
}

const (
	defaultBlockStep     = 1000
	defaultBlockPeriod   = 5 * time.Second
	defaultBatchSize     = 200
	defaultBatchAttempts = 20
)

func (c *config) Indexing() Indexing {
	return c.indexingOnce.Do(func() interface{} {
		var cfg struct {
			Strategy      string           `fig:"strategy"`
			StartBlock    uint64           `fig:"start_block,required"`
			BlockStep     uint64           `fig:"block_step"`
			BlockPeriod   time.Duration    `fig:"block_period"`
			BatchSize     int              `fig:"batch_size"`
			BatchAttempts int              `fig:"batch_attempts"`
			CuratedTokens []common.Address `fig:"curated_tokens"`
			SkipTokens    []common.Address `fig:"skip_tokens"`
		}

		err := figure.Out(&cfg).
			With(figure.BaseHooks, figure.EthereumHooks).
			From(kv.MustGetStringMap(c.getter, "indexing")).
			Please()
		if err != nil {
			panic(errors.Wrap(err, "failed to figure out indexing"))
		}

		if cfg.Strategy == "" {
			cfg.Strategy = data.StrategyAllTokens
		}
		switch cfg.Strategy {
		case data.StrategyAllTokens:
		case data.StrategyCurated:
			if len(cfg.CuratedTokens) == 0 {
				panic(errors.New("curated strategy requires a non-empty curated_tokens list"))
			}
		default:
			panic(errors.Errorf("unknown indexing strategy %q", cfg.Strategy))
		}

		if cfg.BlockStep == 0 {
			cfg.BlockStep = defaultBlockStep
		}
		if cfg.BlockPeriod == 0 {
			cfg.BlockPeriod = defaultBlockPeriod
		}
		if cfg.BatchSize == 0 {
			cfg.BatchSize = defaultBatchSize
		}
		if cfg.BatchAttempts == 0 {
			cfg.BatchAttempts = defaultBatchAttempts
		}

		return Indexing{
			Strategy:      cfg.Strategy,
			StartBlock:    cfg.StartBlock,
			BlockStep:     cfg.BlockStep,
			BlockPeriod:   cfg.BlockPeriod,
			BatchSize:     cfg.BatchSize,
			BatchAttempts: cfg.BatchAttempts,
			CuratedTokens: cfg.CuratedTokens,
			SkipTokens:    cfg.SkipTokens,
		}
	}).(Indexing)
}
