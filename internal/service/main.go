package service

import (
	"context"
	"time"

	"github.com/pine-finance/relayer-svc/internal/chain"
	"github.com/pine-finance/relayer-svc/internal/config"
	"github.com/pine-finance/relayer-svc/internal/data"
	"github.com/pine-finance/relayer-svc/internal/data/postgres"
	"github.com/pine-finance/relayer-svc/internal/gobind"
	"github.com/pine-finance/relayer-svc/internal/service/book"
	"github.com/pine-finance/relayer-svc/internal/service/indexer"
	"github.com/pine-finance/relayer-svc/internal/service/relayer"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
	"gitlab.com/distributed_lab/running"
)

type service struct {
	log        *logan.Entry
	cfg        config.Config
	provider   chain.Provider
	orders     data.Orders
	watermarks data.Watermarks
	book       *book.Book
	indexer    *indexer.Indexer
	router     *relayer.Router
	indexing   config.Indexing
	timeout    time.Duration
}

func (s *service) run() error {
	s.log.Info("Service started")
	ctx := context.Background()

	go running.WithBackOff(ctx, s.log, "height-watcher",
		s.indexRound,
		s.indexing.BlockPeriod, s.indexing.BlockPeriod, 10*s.indexing.BlockPeriod)

	running.WithBackOff(ctx, s.log, "executor",
		s.executionRound,
		s.cfg.Relayer().RoundPeriod, s.cfg.Relayer().RoundPeriod, 10*s.cfg.Relayer().RoundPeriod)

	return nil
}

func newService(cfg config.Config) *service {
	log := cfg.Log()
	net := cfg.Network()
	rel := cfg.Relayer()
	indexing := cfg.Indexing()

	orders := postgres.NewOrders(cfg.DB())
	watermarks := postgres.NewWatermarks(cfg.DB())

	orderBook := book.New(log, orders, net.Core, indexing.BatchSize, net.RequestTimeout)

	tokens := newTokenSource(net, indexing)
	ix := indexer.New(log, net.EthClient, net.Core, tokens, orders,
		indexing.BatchSize, indexing.BatchAttempts, net.RequestTimeout)

	venues := newVenues(log, net, rel)
	router := relayer.NewRouter(log, relayer.RouterOpts{
		Provider:  net.EthClient,
		Core:      net.Core,
		Book:      orderBook,
		Orders:    orders,
		Oracle:    cfg.GasOracle().Client,
		Venues:    venues,
		PickBest:  rel.Venue == config.VenueBest,
		Sender:    rel.Sender,
		Key:       rel.Key,
		ChainID:   net.ChainID,
		BaseFee:   rel.BaseFee,
		GasMargin: rel.GasMargin,
		LoopMode:  rel.LoopMode,
		Timeout:   net.RequestTimeout,
	})

	return &service{
		log:        log,
		cfg:        cfg,
		provider:   net.EthClient,
		orders:     orders,
		watermarks: watermarks,
		book:       orderBook,
		indexer:    ix,
		router:     router,
		indexing:   indexing,
		timeout:    net.RequestTimeout,
	}
}

func newTokenSource(net config.Network, indexing config.Indexing) indexer.TokenSource {
	if indexing.Strategy == data.StrategyCurated {
		return indexer.NewCuratedSource(indexing.CuratedTokens)
	}

	registry, err := gobind.NewTokenRegistry(net.Registry, net.EthClient)
	if err != nil {
		panic(errors.Wrap(err, "failed to create token registry binding"))
	}
	return indexer.NewRegistrySource(registry, indexing.SkipTokens, net.RequestTimeout)
}

// newVenues builds the closed set of execution adapters the deployment
// is configured with. The best-quote policy gets every venue; otherwise
// only the default one is wired.
func newVenues(log *logan.Entry, net config.Network, rel config.Relayer) []relayer.Venue {
	router, err := gobind.NewUniswapRouter(net.UniswapRouter, net.EthClient)
	if err != nil {
		panic(errors.Wrap(err, "failed to create uniswap router binding"))
	}
	uniswap := relayer.NewUniswapV2(log, net.UniswapHandler, router, net.WrappedNative, net.RequestTimeout)

	proxy, err := gobind.NewKyberProxy(net.KyberProxy, net.EthClient)
	if err != nil {
		panic(errors.Wrap(err, "failed to create kyber proxy binding"))
	}
	kyber := relayer.NewKyber(log, net.KyberHandler, proxy, net.RequestTimeout)

	split, err := gobind.NewOneSplit(net.OneSplit, net.EthClient)
	if err != nil {
		panic(errors.Wrap(err, "failed to create one split binding"))
	}
	oneInch := relayer.NewOneInch(log, net.OneInchHandler, split, net.RequestTimeout)

	switch rel.Venue {
	case config.VenueUniswapV2:
		return []relayer.Venue{uniswap}
	case config.VenueKyber:
		return []relayer.Venue{kyber}
	case config.VenueOneInch:
		return []relayer.Venue{oneInch}
	default:
		return []relayer.Venue{uniswap, kyber, oneInch}
	}
}

func Run(cfg config.Config) {
	if err := newService(cfg).run(); err != nil {
		panic(err)
	}
}
