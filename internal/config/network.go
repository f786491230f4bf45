package config

import (
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pine-finance/relayer-svc/internal/gobind"
	"gitlab.com/distributed_lab/figure/v3"
	"gitlab.com/distributed_lab/kit/kv"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

type Network struct {
	EthClient *ethclient.Client
	Core      *gobind.PineCore
	ChainID   *big.Int

	CoreContract   common.Address
	Registry       common.Address
	WrappedNative  common.Address
	UniswapRouter  common.Address
	UniswapHandler common.Address
	KyberProxy     common.Address
	KyberHandler   common.Address
	OneSplit       common.Address
	OneInchHandler common.Address

	RequestTimeout time.Duration
}

const defaultRequestTimeout = 10 * time.Second
const maxChainID int64 = math.MaxUint64/2 - 36

// knownAddresses carries per-chain contract defaults, resolved once from
// the configured chain id. Any of them can be overridden in the config
// file for chains not listed here.
var knownAddresses = map[int64]struct {
	core, registry, wrappedNative string
	uniswapRouter, uniswapHandler string
	kyberProxy, kyberHandler      string
	oneSplit, oneInchHandler      string
}{
	1: {
		core:           "0xd412054cca18a61278ced6f674a526a6940ebd84",
		registry:       "0xc0a47dFe034B400B47bDaD5FecDa2621de6c4d95",
		wrappedNative:  "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
		uniswapRouter:  "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D",
		uniswapHandler: "0x4b00296Eb3d6261807A6AbBA7E8244C6cBb8EC7D",
		kyberProxy:     "0x9AAb3f75489902f3a48495025729a0AF77d4b11e",
		kyberHandler:   "0x7157eeffd675cc01c50eafe69823e6836ea5c9cc",
		oneSplit:       "0xC586BeF4a0992C495Cf22e1aeEE4E446CECDee0E",
		oneInchHandler: "0xdcce5c7b7caf980fd8fadd6d89d68f6003468197",
	},
	4: {
		core:           "0xd412054cca18a61278ced6f674a526a6940ebd84",
		registry:       "0xf5D915570BC477f9B8D6C0E980aA81757A3AaC36",
		wrappedNative:  "0xc778417E063141139Fce010982780140Aa0cD5Ab",
		uniswapRouter:  "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D",
		uniswapHandler: "0xbf95dd8dfbccdba150b4bc3d227a80c53acd3e0f",
		kyberProxy:     "0x0d5371e5EE23dec7DF251A8957279629aa79E9C5",
		kyberHandler:   "0x7157eeffd675cc01c50eafe69823e6836ea5c9cc",
		oneSplit:       "0xC586BeF4a0992C495Cf22e1aeEE4E446CECDee0E",
		oneInchHandler: "0xdcce5c7b7caf980fd8fadd6d89d68f6003468197",
	},
}

func (c *config) Network() Network {
	return c.networkOnce.Do(func() interface{} {
		var cfg struct {
			RPC            string         `fig:"rpc,required"`
			ChainID        int64          `fig:"chain_id,required"`
			Contract       common.Address `fig:"contract"`
			Registry       common.Address `fig:"registry"`
			WrappedNative  common.Address `fig:"wrapped_native"`
			UniswapRouter  common.Address `fig:"uniswap_router"`
			UniswapHandler common.Address `fig:"uniswap_handler"`
			KyberProxy     common.Address `fig:"kyber_proxy"`
			KyberHandler   common.Address `fig:"kyber_handler"`
			OneSplit       common.Address `fig:"one_split"`
			OneInchHandler common.Address `fig:"one_inch_handler"`
			RequestTimeout time.Duration  `fig:"request_timeout"`
		}

		err := figure.Out(&cfg).
			With(figure.BaseHooks, figure.EthereumHooks).
			From(kv.MustGetStringMap(c.getter, "network")).
			Please()
		if err != nil {
			panic(errors.Wrap(err, "failed to figure out network"))
		}

		if !validChainID(cfg.ChainID) {
			panic("chain_id value out of range due to EIP 2294")
		}

		known, ok := knownAddresses[cfg.ChainID]
		if ok {
			fillDefault(&cfg.Contract, known.core)
			fillDefault(&cfg.Registry, known.registry)
			fillDefault(&cfg.WrappedNative, known.wrappedNative)
			fillDefault(&cfg.UniswapRouter, known.uniswapRouter)
			fillDefault(&cfg.UniswapHandler, known.uniswapHandler)
			fillDefault(&cfg.KyberProxy, known.kyberProxy)
			fillDefault(&cfg.KyberHandler, known.kyberHandler)
			fillDefault(&cfg.OneSplit, known.oneSplit)
			fillDefault(&cfg.OneInchHandler, known.oneInchHandler)
		}
		if isZero(cfg.Contract) {
			panic(errors.Errorf("no core contract address known for chain %d", cfg.ChainID))
		}
		if isZero(cfg.WrappedNative) {
			panic(errors.Errorf("no wrapped native address known for chain %d", cfg.ChainID))
		}

		cli, err := ethclient.Dial(cfg.RPC)
		if err != nil {
			panic(errors.Wrap(err, "failed to connect to RPC provider"))
		}
		core, err := gobind.NewPineCore(cfg.Contract, cli)
		if err != nil {
			panic(errors.Wrap(err, "failed to create core contract binding"))
		}

		if cfg.RequestTimeout == 0 {
			cfg.RequestTimeout = defaultRequestTimeout
		}

		return Network{
			EthClient:      cli,
			Core:           core,
			ChainID:        big.NewInt(cfg.ChainID),
			CoreContract:   cfg.Contract,
			Registry:       cfg.Registry,
			WrappedNative:  cfg.WrappedNative,
			UniswapRouter:  cfg.UniswapRouter,
			UniswapHandler: cfg.UniswapHandler,
			KyberProxy:     cfg.KyberProxy,
			KyberHandler:   cfg.KyberHandler,
			OneSplit:       cfg.OneSplit,
			OneInchHandler: cfg.OneInchHandler,
			RequestTimeout: cfg.RequestTimeout,
		}
	}).(Network)
}

func validChainID(id int64) bool {
	return id > 0 && id <= maxChainID
}

func fillDefault(addr *common.Address, hex string) {
	if isZero(*addr) {
		*addr = common.HexToAddress(hex)
	}
}

func isZero(addr common.Address) bool {
	return addr == (common.Address{})
}
