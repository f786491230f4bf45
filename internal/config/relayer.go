package config

import (
	"crypto/ecdsa"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"gitlab.com/distributed_lab/figure/v3"
	"gitlab.com/distributed_lab/kit/kv"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

// Venue selection policies.
const (
	VenueUniswapV2 = "uniswap_v2"
	VenueKyber     = "kyber"
	VenueOneInch   = "one_inch"
	VenueBest      = "best"
)

type Relayer struct {
	Sender common.Address
	Key    *ecdsa.PrivateKey

	Venue   string
	BaseFee *big.Int
	// GasMargin is added on top of the gas estimate for the broadcast limit.
	GasMargin   uint64
	RoundPeriod time.Duration
	// LoopMode re-attempts orders already marked in-flight within a round
	// instead of skipping them.
	LoopMode bool
}

// 0.01 of the native coin, the historical relayer minimum.
const defaultBaseFee = "10000000000000000"

const defaultGasMargin uint64 = 50000
const defaultRoundPeriod = time.Minute

func (c *config) Relayer() Relayer {
	return c.relayerOnce.Do(func() interface{} {
		var cfg struct {
			Sender      common.Address `fig:"sender,required"`
			Key         string         `fig:"key,required"`
			Venue       string         `fig:"venue"`
			BaseFee     string         `fig:"base_fee"`
			GasMargin   uint64         `fig:"gas_margin"`
			RoundPeriod time.Duration  `fig:"round_period"`
			LoopMode    bool           `fig:"loop_mode"`
		}

		err := figure.Out(&cfg).
			With(figure.BaseHooks, figure.EthereumHooks).
			From(kv.MustGetStringMap(c.getter, "relayer")).
			Please()
		if err != nil {
			panic(errors.Wrap(err, "failed to figure out relayer"))
		}

		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.Key, "0x"))
		if err != nil {
			panic(errors.Wrap(err, "failed to parse relayer key"))
		}
		if derived := crypto.PubkeyToAddress(key.PublicKey); derived != cfg.Sender {
			panic(errors.Errorf("configured sender %s does not correspond to the key (derived %s)",
				cfg.Sender.Hex(), derived.Hex()))
		}

		if cfg.Venue == "" {
			cfg.Venue = VenueUniswapV2
		}
		switch cfg.Venue {
		case VenueUniswapV2, VenueKyber, VenueOneInch, VenueBest:
		default:
			panic(errors.Errorf("unknown venue %q", cfg.Venue))
		}

		if cfg.BaseFee == "" {
			cfg.BaseFee = defaultBaseFee
		}
		baseFee, ok := new(big.Int).SetString(cfg.BaseFee, 10)
		if !ok || baseFee.Sign() < 0 {
			panic(errors.Errorf("invalid base_fee %q", cfg.BaseFee))
		}

		if cfg.GasMargin == 0 {
			cfg.GasMargin = defaultGasMargin
		}
		if cfg.RoundPeriod == 0 {
			cfg.RoundPeriod = defaultRoundPeriod
		}

		return Relayer{
			Sender:      cfg.Sender,
			Key:         key,
			Venue:       cfg.Venue,
			BaseFee:     baseFee,
			GasMargin:   cfg.GasMargin,
			RoundPeriod: cfg.RoundPeriod,
			LoopMode:    cfg.LoopMode,
		}
	}).(Relayer)
}
