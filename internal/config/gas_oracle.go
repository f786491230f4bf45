package config

import (
	"net/http"
	"net/url"
	"time"

	"github.com/pine-finance/relayer-svc/internal/oracle"
	"gitlab.com/distributed_lab/figure/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

type GasOracle struct {
	Client *oracle.Client
}

func (c *config) GasOracle() GasOracle {
	return c.gasOracleOnce.Do(func() interface{} {
		var cfg struct {
			Endpoint       string        `fig:"endpoint"`
			RequestTimeout time.Duration `fig:"request_timeout"`
		}

		raw, err := c.getter.GetStringMap("gas_oracle")
		if err != nil {
			panic(errors.Wrap(err, "failed to get gas_oracle config"))
		}
		if raw == nil {
			// The oracle is optional; without it the provider estimate is used.
			return GasOracle{}
		}

		err = figure.Out(&cfg).From(raw).Please()
		if err != nil {
			panic(errors.Wrap(err, "failed to figure out gas_oracle"))
		}
		if cfg.Endpoint == "" {
			return GasOracle{}
		}
		endpoint, err := url.Parse(cfg.Endpoint)
		if err != nil {
			panic(errors.Wrap(err, "invalid gas_oracle endpoint"))
		}

		if cfg.RequestTimeout == 0 {
			cfg.RequestTimeout = defaultRequestTimeout
		}

		return GasOracle{Client: oracle.NewClient(
			c.Log().WithField("who", "gas-oracle"),
			endpoint,
			&http.Client{Timeout: cfg.RequestTimeout},
		)}
	}).(GasOracle)
}
