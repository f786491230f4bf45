package oracle

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/url"

	"gitlab.com/distributed_lab/logan/v3"
)

// Client polls an external gas-station endpoint for a recommended gas
// price. A zero answer means "unknown" and callers fall back to the
// provider's own estimate.
type Client struct {
	log      *logan.Entry
	endpoint *url.URL
	http     *http.Client
}

func NewClient(log *logan.Entry, endpoint *url.URL, http *http.Client) *Client {
	return &Client{log: log, endpoint: endpoint, http: http}
}

// The endpoint reports speed tiers in tenths of gwei.
type stationResponse struct {
	Fast json.Number `json:"fast"`
}

// tenthGweiToWei is the factor from the station's unit to wei.
var tenthGweiToWei = big.NewInt(100000000)

// RecommendedGasPrice returns the oracle's quote in wei, or zero when the
// oracle is unconfigured, unreachable or returns garbage. Oracle failures
// are never escalated; the provider estimate always remains available.
func (c *Client) RecommendedGasPrice(ctx context.Context) *big.Int {
	if c == nil || c.endpoint == nil {
		return new(big.Int)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint.String(), nil)
	if err != nil {
		c.log.WithError(err).Warn("failed to build gas oracle request")
		return new(big.Int)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.WithError(err).Warn("failed to fetch gas oracle data")
		return new(big.Int)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		c.log.WithField("status", resp.StatusCode).Warn("gas oracle returned non-200")
		return new(big.Int)
	}

	var body stationResponse
	if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.log.WithError(err).Warn("failed to decode gas oracle response")
		return new(big.Int)
	}

	// The tier may come as a decimal number; big.Rat keeps the conversion
	// exact before flooring to wei.
	rat, ok := new(big.Rat).SetString(body.Fast.String())
	if !ok || rat.Sign() < 0 {
		c.log.WithField("fast", body.Fast.String()).Warn("gas oracle returned invalid value")
		return new(big.Int)
	}

	rat.Mul(rat, new(big.Rat).SetInt(tenthGweiToWei))
	return new(big.Int).Quo(rat.Num(), rat.Denom())
}
