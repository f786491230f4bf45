package relayer

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pine-finance/relayer-svc/internal/data"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

// ErrNoRoute marks an order as permanently unquotable on a venue: no
// pool or market exists for the pair. The router stops asking that venue
// about the order for the rest of the process lifetime.
var ErrNoRoute = errors.New("no route available")

// Venue is one execution adapter: it can price an order against its
// liquidity source and names the handler contract the vault routes the
// fill through.
type Venue interface {
	Name() string
	Handler() common.Address
	// Quote returns the expected output amount for the order's input.
	// ErrNoRoute (possibly wrapped) means the pair cannot trade on this
	// venue at all; any other error is transient.
	Quote(ctx context.Context, order data.Order) (*big.Int, error)
}

// Quote reverts come back as opaque call errors; these markers separate
// "the pair does not trade here" from transient provider failures.
var noRouteMarkers = []string{
	"execution reverted",
	"insufficient_liquidity",
	"insufficient_input_amount",
	"there are no pools",
	"missing market data",
}

func isNoRouteError(err error) bool {
	return matchesAny(err, noRouteMarkers)
}

// Simulation reverts are a weaker signal than quote reverts: the call can
// fail on prices moving between quote and dry run. Only messages that name
// a structural problem with the pair put the order on the skip list.
var permanentRevertMarkers = []string{
	"there are no pools",
	"missing market data",
}

func isPermanentRevert(err error) bool {
	return matchesAny(err, permanentRevertMarkers)
}

func matchesAny(err error, markers []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range markers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
