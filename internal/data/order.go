package data

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// NativeAsset is the sentinel token address denoting the chain's native coin.
var NativeAsset = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// CancelledTx is the terminal sentinel for orders that vanished on-chain
// instead of being filled by us.
const CancelledTx = "0x"

type Orders interface {
	Exist(id string) (bool, error)
	// Save upserts the order. A terminal tx already present in the store is
	// never overwritten by a different value, and a second insert of the
	// same id keeps the stored immutable fields.
	Save(Order) error
	Get(id string) (*Order, error)
	GetOpen() ([]Order, error)
	GetByCreatedTx(hash string) ([]Order, error)
}

type Order struct {
	// ID is chain-assigned or derived from the discovery event as
	// "blockNumber-logIndex", unique across repeated scans.
	ID          string
	Module      common.Address
	InputToken  common.Address
	OutputToken common.Address
	InputAmount *big.Int
	MinReturn   *big.Int
	Owner       common.Address
	Witness     common.Address
	// Secret is the private value the witness authorization signature is
	// derived from.
	Secret string
	// Signature is computed lazily on the first execution attempt and
	// persisted so retries do not re-sign.
	Signature     string
	CreatedTxHash common.Hash

	// ExecutedTxHash is the sole terminal marker: nil while open, a real tx
	// hash once filled, CancelledTx once proven gone.
	ExecutedTxHash *string
}

// Terminal reports whether the order reached its final state.
func (o Order) Terminal() bool {
	return o.ExecutedTxHash != nil
}

// Cancelled reports whether the order was closed without us filling it.
func (o Order) Cancelled() bool {
	return o.ExecutedTxHash != nil && *o.ExecutedTxHash == CancelledTx
}
