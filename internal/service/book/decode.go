package book

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

// PayloadLength is the byte size of the raw order window: seven static
// ABI words trailing the deposit call data.
const PayloadLength = 7 * 32

var orderArguments abi.Arguments

func init() {
	addressT, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	uint256T, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	bytes32T, err := abi.NewType("bytes32", "", nil)
	if err != nil {
		panic(err)
	}

	orderArguments = abi.Arguments{
		{Name: "module", Type: addressT},
		{Name: "inputToken", Type: addressT},
		{Name: "outputToken", Type: addressT},
		{Name: "minReturn", Type: uint256T},
		{Name: "owner", Type: addressT},
		{Name: "witness", Type: addressT},
		{Name: "secret", Type: bytes32T},
	}
}

// decodedOrder is the raw payload unpacked, before it becomes a stored order.
type decodedOrder struct {
	Module      common.Address
	InputToken  common.Address
	OutputToken common.Address
	MinReturn   *big.Int
	Owner       common.Address
	Witness     common.Address
	Secret      [32]byte
}

// decodePayload unpacks the trailing raw order window. Payloads longer
// than the window keep only the trailing bytes, matching how orders are
// appended to deposit call data.
func decodePayload(raw []byte) (*decodedOrder, error) {
	if len(raw) < PayloadLength {
		return nil, errors.Errorf("payload too short: %d bytes", len(raw))
	}
	raw = raw[len(raw)-PayloadLength:]

	values, err := orderArguments.Unpack(raw)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unpack order payload")
	}

	var decoded decodedOrder
	if err = orderArguments.Copy(&decoded, values); err != nil {
		return nil, errors.Wrap(err, "failed to copy unpacked payload")
	}

	if decoded.Module == (common.Address{}) {
		return nil, errors.New("payload has zero module address")
	}
	if decoded.Owner == (common.Address{}) {
		return nil, errors.New("payload has zero owner address")
	}
	if decoded.Secret == ([32]byte{}) {
		return nil, errors.New("payload has zero secret")
	}

	return &decoded, nil
}

func (d *decodedOrder) secretHex() string {
	return hexutil.Encode(d.Secret[:])
}

// EncodePayload packs order fields into the raw trailing window. Used by
// tests and tooling to produce well-formed payloads.
func EncodePayload(module, inputToken, outputToken common.Address, minReturn *big.Int, owner, witness common.Address, secret [32]byte) ([]byte, error) {
	packed, err := orderArguments.Pack(module, inputToken, outputToken, minReturn, owner, witness, secret)
	return packed, errors.Wrap(err, "failed to pack order payload")
}
