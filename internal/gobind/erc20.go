package gobind

import (
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// TransferEventTopic is keccak256("Transfer(address,address,uint256)").
var TransferEventTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// TransferSelector is the 4-byte method id of ERC20 transfer(address,uint256).
var TransferSelector = []byte{0xa9, 0x05, 0x9c, 0xbb}

// ParseTransferAmount extracts the amount argument from transfer call data.
// Returns false when the data is not a transfer call.
func ParseTransferAmount(callData []byte) (*big.Int, bool) {
	if len(callData) < 4+32+32 {
		return nil, false
	}
	for i, b := range TransferSelector {
		if callData[i] != b {
			return nil, false
		}
	}
	return new(big.Int).SetBytes(callData[36:68]), true
}
