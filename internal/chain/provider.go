package chain

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Provider is the subset of the RPC client the service depends on.
// *ethclient.Client satisfies it.
type Provider interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Known substrings of the "result set too large" condition as different
// providers word it. Geth caps eth_getLogs at 10000 results, Infura and
// Alchemy respond with their own phrasing.
var tooManyResultsMarkers = []string{
	"more than 10000 results",
	"query returned more than",
	"log response size exceeded",
	"request entity too large",
}

// IsTooManyResults reports whether err is the provider refusing a log
// query because the range matches too many events. Such errors are
// recoverable by splitting the range.
func IsTooManyResults(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range tooManyResultsMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
