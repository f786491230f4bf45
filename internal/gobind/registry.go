package gobind

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

// TokenRegistryMetaData describes the factory-style registry the
// all-tokens indexing strategy enumerates. Token ids are 1-based.
var TokenRegistryMetaData = &bind.MetaData{
	ABI: `[
		{"type":"function","name":"tokenCount","stateMutability":"view","inputs":[],
			"outputs":[{"name":"","type":"uint256"}]},
		{"type":"function","name":"getTokenWithId","stateMutability":"view","inputs":[
			{"name":"_id","type":"uint256"}],
			"outputs":[{"name":"","type":"address"}]}
	]`,
}

type TokenRegistry struct {
	contract *bind.BoundContract
}

func NewTokenRegistry(address common.Address, backend bind.ContractBackend) (*TokenRegistry, error) {
	parsed, err := TokenRegistryMetaData.GetAbi()
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse registry ABI")
	}
	return &TokenRegistry{
		contract: bind.NewBoundContract(address, *parsed, backend, backend, backend),
	}, nil
}

func (r *TokenRegistry) TokenCount(opts *bind.CallOpts) (*big.Int, error) {
	var out []interface{}
	err := r.contract.Call(opts, &out, "tokenCount")
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (r *TokenRegistry) GetTokenWithID(opts *bind.CallOpts, id *big.Int) (common.Address, error) {
	var out []interface{}
	err := r.contract.Call(opts, &out, "getTokenWithId", id)
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}
