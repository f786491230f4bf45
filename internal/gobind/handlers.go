package gobind

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

// UniswapRouterMetaData covers the read-only quoting entry point of the
// Uniswap V2 style router the handler routes through.
var UniswapRouterMetaData = &bind.MetaData{
	ABI: `[
		{"type":"function","name":"getAmountsOut","stateMutability":"view","inputs":[
			{"name":"amountIn","type":"uint256"},
			{"name":"path","type":"address[]"}],
			"outputs":[{"name":"amounts","type":"uint256[]"}]}
	]`,
}

type UniswapRouter struct {
	contract *bind.BoundContract
}

func NewUniswapRouter(address common.Address, backend bind.ContractBackend) (*UniswapRouter, error) {
	parsed, err := UniswapRouterMetaData.GetAbi()
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse router ABI")
	}
	return &UniswapRouter{
		contract: bind.NewBoundContract(address, *parsed, backend, backend, backend),
	}, nil
}

func (r *UniswapRouter) GetAmountsOut(opts *bind.CallOpts, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	var out []interface{}
	err := r.contract.Call(opts, &out, "getAmountsOut", amountIn, path)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int), nil
}

// KyberProxyMetaData covers the rate oracle of the Kyber network proxy.
var KyberProxyMetaData = &bind.MetaData{
	ABI: `[
		{"type":"function","name":"getExpectedRate","stateMutability":"view","inputs":[
			{"name":"src","type":"address"},
			{"name":"dest","type":"address"},
			{"name":"srcQty","type":"uint256"}],
			"outputs":[
				{"name":"expectedRate","type":"uint256"},
				{"name":"slippageRate","type":"uint256"}]}
	]`,
}

type KyberProxy struct {
	contract *bind.BoundContract
}

func NewKyberProxy(address common.Address, backend bind.ContractBackend) (*KyberProxy, error) {
	parsed, err := KyberProxyMetaData.GetAbi()
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse kyber proxy ABI")
	}
	return &KyberProxy{
		contract: bind.NewBoundContract(address, *parsed, backend, backend, backend),
	}, nil
}

func (k *KyberProxy) GetExpectedRate(opts *bind.CallOpts, src, dest common.Address, srcQty *big.Int) (*big.Int, *big.Int, error) {
	var out []interface{}
	err := k.contract.Call(opts, &out, "getExpectedRate", src, dest, srcQty)
	if err != nil {
		return nil, nil, err
	}
	expected := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	slippage := *abi.ConvertType(out[1], new(*big.Int)).(**big.Int)
	return expected, slippage, nil
}

// OneSplitMetaData covers the quoting entry point of the 1inch
// aggregation contract.
var OneSplitMetaData = &bind.MetaData{
	ABI: `[
		{"type":"function","name":"getExpectedReturn","stateMutability":"view","inputs":[
			{"name":"fromToken","type":"address"},
			{"name":"destToken","type":"address"},
			{"name":"amount","type":"uint256"},
			{"name":"parts","type":"uint256"},
			{"name":"flags","type":"uint256"}],
			"outputs":[
				{"name":"returnAmount","type":"uint256"},
				{"name":"distribution","type":"uint256[]"}]}
	]`,
}

type OneSplit struct {
	contract *bind.BoundContract
}

func NewOneSplit(address common.Address, backend bind.ContractBackend) (*OneSplit, error) {
	parsed, err := OneSplitMetaData.GetAbi()
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse one split ABI")
	}
	return &OneSplit{
		contract: bind.NewBoundContract(address, *parsed, backend, backend, backend),
	}, nil
}

func (o *OneSplit) GetExpectedReturn(opts *bind.CallOpts, fromToken, destToken common.Address, amount, parts, flags *big.Int) (*big.Int, []*big.Int, error) {
	var out []interface{}
	err := o.contract.Call(opts, &out, "getExpectedReturn", fromToken, destToken, amount, parts, flags)
	if err != nil {
		return nil, nil, err
	}
	returnAmount := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	distribution := *abi.ConvertType(out[1], new([]*big.Int)).(*[]*big.Int)
	return returnAmount, distribution, nil
}
