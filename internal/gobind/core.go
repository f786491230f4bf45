package gobind

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

// PineCoreMetaData holds the hand-maintained ABI of the order vault
// contract, limited to what the relayer touches.
var PineCoreMetaData = &bind.MetaData{
	ABI: `[
		{"type":"event","name":"DepositETH","anonymous":false,"inputs":[
			{"name":"_key","type":"bytes32","indexed":true},
			{"name":"_caller","type":"address","indexed":true},
			{"name":"_amount","type":"uint256","indexed":false},
			{"name":"_data","type":"bytes","indexed":false}]},
		{"type":"function","name":"existOrder","stateMutability":"view","inputs":[
			{"name":"_module","type":"address"},
			{"name":"_inputToken","type":"address"},
			{"name":"_owner","type":"address"},
			{"name":"_witness","type":"address"},
			{"name":"_data","type":"bytes"}],
			"outputs":[{"name":"","type":"bool"}]},
		{"type":"function","name":"canExecuteOrder","stateMutability":"view","inputs":[
			{"name":"_module","type":"address"},
			{"name":"_inputToken","type":"address"},
			{"name":"_owner","type":"address"},
			{"name":"_witness","type":"address"},
			{"name":"_data","type":"bytes"}],
			"outputs":[{"name":"","type":"bool"}]},
		{"type":"function","name":"executeOrder","stateMutability":"nonpayable","inputs":[
			{"name":"_module","type":"address"},
			{"name":"_inputToken","type":"address"},
			{"name":"_owner","type":"address"},
			{"name":"_data","type":"bytes"},
			{"name":"_signature","type":"bytes"},
			{"name":"_auxData","type":"bytes"}],
			"outputs":[]}
	]`,
}

const DepositETHEvent = "DepositETH"

type PineCore struct {
	address  common.Address
	abi      abi.ABI
	contract *bind.BoundContract
}

func NewPineCore(address common.Address, backend bind.ContractBackend) (*PineCore, error) {
	parsed, err := PineCoreMetaData.GetAbi()
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse core contract ABI")
	}
	return &PineCore{
		address:  address,
		abi:      *parsed,
		contract: bind.NewBoundContract(address, *parsed, backend, backend, backend),
	}, nil
}

func (p *PineCore) Address() common.Address {
	return p.address
}

// DepositETHTopic returns the topic hash to filter vault deposit events by.
func (p *PineCore) DepositETHTopic() common.Hash {
	return p.abi.Events[DepositETHEvent].ID
}

// DepositETH is the decoded body of a vault deposit event. Key and
// Caller come from the indexed topics; the raw order payload is carried
// inline in Data.
type DepositETH struct {
	Key    [32]byte
	Caller common.Address
	Amount *big.Int
	Data   []byte
	Raw    types.Log
}

func (p *PineCore) UnpackDepositETH(log types.Log) (*DepositETH, error) {
	var event DepositETH
	if err := p.contract.UnpackLog(&event, DepositETHEvent, log); err != nil {
		return nil, errors.Wrap(err, "failed to unpack deposit event")
	}
	event.Raw = log
	return &event, nil
}

func (p *PineCore) ExistOrder(opts *bind.CallOpts, module, inputToken, owner, witness common.Address, data []byte) (bool, error) {
	var out []interface{}
	err := p.contract.Call(opts, &out, "existOrder", module, inputToken, owner, witness, data)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (p *PineCore) CanExecuteOrder(opts *bind.CallOpts, module, inputToken, owner, witness common.Address, data []byte) (bool, error) {
	var out []interface{}
	err := p.contract.Call(opts, &out, "canExecuteOrder", module, inputToken, owner, witness, data)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// PackExecuteOrder builds the call data of the execution entry point, used
// both for the read-only dry run and for the real transaction.
func (p *PineCore) PackExecuteOrder(module, inputToken, owner common.Address, data, signature, auxData []byte) ([]byte, error) {
	packed, err := p.abi.Pack("executeOrder", module, inputToken, owner, data, signature, auxData)
	return packed, errors.Wrap(err, "failed to pack executeOrder call")
}
