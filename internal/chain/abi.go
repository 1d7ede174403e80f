package chain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const mintABIJSON = `[{
  "inputs": [
    {"name": "to", "type": "address"},
    {"name": "amount", "type": "uint256"}
  ],
  "name": "mint",
  "outputs": [{"name": "", "type": "bool"}],
  "stateMutability": "nonpayable",
  "type": "function"
}]`

var mintABI = mustParseABI(mintABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// PackMint encodes calldata for mint(address,uint256).
func PackMint(to common.Address, amountWei *big.Int) ([]byte, error) {
	return mintABI.Pack("mint", to, amountWei)
}

// UnpackMint decodes calldata produced by PackMint.
func UnpackMint(data []byte) (common.Address, *big.Int, error) {
	method, err := mintABI.MethodById(data)
	if err != nil {
		return common.Address{}, nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return common.Address{}, nil, err
	}
	return args[0].(common.Address), args[1].(*big.Int), nil
}
