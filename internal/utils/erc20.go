package utils

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ERC20TransferABI is the minimal ABI fragment needed to encode and audit
// reward transfers.
const ERC20TransferABI = `[{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}]`

// ERC20TransferData encodes calldata for transfer(to, amount).
func ERC20TransferData(to common.Address, amount *big.Int) ([]byte, error) {
	parsedABI, err := abi.JSON(strings.NewReader(ERC20TransferABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	data, err := parsedABI.Pack("transfer", to, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transfer call: %w", err)
	}
	return data, nil
}

// ParseAmount converts a decimal (or 0x-prefixed hex) string into a big
// integer token amount. Negative amounts are rejected.
func ParseAmount(value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	base := 10
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		value = value[2:]
		base = 16
	}
	amount, ok := new(big.Int).SetString(value, base)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative: %q", value)
	}
	return amount, nil
}
