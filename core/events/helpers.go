package events

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func addressString(addr common.Address) string {
	if addr == (common.Address{}) {
		return ""
	}
	return addr.Hex()
}

func tokenIDsString(ids []*big.Int) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, amountString(id))
	}
	return strings.Join(parts, ",")
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
