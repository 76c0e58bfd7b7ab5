// Package numeric normalizes client supplied integers. Values may be written
// as 0x-prefixed hex or as decimal, either as JSON strings or JSON numbers.
package numeric

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/holiman/uint256"
)

// ErrInvalidNumericFormat is returned for anything that is not a plain hex or
// decimal unsigned integer fitting the target width.
var ErrInvalidNumericFormat = errors.New("invalid numeric format")

func parseBig(s string) (*big.Int, error) {
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNumericFormat, s)
	}
	v, ok := math.ParseBig256(s)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNumericFormat, s)
	}
	return v, nil
}

// ParseUint256 parses s into a 256-bit unsigned integer.
func ParseUint256(s string) (*uint256.Int, error) {
	v, err := parseBig(s)
	if err != nil {
		return nil, err
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("%w: %q overflows 256 bits", ErrInvalidNumericFormat, s)
	}
	return u, nil
}

// ParseUint64 parses s into a uint64.
func ParseUint64(s string) (uint64, error) {
	v, err := parseBig(s)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("%w: %q overflows 64 bits", ErrInvalidNumericFormat, s)
	}
	return v.Uint64(), nil
}
