package numeric

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/holiman/uint256"
)

// Uint256 is a 256-bit integer accepting hex or decimal, quoted or bare.
// It marshals as a 0x-prefixed hex string.
type Uint256 struct {
	uint256.Int
}

// NewUint256 wraps v.
func NewUint256(v *uint256.Int) *Uint256 {
	u := new(Uint256)
	if v != nil {
		u.Set(v)
	}
	return u
}

// Value returns a copy of the wrapped integer.
func (u *Uint256) Value() *uint256.Int {
	if u == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(&u.Int)
}

func (u *Uint256) UnmarshalJSON(input []byte) error {
	if isNull(input) {
		return nil
	}
	v, err := ParseUint256(unquote(input))
	if err != nil {
		return err
	}
	u.Set(v)
	return nil
}

func (u Uint256) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.Hex())
}

// Uint64 is a uint64 accepting hex or decimal, quoted or bare. It marshals as
// a JSON number.
type Uint64 uint64

func (u *Uint64) UnmarshalJSON(input []byte) error {
	if isNull(input) {
		return nil
	}
	v, err := ParseUint64(unquote(input))
	if err != nil {
		return err
	}
	*u = Uint64(v)
	return nil
}

func (u Uint64) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatUint(uint64(u), 10)), nil
}

func unquote(input []byte) string {
	input = bytes.TrimSpace(input)
	if len(input) >= 2 && input[0] == '"' && input[len(input)-1] == '"' {
		return string(input[1 : len(input)-1])
	}
	return string(input)
}

func isNull(input []byte) bool {
	return string(bytes.TrimSpace(input)) == "null"
}
