package handlers

import "math/big"

// toBigString coerces a stored balance or a decoded uint256 arg (which
// arrives as *big.Int from go-ethereum's ABI unpacking) into its decimal
// string form, defaulting to "0" for anything unrecognized.
func toBigString(v interface{}) string {
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			return "0"
		}
		return n.String()
	case string:
		if n == "" {
			return "0"
		}
		return n
	default:
		return "0"
	}
}

// addSignedDecimal adds or subtracts delta from current, both base-10
// strings, returning the result as a base-10 string.
func addSignedDecimal(current, delta string, credit bool) string {
	cur, ok := new(big.Int).SetString(current, 10)
	if !ok {
		cur = big.NewInt(0)
	}
	d, ok := new(big.Int).SetString(delta, 10)
	if !ok {
		d = big.NewInt(0)
	}
	if credit {
		return new(big.Int).Add(cur, d).String()
	}
	return new(big.Int).Sub(cur, d).String()
}
