package services

import (
	"fmt"
	"math/big"
	"strings"
)

// ReadableAmount renders a base-unit integer amount as a human string
// truncated (never rounded) to 3 fractional digits, per the faucet's
// display convention. ReadableAmount(1234) with decimals=3 -> "1.234
// SYM"; ReadableAmount(1) with decimals=3 -> "0.001 SYM";
// ReadableAmount(0) -> "0 SYM".
func ReadableAmount(amount *big.Int, decimals uint8, symbol string) string {
	if amount == nil || amount.Sign() == 0 {
		return fmt.Sprintf("0 %s", symbol)
	}

	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	digits := abs.String()

	if int(decimals) >= len(digits) {
		digits = strings.Repeat("0", int(decimals)-len(digits)+1) + digits
	}
	split := len(digits) - int(decimals)
	whole := digits[:split]
	frac := digits[split:]

	const displayPrecision = 3
	if len(frac) > displayPrecision {
		frac = frac[:displayPrecision]
	} else {
		frac = frac + strings.Repeat("0", displayPrecision-len(frac))
	}

	out := whole + "." + frac
	if neg {
		out = "-" + out
	}
	return fmt.Sprintf("%s %s", out, symbol)
}
