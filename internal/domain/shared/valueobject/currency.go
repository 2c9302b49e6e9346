package valueobject

import (
	"fmt"
	"strings"

	"golang.org/x/text/currency"
)

// Currency is an upper-case currency or asset code
type Currency string

const (
	USD  Currency = "USD"
	EUR  Currency = "EUR"
	GBP  Currency = "GBP"
	JPY  Currency = "JPY"
	USDC Currency = "USDC"
	USDT Currency = "USDT"
	BTC  Currency = "BTC"
	ETH  Currency = "ETH"
)

// digitalAssetScales lists the non-ISO assets the platform settles in
var digitalAssetScales = map[Currency]int32{
	USDC: 6,
	USDT: 6,
	BTC:  8,
	ETH:  18,
}

// ParseCurrency validates a code as an ISO-4217 currency or a supported digital asset
func ParseCurrency(code string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(code)))
	if c == "" {
		return "", fmt.Errorf("currency cannot be empty")
	}
	if _, ok := digitalAssetScales[c]; ok {
		return c, nil
	}
	if _, err := currency.ParseISO(string(c)); err != nil {
		return "", fmt.Errorf("unsupported currency %q: %w", code, err)
	}
	return c, nil
}

// IsValid reports whether the currency is known
func (c Currency) IsValid() bool {
	_, err := ParseCurrency(string(c))
	return err == nil
}

// Scale returns the number of decimal places amounts in this currency may carry
func (c Currency) Scale() int32 {
	if s, ok := digitalAssetScales[c]; ok {
		return s
	}
	unit, err := currency.ParseISO(string(c))
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

// String returns the currency code
func (c Currency) String() string {
	return string(c)
}
