package enums

// Currency is one of the two denominations a register prices in.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyLBP Currency = "LBP"
)

var currencies = []Currency{CurrencyUSD, CurrencyLBP}

func (c Currency) String() string { return string(c) }

func (c Currency) IsValid() bool { return member(currencies, c) }

// MinorDigits is the number of decimal places of the currency's minor unit.
// LBP trades in whole pounds.
func (c Currency) MinorDigits() int32 {
	if c == CurrencyLBP {
		return 0
	}
	return 2
}

// ParseCurrency accepts codes in any case: "usd" parses as USD.
func ParseCurrency(value string) (Currency, error) {
	return parse(currencies, value, "currency", true)
}
