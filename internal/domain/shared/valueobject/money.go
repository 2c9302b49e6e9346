package valueobject

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrCurrencyMismatch is returned when combining amounts of different currencies
	ErrCurrencyMismatch = errors.New("currency mismatch")
	errNoCurrency       = errors.New("currency cannot be empty")
)

// Money is an exact decimal amount tagged with its currency. Values are
// immutable; arithmetic returns a new Money and never rounds. Rounding to
// the currency scale happens only through Round.
type Money struct {
	amount   decimal.Decimal
	currency Currency
}

func NewMoney(amount decimal.Decimal, currency Currency) (Money, error) {
	if currency == "" {
		return Money{}, errNoCurrency
	}
	return Money{amount: amount, currency: currency}, nil
}

// NewMoneyFromString parses a plain decimal such as "1250.75".
func NewMoneyFromString(amount string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	return NewMoney(d, currency)
}

// MustMoney is NewMoneyFromString for literals; it panics on bad input.
func MustMoney(amount string, currency Currency) Money {
	m, err := NewMoneyFromString(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

func Zero(currency Currency) Money { return Money{amount: decimal.Zero, currency: currency} }

func (m Money) Amount() decimal.Decimal { return m.amount }
func (m Money) Currency() Currency      { return m.currency }
func (m Money) IsZero() bool            { return m.amount.IsZero() }
func (m Money) IsNegative() bool        { return m.amount.IsNegative() }

func (m Money) with(amount decimal.Decimal) Money {
	return Money{amount: amount, currency: m.currency}
}

func (m Money) sameCurrency(other Money) error {
	if m.currency != other.currency {
		return fmt.Errorf("%w: %s and %s", ErrCurrencyMismatch, m.currency, other.currency)
	}
	return nil
}

func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return m.with(m.amount.Add(other.amount)), nil
}

func (m Money) Subtract(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return m.with(m.amount.Sub(other.amount)), nil
}

// Multiply scales the amount without rounding.
func (m Money) Multiply(factor decimal.Decimal) Money { return m.with(m.amount.Mul(factor)) }
func (m Money) Negate() Money                         { return m.with(m.amount.Neg()) }
func (m Money) Abs() Money                            { return m.with(m.amount.Abs()) }

// Round applies banker's rounding at the currency scale. Fees and pro-rata
// splits go through here before they are posted.
func (m Money) Round() Money {
	return m.with(m.amount.RoundBank(m.currency.Scale()))
}

// FitsScale reports whether the amount has no digits beyond the currency scale.
func (m Money) FitsScale() bool {
	return m.amount.Equal(m.amount.Truncate(m.currency.Scale()))
}

func (m Money) Equals(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

func (m Money) GreaterThan(other Money) (bool, error) {
	if err := m.sameCurrency(other); err != nil {
		return false, err
	}
	return m.amount.GreaterThan(other.amount), nil
}

// String renders "12.50 USD" at the currency scale.
func (m Money) String() string {
	return m.amount.StringFixed(m.currency.Scale()) + " " + string(m.currency)
}

// moneyJSON is the wire shape. The amount travels as a string so no
// client parses it through a float.
type moneyJSON struct {
	Amount   string   `json:"amount"`
	Currency Currency `json:"currency"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.amount.String(), Currency: m.currency})
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var v moneyJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	amount, err := decimal.NewFromString(v.Amount)
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	*m = Money{amount: amount, currency: v.Currency}
	return nil
}
