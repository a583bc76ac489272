package money

import (
	"math"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Formatter renders minor-unit amounts as locale-aware currency strings.
type Formatter struct {
	tag  language.Tag
	unit currency.Unit
}

// NewFormatter builds a formatter for the given ISO currency code and BCP 47
// locale. Unknown codes fall back to USD and unknown locales to English so
// display formatting never fails.
func NewFormatter(code, locale string) Formatter {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		unit = currency.USD
	}
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		tag = language.English
	}
	return Formatter{tag: tag, unit: unit}
}

// Currency returns the ISO code the formatter renders in.
func (f Formatter) Currency() string {
	return f.unit.String()
}

// Format renders a minor-unit amount with the currency symbol.
func (f Formatter) Format(amount Money) string {
	p := message.NewPrinter(f.tag)
	return p.Sprintf("%v", currency.Symbol(f.unit.Amount(f.toMajor(amount))))
}

func (f Formatter) toMajor(amount Money) float64 {
	scale, _ := currency.Cash.Rounding(f.unit)
	return float64(amount) / math.Pow10(scale)
}
