package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Price is a nullable decimal column written by another job. A stored value that is
// not a number scans as null with Malformed holding the raw text, so one bad row does
// not fail the whole query.
type Price struct {
	decimal.NullDecimal

	Malformed string `json:"-"`
}

func NewPrice(d decimal.Decimal) Price {
	return Price{NullDecimal: decimal.NewNullDecimal(d)}
}

// Scan implements the sql.Scanner interface.
func (p *Price) Scan(value interface{}) error {
	p.Malformed = ""
	if err := p.NullDecimal.Scan(value); err != nil {
		p.NullDecimal = decimal.NullDecimal{}
		switch v := value.(type) {
		case []byte:
			p.Malformed = string(v)
		default:
			p.Malformed = fmt.Sprint(v)
		}
	}
	return nil
}

// Usable reports whether the price is present, numeric and positive.
func (p Price) Usable() bool {
	return p.Malformed == "" && p.Valid && p.Decimal.IsPositive()
}
