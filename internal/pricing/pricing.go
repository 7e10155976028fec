// Package pricing maps purchasable roles to their price and the flat
// commission paid to the inviter.
package pricing

import (
	"errors"
	"fmt"

	"github.com/smallbiznis/vervex/internal/role"
)

// Money is an amount in the smallest currency unit.
type Money int64

// Table is an immutable snapshot of prices and commissions.
type Table struct {
	Prices      map[role.Role]Money
	Commissions map[role.Role]Money
}

// Source yields the pricing table currently in force.
type Source interface {
	Current() Table
}

// DefaultTable returns the stock table.
func DefaultTable() Table {
	return Table{
		Prices: map[role.Role]Money{
			role.VIP:        1000,
			role.Ambassador: 4000,
			role.Supreme:    15000,
		},
		Commissions: map[role.Role]Money{
			role.VIP:        1000,
			role.Ambassador: 4000,
			role.Supreme:    15000,
		},
	}
}

// PriceFor returns the price of r and whether r can be purchased at all.
func (t Table) PriceFor(r role.Role) (Money, bool) {
	price, ok := t.Prices[r]
	if !ok || price <= 0 {
		return 0, false
	}
	return price, true
}

// CommissionFor returns the inviter commission for r. Roles without an
// entry yield zero, meaning no commission is due.
func (t Table) CommissionFor(r role.Role) Money {
	amount, ok := t.Commissions[r]
	if !ok || amount < 0 {
		return 0
	}
	return amount
}

// Purchasable reports whether a code may be requested for r.
func (t Table) Purchasable(r role.Role) bool {
	_, ok := t.PriceFor(r)
	return ok
}

// Validate checks that every entry names a known role with a sane amount.
func (t Table) Validate() error {
	if len(t.Prices) == 0 {
		return errors.New("pricing: prices cannot be empty")
	}
	for r, amount := range t.Prices {
		if !r.Valid() {
			return fmt.Errorf("pricing: unknown role %q in prices", r)
		}
		if amount <= 0 {
			return fmt.Errorf("pricing: price for %q must be positive", r)
		}
	}
	for r, amount := range t.Commissions {
		if !r.Valid() {
			return fmt.Errorf("pricing: unknown role %q in commissions", r)
		}
		if amount < 0 {
			return fmt.Errorf("pricing: commission for %q cannot be negative", r)
		}
	}
	return nil
}

// StaticSource serves a fixed table.
type StaticSource struct {
	Table Table
}

func (s StaticSource) Current() Table { return s.Table }
