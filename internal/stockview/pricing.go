package stockview

import (
	"errors"
	"time"

	"github.com/distriflow/distriflow/internal/catalog"
)

// ErrNoPriceFound indicates no mirrored price row qualifies for the query.
var ErrNoPriceFound = errors.New("stockview: no applicable price")

// tierRank orders sales types from most to least specific. Unknown types are
// never considered.
var tierRank = map[string]int{
	catalog.SalesTypeCustomer:           0,
	catalog.SalesTypeCustomerPriceGroup: 1,
	catalog.SalesTypeCampaign:           2,
	catalog.SalesTypeAllCustomers:       3,
}

// PriceQuery identifies the buyer context a price is resolved for.
type PriceQuery struct {
	CustomerNumber string
	PriceGroup     string
	Campaigns      []string
	Quantity       float64
	Now            time.Time
}

// ResolvedPrice is the winning price row with its tier made explicit.
type ResolvedPrice struct {
	UnitPrice       float64 `json:"unit_price"`
	CurrencyCode    string  `json:"currency_code"`
	SalesType       string  `json:"sales_type"`
	SalesCode       string  `json:"sales_code"`
	MinimumQuantity float64 `json:"minimum_quantity"`
}

// ResolvePrice picks the applicable price from mirrored rows. Rows must be in
// their date window and have a minimum quantity the ordered quantity reaches.
// The most specific qualifying tier wins; inside a tier the highest qualifying
// minimum quantity wins.
func ResolvePrice(prices []catalog.BCItemPrice, q PriceQuery) (ResolvedPrice, error) {
	best := -1
	for i, price := range prices {
		if !matchesQuery(price, q) {
			continue
		}
		if best < 0 || betterThan(price, prices[best]) {
			best = i
		}
	}
	if best < 0 {
		return ResolvedPrice{}, ErrNoPriceFound
	}
	winner := prices[best]
	return ResolvedPrice{
		UnitPrice:       winner.UnitPrice,
		CurrencyCode:    winner.CurrencyCode,
		SalesType:       winner.SalesType,
		SalesCode:       winner.SalesCode,
		MinimumQuantity: winner.MinimumQuantity,
	}, nil
}

func matchesQuery(price catalog.BCItemPrice, q PriceQuery) bool {
	if _, known := tierRank[price.SalesType]; !known {
		return false
	}
	if price.MinimumQuantity > q.Quantity {
		return false
	}
	if !price.StartingDate.IsZero() && q.Now.Before(price.StartingDate) {
		return false
	}
	if !price.EndingDate.IsZero() && q.Now.After(price.EndingDate) {
		return false
	}
	switch price.SalesType {
	case catalog.SalesTypeCustomer:
		return price.SalesCode == q.CustomerNumber && q.CustomerNumber != ""
	case catalog.SalesTypeCustomerPriceGroup:
		return price.SalesCode == q.PriceGroup && q.PriceGroup != ""
	case catalog.SalesTypeCampaign:
		for _, code := range q.Campaigns {
			if price.SalesCode == code {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func betterThan(a, b catalog.BCItemPrice) bool {
	if tierRank[a.SalesType] != tierRank[b.SalesType] {
		return tierRank[a.SalesType] < tierRank[b.SalesType]
	}
	return a.MinimumQuantity > b.MinimumQuantity
}
