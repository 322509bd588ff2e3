package stockview

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/distriflow/distriflow/internal/catalog"
)

// ErrNotFound indicates a missing mirror row.
var ErrNotFound = errors.New("stockview: not found")

// LocationStock is one row of the per-location view: a mirrored item seen at
// a mirrored location with its advisory BC quantity.
type LocationStock struct {
	LocationCode string    `json:"location_code"`
	LocationName string    `json:"location_name"`
	City         string    `json:"city"`
	ItemNumber   string    `json:"item_number"`
	ItemName     string    `json:"item_name"`
	ProductID    *int64    `json:"product_id"`
	Inventory    float64   `json:"inventory"`
	SyncedAt     time.Time `json:"synced_at"`
}

// LocationFilter narrows the per-location view.
type LocationFilter struct {
	LocationCode string
	Search       string
	Limit        int
	Offset       int
}

// Repository reads the mirrored BC data the views are built on.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ItemForProduct returns the mirrored item linked to a local product.
func (r *Repository) ItemForProduct(ctx context.Context, productID int64) (catalog.BCItem, error) {
	row := r.pool.QueryRow(ctx, `
        SELECT id, bc_id, number, display_name, category_code, base_unit,
               unit_price, inventory, blocked, product_id, etag, last_modified, synced_at
        FROM bc_items
        WHERE product_id = $1`, productID)
	var item catalog.BCItem
	err := row.Scan(
		&item.ID, &item.BCID, &item.Number, &item.DisplayName, &item.CategoryCode,
		&item.BaseUnit, &item.UnitPrice, &item.Inventory, &item.Blocked,
		&item.ProductID, &item.ETag, &item.LastModified, &item.SyncedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.BCItem{}, ErrNotFound
		}
		return catalog.BCItem{}, err
	}
	return item, nil
}

// ItemPrices returns all mirrored price rows of an item. Filtering by window
// and quantity happens in the resolver.
func (r *Repository) ItemPrices(ctx context.Context, itemNumber string) ([]catalog.BCItemPrice, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT id, item_number, sales_type, sales_code, minimum_quantity,
               unit_price, currency_code, starting_date, ending_date, synced_at
        FROM bc_item_prices
        WHERE item_number = $1
        ORDER BY sales_type, minimum_quantity`, itemNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prices []catalog.BCItemPrice
	for rows.Next() {
		var p catalog.BCItemPrice
		var starting, ending *time.Time
		if err := rows.Scan(&p.ID, &p.ItemNumber, &p.SalesType, &p.SalesCode, &p.MinimumQuantity,
			&p.UnitPrice, &p.CurrencyCode, &starting, &ending, &p.SyncedAt); err != nil {
			return nil, err
		}
		if starting != nil {
			p.StartingDate = *starting
		}
		if ending != nil {
			p.EndingDate = *ending
		}
		prices = append(prices, p)
	}
	return prices, rows.Err()
}

// LocationRows returns the cross join of mirrored locations and items that
// feeds the per-location view. Substring search runs in Go so accent folding
// stays in one place.
func (r *Repository) LocationRows(ctx context.Context, filter LocationFilter) ([]LocationStock, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT l.code, l.display_name, l.city, i.number, i.display_name, i.product_id, i.inventory, i.synced_at
        FROM bc_locations l
        CROSS JOIN bc_items i
        WHERE ($1 = '' OR l.code = $1) AND NOT i.blocked
        ORDER BY l.code, i.number`, filter.LocationCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LocationStock
	for rows.Next() {
		var row LocationStock
		if err := rows.Scan(&row.LocationCode, &row.LocationName, &row.City,
			&row.ItemNumber, &row.ItemName, &row.ProductID, &row.Inventory, &row.SyncedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
