package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists BC mirrors in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UpsertCustomer inserts or refreshes a customer mirror keyed by bc_id.
// Remote-owned fields are only overwritten when the incoming record is newer;
// sales_channel_id is locally curated and never part of the update set.
func (r *Repository) UpsertCustomer(ctx context.Context, c BCCustomer) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO bc_customers (bc_id, number, display_name, phone, email, city, blocked, etag, last_modified, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (bc_id) DO UPDATE SET
			number = EXCLUDED.number,
			display_name = EXCLUDED.display_name,
			phone = EXCLUDED.phone,
			email = EXCLUDED.email,
			city = EXCLUDED.city,
			blocked = EXCLUDED.blocked,
			etag = EXCLUDED.etag,
			last_modified = EXCLUDED.last_modified,
			synced_at = NOW()
		WHERE bc_customers.last_modified < EXCLUDED.last_modified
		   OR bc_customers.etag = EXCLUDED.etag`,
		c.BCID, c.Number, c.DisplayName, c.Phone, c.Email, c.City, c.Blocked, c.ETag, c.LastModified)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// UpsertItem inserts or refreshes an item mirror keyed by bc_id. The local
// product link is preserved unconditionally.
func (r *Repository) UpsertItem(ctx context.Context, item BCItem) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO bc_items (bc_id, number, display_name, category_code, base_unit, unit_price, inventory, blocked, etag, last_modified, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (bc_id) DO UPDATE SET
			number = EXCLUDED.number,
			display_name = EXCLUDED.display_name,
			category_code = EXCLUDED.category_code,
			base_unit = EXCLUDED.base_unit,
			unit_price = EXCLUDED.unit_price,
			inventory = EXCLUDED.inventory,
			blocked = EXCLUDED.blocked,
			etag = EXCLUDED.etag,
			last_modified = EXCLUDED.last_modified,
			synced_at = NOW()
		WHERE bc_items.last_modified < EXCLUDED.last_modified
		   OR bc_items.etag = EXCLUDED.etag`,
		item.BCID, item.Number, item.DisplayName, item.CategoryCode, item.BaseUnit,
		item.UnitPrice, item.Inventory, item.Blocked, item.ETag, item.LastModified)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// UpsertLocation inserts or refreshes a location mirror keyed by bc_id.
func (r *Repository) UpsertLocation(ctx context.Context, loc BCLocation) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO bc_locations (bc_id, code, display_name, city, etag, last_modified, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (bc_id) DO UPDATE SET
			code = EXCLUDED.code,
			display_name = EXCLUDED.display_name,
			city = EXCLUDED.city,
			etag = EXCLUDED.etag,
			last_modified = EXCLUDED.last_modified,
			synced_at = NOW()
		WHERE bc_locations.last_modified < EXCLUDED.last_modified
		   OR bc_locations.etag = EXCLUDED.etag`,
		loc.BCID, loc.Code, loc.DisplayName, loc.City, loc.ETag, loc.LastModified)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// ReplaceItemPrices swaps the full tier set for one item in a single
// transaction so readers never observe a half-replaced tier list.
func (r *Repository) ReplaceItemPrices(ctx context.Context, itemNumber string, prices []BCItemPrice) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM bc_item_prices WHERE item_number = $1`, itemNumber); err != nil {
		return err
	}
	for _, p := range prices {
		_, err := tx.Exec(ctx, `
			INSERT INTO bc_item_prices (item_number, sales_type, sales_code, minimum_quantity, unit_price, currency_code, starting_date, ending_date, synced_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
			p.ItemNumber, p.SalesType, p.SalesCode, p.MinimumQuantity, p.UnitPrice,
			p.CurrencyCode, nullableTime(p.StartingDate), nullableTime(p.EndingDate))
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ListItemNumbers returns every mirrored item number, used by the price pull.
func (r *Repository) ListItemNumbers(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT number FROM bc_items WHERE NOT blocked ORDER BY number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var numbers []string
	for rows.Next() {
		var number string
		if err := rows.Scan(&number); err != nil {
			return nil, err
		}
		numbers = append(numbers, number)
	}
	return numbers, rows.Err()
}

// ListCustomers returns mirrored customers ordered by number.
func (r *Repository) ListCustomers(ctx context.Context, limit, offset int) ([]BCCustomer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, bc_id, number, display_name, phone, email, city, blocked, sales_channel_id, etag, last_modified, synced_at
		FROM bc_customers ORDER BY number LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []BCCustomer
	for rows.Next() {
		var c BCCustomer
		if err := rows.Scan(&c.ID, &c.BCID, &c.Number, &c.DisplayName, &c.Phone, &c.Email, &c.City,
			&c.Blocked, &c.SalesChannelID, &c.ETag, &c.LastModified, &c.SyncedAt); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// ListItems returns mirrored items ordered by number.
func (r *Repository) ListItems(ctx context.Context, limit, offset int) ([]BCItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, bc_id, number, display_name, category_code, base_unit, unit_price, inventory, blocked, product_id, etag, last_modified, synced_at
		FROM bc_items ORDER BY number LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []BCItem
	for rows.Next() {
		var item BCItem
		if err := rows.Scan(&item.ID, &item.BCID, &item.Number, &item.DisplayName, &item.CategoryCode,
			&item.BaseUnit, &item.UnitPrice, &item.Inventory, &item.Blocked, &item.ProductID,
			&item.ETag, &item.LastModified, &item.SyncedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListLocations returns mirrored locations ordered by code.
func (r *Repository) ListLocations(ctx context.Context, limit, offset int) ([]BCLocation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, bc_id, code, display_name, city, etag, last_modified, synced_at
		FROM bc_locations ORDER BY code LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locations []BCLocation
	for rows.Next() {
		var loc BCLocation
		if err := rows.Scan(&loc.ID, &loc.BCID, &loc.Code, &loc.DisplayName, &loc.City,
			&loc.ETag, &loc.LastModified, &loc.SyncedAt); err != nil {
			return nil, err
		}
		locations = append(locations, loc)
	}
	return locations, rows.Err()
}

// GetItemByNumber fetches one mirrored item.
func (r *Repository) GetItemByNumber(ctx context.Context, number string) (BCItem, error) {
	var item BCItem
	err := r.pool.QueryRow(ctx, `
		SELECT id, bc_id, number, display_name, category_code, base_unit, unit_price, inventory, blocked, product_id, etag, last_modified, synced_at
		FROM bc_items WHERE number = $1`, number).
		Scan(&item.ID, &item.BCID, &item.Number, &item.DisplayName, &item.CategoryCode,
			&item.BaseUnit, &item.UnitPrice, &item.Inventory, &item.Blocked, &item.ProductID,
			&item.ETag, &item.LastModified, &item.SyncedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BCItem{}, fmt.Errorf("%w: item %s", ErrNotFound, number)
		}
		return BCItem{}, err
	}
	return item, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
