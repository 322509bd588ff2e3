package ledger

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx executors ledger statements run through. Both
// *pgxpool.Pool and pgx.Tx satisfy it, so the same statements work standalone
// and inside a settlement transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists the append-only stock transaction log.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Pool returns the underlying pool for read-side queries.
func (r *Repository) Pool() Querier {
	return r.pool
}

// FindBySource returns existing rows for the idempotency key.
func (r *Repository) FindBySource(ctx context.Context, q Querier, docType SourceDocumentType, docID int64, movType MovementType) ([]StockTransaction, error) {
	rows, err := q.Query(ctx, `
		SELECT id, product_id, salesperson_id, type, qte, source_document_type, source_document_id, created_at
		FROM stock_transactions
		WHERE source_document_type = $1 AND source_document_id = $2 AND type = $3
		ORDER BY id`, docType, docID, movType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// InsertTransactions appends one row per line. Rows are never updated or
// deleted; the unique index on the idempotency key backs the at-most-once
// guarantee under concurrent writers.
func (r *Repository) InsertTransactions(ctx context.Context, q Querier, input MovementInput) ([]StockTransaction, error) {
	inserted := make([]StockTransaction, 0, len(input.Lines))
	for _, line := range input.Lines {
		var tx StockTransaction
		err := q.QueryRow(ctx, `
			INSERT INTO stock_transactions (product_id, salesperson_id, type, qte, source_document_type, source_document_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
			RETURNING id, product_id, salesperson_id, type, qte, source_document_type, source_document_id, created_at`,
			line.ProductID, input.SalespersonID, input.Type, line.Qte,
			input.SourceDocumentType, input.SourceDocumentID).
			Scan(&tx.ID, &tx.ProductID, &tx.SalespersonID, &tx.Type, &tx.Qte,
				&tx.SourceDocumentType, &tx.SourceDocumentID, &tx.CreatedAt)
		if err != nil {
			return nil, err
		}
		inserted = append(inserted, tx)
	}
	return inserted, nil
}

// SumStock computes the signed sum of movements for (product, salesperson).
func (r *Repository) SumStock(ctx context.Context, q Querier, productID, salespersonID int64) (float64, error) {
	var total float64
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN type = 'entree' THEN qte ELSE -qte END), 0)
		FROM stock_transactions
		WHERE product_id = $1 AND salesperson_id = $2`, productID, salespersonID).
		Scan(&total)
	return total, err
}

// List returns ledger rows matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter TransactionFilter) ([]StockTransaction, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, product_id, salesperson_id, type, qte, source_document_type, source_document_id, created_at
		FROM stock_transactions
		WHERE ($1 = 0 OR product_id = $1)
		  AND ($2 = 0 OR salesperson_id = $2)
		  AND ($3 = '' OR type = $3)
		ORDER BY id DESC
		LIMIT $4 OFFSET $5`,
		filter.ProductID, filter.SalespersonID, string(filter.Type), limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func scanTransactions(rows pgx.Rows) ([]StockTransaction, error) {
	var result []StockTransaction
	for rows.Next() {
		var tx StockTransaction
		if err := rows.Scan(&tx.ID, &tx.ProductID, &tx.SalespersonID, &tx.Type, &tx.Qte,
			&tx.SourceDocumentType, &tx.SourceDocumentID, &tx.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}
