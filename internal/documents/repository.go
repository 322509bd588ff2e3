package documents

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/distriflow/distriflow/internal/ledger"
	"github.com/distriflow/distriflow/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for documents.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the operations available inside a settlement
// transaction. Querier hands the underlying transaction to the stock ledger
// so status changes and stock movements commit together.
type TxRepository interface {
	GetForUpdate(ctx context.Context, docType DocumentType, id int64) (Document, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	Querier() ledger.Querier
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepo{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (t *txRepo) Querier() ledger.Querier { return t.tx }

// GetForUpdate locks the document row for the duration of the transaction.
func (t *txRepo) GetForUpdate(ctx context.Context, docType DocumentType, id int64) (Document, error) {
	row := t.tx.QueryRow(ctx, `
        SELECT id, type, number, status, salesperson_id, customer_id, vendor_number,
               bc_number, bc_status, purchase_order_id, note, created_at, updated_at
        FROM documents
        WHERE id = $1 AND type = $2
        FOR UPDATE`, id, docType)
	doc, err := scanDocument(row)
	if err != nil {
		return Document{}, err
	}
	doc.Lines, err = fetchLines(ctx, t.tx, id)
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (t *txRepo) UpdateStatus(ctx context.Context, id int64, status Status) error {
	_, err := t.tx.Exec(ctx, `UPDATE documents SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	return err
}

// Create inserts the document header and its lines.
func (r *Repository) Create(ctx context.Context, doc Document) (Document, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
            INSERT INTO documents (type, number, status, salesperson_id, customer_id, vendor_number,
                                   bc_number, bc_status, purchase_order_id, note, created_at, updated_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
            RETURNING id, created_at, updated_at`,
			doc.Type, doc.Number, doc.Status, doc.SalespersonID, doc.CustomerID, doc.VendorNumber,
			doc.BCNumber, doc.BCStatus, doc.PurchaseOrderID, doc.Note,
		).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		for i := range doc.Lines {
			line := &doc.Lines[i]
			line.DocumentID = doc.ID
			err = tx.QueryRow(ctx, `
                INSERT INTO document_lines (document_id, product_id, item_number, qte, qte_recue)
                VALUES ($1, $2, $3, $4, $5)
                RETURNING id`,
				line.DocumentID, line.ProductID, line.ItemNumber, line.Qte, line.QteRecue,
			).Scan(&line.ID)
			if err != nil {
				return fmt.Errorf("insert document line: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Get returns a document and its lines.
func (r *Repository) Get(ctx context.Context, docType DocumentType, id int64) (Document, error) {
	row := r.pool.QueryRow(ctx, `
        SELECT id, type, number, status, salesperson_id, customer_id, vendor_number,
               bc_number, bc_status, purchase_order_id, note, created_at, updated_at
        FROM documents
        WHERE id = $1 AND type = $2`, id, docType)
	doc, err := scanDocument(row)
	if err != nil {
		return Document{}, err
	}
	doc.Lines, err = fetchLines(ctx, r.pool, id)
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// List returns documents of one type, newest first.
func (r *Repository) List(ctx context.Context, docType DocumentType, status Status, limit, offset int) ([]Document, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
        SELECT id, type, number, status, salesperson_id, customer_id, vendor_number,
               bc_number, bc_status, purchase_order_id, note, created_at, updated_at
        FROM documents
        WHERE type = $1 AND ($2 = '' OR status = $2)
        ORDER BY id DESC
        LIMIT $3 OFFSET $4`, docType, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// SetBCNumber records the number the ERP assigned to a purchase order.
func (r *Repository) SetBCNumber(ctx context.Context, id int64, bcNumber, bcStatus string) error {
	tag, err := r.pool.Exec(ctx, `
        UPDATE documents SET bc_number = $2, bc_status = $3, updated_at = now()
        WHERE id = $1`, id, bcNumber, bcStatus)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetReceivedQuantity stores the received quantity on one line of a document.
func (r *Repository) SetReceivedQuantity(ctx context.Context, documentID, lineID int64, qteRecue float64) error {
	tag, err := r.pool.Exec(ctx, `
        UPDATE document_lines SET qte_recue = $3
        WHERE id = $2 AND document_id = $1`, documentID, lineID, qteRecue)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanDocument(row pgx.Row) (Document, error) {
	var doc Document
	err := row.Scan(
		&doc.ID, &doc.Type, &doc.Number, &doc.Status, &doc.SalespersonID, &doc.CustomerID,
		&doc.VendorNumber, &doc.BCNumber, &doc.BCStatus, &doc.PurchaseOrderID, &doc.Note,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return doc, nil
}

func fetchLines(ctx context.Context, q ledger.Querier, documentID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `
        SELECT id, document_id, product_id, item_number, qte, qte_recue
        FROM document_lines
        WHERE document_id = $1
        ORDER BY id`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.DocumentID, &line.ProductID, &line.ItemNumber, &line.Qte, &line.QteRecue); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}
