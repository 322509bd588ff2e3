package ledger

import (
	"errors"
	"time"
)

// MovementType is the direction of a stock movement.
type MovementType string

const (
	// MovementEntree increases a salesperson's on-hand quantity.
	MovementEntree MovementType = "entree"
	// MovementSortie decreases a salesperson's on-hand quantity.
	MovementSortie MovementType = "sortie"
)

// SourceDocumentType names the document kind that caused a movement.
type SourceDocumentType string

const (
	SourcePurchaseOrder SourceDocumentType = "purchase_order"
	SourceDeliveryNote  SourceDocumentType = "delivery_note"
	SourceSale          SourceDocumentType = "sale"
	SourceReturnInvoice SourceDocumentType = "return_invoice"
)

// StockTransaction is one immutable ledger entry. Rows are only ever inserted;
// no update or delete operation exists at any interface.
type StockTransaction struct {
	ID                 int64
	ProductID          int64
	SalespersonID      int64
	Type               MovementType
	Qte                float64
	SourceDocumentType SourceDocumentType
	SourceDocumentID   int64
	CreatedAt          time.Time
}

// MovementLine is one product quantity inside a movement request.
type MovementLine struct {
	ProductID int64
	Qte       float64
}

// MovementInput describes the full ledger effect of one document transition.
// (SourceDocumentType, SourceDocumentID, Type) is the idempotency key: at most
// one transaction set is ever created for it.
type MovementInput struct {
	SalespersonID      int64
	Type               MovementType
	SourceDocumentType SourceDocumentType
	SourceDocumentID   int64
	Lines              []MovementLine
}

// TransactionFilter narrows ledger listings.
type TransactionFilter struct {
	ProductID     int64
	SalespersonID int64
	Type          MovementType
	Limit         int
	Offset        int
}

var (
	// ErrStockInsufficient is returned when a sortie would drive stock negative
	// and the negative-stock policy is reject.
	ErrStockInsufficient = errors.New("ledger: insufficient stock")
	// ErrInvalidQuantity indicates a non-positive line quantity.
	ErrInvalidQuantity = errors.New("ledger: quantity must be positive")
)
