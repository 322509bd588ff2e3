package documents

import (
	"errors"
	"time"
)

// DocumentType enumerates the settleable document kinds.
type DocumentType string

const (
	TypePurchaseOrder DocumentType = "purchase_order"
	TypeDeliveryNote  DocumentType = "delivery_note"
	TypeSale          DocumentType = "sale"
	TypeReturnInvoice DocumentType = "return_invoice"
)

// Status is a document lifecycle state. Which statuses apply depends on the
// document type; the transition tables in statemachine.go are authoritative.
type Status string

const (
	StatusNonValide Status = "non_valide"
	StatusCree      Status = "cree"
	StatusValide    Status = "valide"
	StatusEnvoyeBC  Status = "envoye_bc"
	StatusExpedie   Status = "expedie"
	StatusAnnule    Status = "annule"
)

// Line is one product line of a document. QteRecue is tracked separately for
// purchase orders and is what the expedie entree is booked with.
type Line struct {
	ID         int64
	DocumentID int64
	ProductID  int64
	ItemNumber string
	Qte        float64
	QteRecue   *float64
}

// Document is the shared header for the four document kinds.
type Document struct {
	ID              int64
	Type            DocumentType
	Number          string
	Status          Status
	SalespersonID   int64
	CustomerID      *int64
	VendorNumber    string
	BCNumber        string
	BCStatus        string
	PurchaseOrderID *int64
	Note            string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Lines           []Line
}

var (
	// ErrInvalidTransition occurs when the requested edge is absent from the
	// document type's transition table or a guard fails.
	ErrInvalidTransition = errors.New("documents: invalid state transition")
	// ErrNotFound indicates a missing document.
	ErrNotFound = errors.New("documents: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("documents: invalid input")
)

// initialStatus returns the creation status for a document type.
func initialStatus(docType DocumentType) Status {
	if docType == TypePurchaseOrder {
		return StatusNonValide
	}
	return StatusCree
}
