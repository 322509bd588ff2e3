package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/distriflow/distriflow/internal/bc"
	"github.com/distriflow/distriflow/internal/ledger"
	"github.com/distriflow/distriflow/internal/shared"
)

// RepositoryPort abstracts document persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Create(ctx context.Context, doc Document) (Document, error)
	Get(ctx context.Context, docType DocumentType, id int64) (Document, error)
	List(ctx context.Context, docType DocumentType, status Status, limit, offset int) ([]Document, error)
	SetBCNumber(ctx context.Context, id int64, bcNumber, bcStatus string) error
	SetReceivedQuantity(ctx context.Context, documentID, lineID int64, qteRecue float64) error
}

// LedgerPort is the write side of the stock ledger. RecordMovements runs on
// the settlement transaction's querier so the movement and the status change
// commit or roll back together.
type LedgerPort interface {
	RecordMovements(ctx context.Context, q ledger.Querier, input ledger.MovementInput) ([]ledger.StockTransaction, bool, error)
}

// ERPPort submits purchase orders to Business Central.
type ERPPort interface {
	SubmitPurchaseOrder(ctx context.Context, sub bc.PurchaseOrderSubmission) (string, error)
}

// AuditPort records settlement outcomes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates document lifecycles and their ledger effects.
type Service struct {
	repo   RepositoryPort
	ledger LedgerPort
	erp    ERPPort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds the document service.
func NewService(repo RepositoryPort, ledgerSvc LedgerPort, erp ERPPort, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		ledger: ledgerSvc,
		erp:    erp,
		audit:  audit,
		logger: logger,
		now:    time.Now,
	}
}

// CreateLineInput is one requested line of a new document.
type CreateLineInput struct {
	ProductID  int64   `json:"product_id" validate:"required,gt=0"`
	ItemNumber string  `json:"item_number"`
	Qte        float64 `json:"qte" validate:"required,gt=0"`
}

// CreateInput carries the fields shared by document creation.
type CreateInput struct {
	SalespersonID   int64             `json:"salesperson_id" validate:"required,gt=0"`
	CustomerID      *int64            `json:"customer_id"`
	VendorNumber    string            `json:"vendor_number"`
	PurchaseOrderID *int64            `json:"purchase_order_id"`
	Note            string            `json:"note"`
	Lines           []CreateLineInput `json:"lines" validate:"required,min=1,dive"`
}

// Create opens a new document in its initial status.
func (s *Service) Create(ctx context.Context, docType DocumentType, input CreateInput) (Document, error) {
	if len(input.Lines) == 0 {
		return Document{}, fmt.Errorf("%w: at least one line required", ErrValidation)
	}
	if docType == TypeReturnInvoice {
		if input.PurchaseOrderID == nil {
			return Document{}, fmt.Errorf("%w: return invoice requires a purchase order reference", ErrValidation)
		}
		po, err := s.repo.Get(ctx, TypePurchaseOrder, *input.PurchaseOrderID)
		if err != nil {
			return Document{}, err
		}
		if po.Status != StatusExpedie {
			return Document{}, fmt.Errorf("%w: referenced purchase order is not shipped", ErrValidation)
		}
	}

	doc := Document{
		Type:            docType,
		Number:          s.generateNumber(docType),
		Status:          initialStatus(docType),
		SalespersonID:   input.SalespersonID,
		CustomerID:      input.CustomerID,
		VendorNumber:    input.VendorNumber,
		PurchaseOrderID: input.PurchaseOrderID,
		Note:            input.Note,
	}
	for _, line := range input.Lines {
		doc.Lines = append(doc.Lines, Line{ProductID: line.ProductID, ItemNumber: line.ItemNumber, Qte: line.Qte})
	}
	return s.repo.Create(ctx, doc)
}

// Get returns one document with its lines.
func (s *Service) Get(ctx context.Context, docType DocumentType, id int64) (Document, error) {
	return s.repo.Get(ctx, docType, id)
}

// List returns documents of one type, optionally filtered by status.
func (s *Service) List(ctx context.Context, docType DocumentType, status Status, limit, offset int) ([]Document, error) {
	return s.repo.List(ctx, docType, status, limit, offset)
}

// SettleResult is the outcome of a settlement. AlreadyApplied is true when
// the document was at the target status before the call; the stored result is
// then returned unchanged.
type SettleResult struct {
	Document       Document
	Transactions   []ledger.StockTransaction
	AlreadyApplied bool
}

// Settle moves a document to the target status and books the transition's
// stock effect, all inside one transaction on a locked document row.
// A document already at the target status is returned as-is; the ledger is
// never written twice for the same edge. A transaction aborted by a
// serialization conflict is rerun once; the rerun sees the winner's commit
// and takes the already-applied path.
func (s *Service) Settle(ctx context.Context, docType DocumentType, id int64, target Status) (SettleResult, error) {
	result, err := s.settleOnce(ctx, docType, id, target)
	if isSerializationFailure(err) {
		s.logger.Warn("settlement serialization conflict, retrying", "document_id", id, "target", target)
		result, err = s.settleOnce(ctx, docType, id, target)
	}
	if err != nil {
		return SettleResult{}, err
	}

	if !result.AlreadyApplied && s.audit != nil {
		s.recordAudit(ctx, result.Document, target)
	}
	return result, nil
}

func (s *Service) settleOnce(ctx context.Context, docType DocumentType, id int64, target Status) (SettleResult, error) {
	var result SettleResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetForUpdate(ctx, docType, id)
		if err != nil {
			return err
		}

		if doc.Status == target {
			result = SettleResult{Document: doc, AlreadyApplied: true}
			if input, ok := ledgerEffect(doc, target); ok {
				txs, _, err := s.ledger.RecordMovements(ctx, tx.Querier(), input)
				if err != nil {
					return err
				}
				result.Transactions = txs
			}
			return nil
		}

		if err := Transition(&doc, target); err != nil {
			return err
		}

		if input, ok := ledgerEffect(doc, target); ok {
			txs, _, err := s.ledger.RecordMovements(ctx, tx.Querier(), input)
			if err != nil {
				return err
			}
			result.Transactions = txs
		}

		if err := tx.UpdateStatus(ctx, doc.ID, target); err != nil {
			return err
		}
		result.Document = doc
		return nil
	})
	return result, err
}

// isSerializationFailure reports whether err is a PostgreSQL serialization
// failure (SQLSTATE 40001), which repeatable read raises when two settlements
// of the same document race.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

// SubmitToBC pushes a validated purchase order to Business Central, stores
// the assigned number and settles the envoye_bc transition. A purchase order
// that already carries a BC number is not resubmitted.
func (s *Service) SubmitToBC(ctx context.Context, id int64) (SettleResult, error) {
	doc, err := s.repo.Get(ctx, TypePurchaseOrder, id)
	if err != nil {
		return SettleResult{}, err
	}
	if doc.Status == StatusEnvoyeBC {
		return s.Settle(ctx, TypePurchaseOrder, id, StatusEnvoyeBC)
	}
	if doc.Status != StatusValide {
		return SettleResult{}, fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, doc.Type, doc.Status, StatusEnvoyeBC)
	}

	if doc.BCNumber == "" {
		// Deterministic reference so a retried submission dedupes on the BC side.
		refID := uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("PO:%d", doc.ID)))
		sub := bc.PurchaseOrderSubmission{
			VendorNumber: doc.VendorNumber,
			OrderDate:    s.now().Format("2006-01-02"),
			ExternalRef:  refID.String(),
		}
		for _, line := range doc.Lines {
			if line.ItemNumber == "" {
				return SettleResult{}, fmt.Errorf("%w: line %d has no item number", ErrValidation, line.ID)
			}
			sub.Lines = append(sub.Lines, bc.PurchaseOrderSubmissionLine{
				ItemNumber: line.ItemNumber,
				Quantity:   line.Qte,
			})
		}
		number, err := s.erp.SubmitPurchaseOrder(ctx, sub)
		if err != nil {
			return SettleResult{}, err
		}
		if err := s.repo.SetBCNumber(ctx, id, number, "Open"); err != nil {
			return SettleResult{}, err
		}
		s.logger.Info("purchase order submitted to bc", "document_id", id, "bc_number", number)
	}
	return s.Settle(ctx, TypePurchaseOrder, id, StatusEnvoyeBC)
}

// ReceiveLineInput sets the received quantity for one purchase order line.
type ReceiveLineInput struct {
	LineID   int64   `json:"line_id" validate:"required,gt=0"`
	QteRecue float64 `json:"qte_recue" validate:"gte=0"`
}

// Receive records received quantities on a purchase order awaiting shipment.
func (s *Service) Receive(ctx context.Context, id int64, lines []ReceiveLineInput) (Document, error) {
	doc, err := s.repo.Get(ctx, TypePurchaseOrder, id)
	if err != nil {
		return Document{}, err
	}
	if doc.Status != StatusEnvoyeBC {
		return Document{}, fmt.Errorf("%w: receiving requires status %s", ErrInvalidTransition, StatusEnvoyeBC)
	}
	for _, line := range lines {
		if line.QteRecue < 0 {
			return Document{}, fmt.Errorf("%w: received quantity cannot be negative", ErrValidation)
		}
		if err := s.repo.SetReceivedQuantity(ctx, id, line.LineID, line.QteRecue); err != nil {
			return Document{}, err
		}
	}
	return s.repo.Get(ctx, TypePurchaseOrder, id)
}

// ledgerEffect maps a transition to its stock movement, if any. Lines with a
// zero quantity produce no rows.
func ledgerEffect(doc Document, target Status) (ledger.MovementInput, bool) {
	var movType ledger.MovementType
	received := false

	switch {
	case doc.Type == TypePurchaseOrder && target == StatusExpedie:
		movType = ledger.MovementEntree
		received = true
	case doc.Type == TypeDeliveryNote && target == StatusValide:
		movType = ledger.MovementSortie
	case doc.Type == TypeSale && target == StatusValide:
		movType = ledger.MovementSortie
	case doc.Type == TypeReturnInvoice && target == StatusValide:
		movType = ledger.MovementEntree
	default:
		return ledger.MovementInput{}, false
	}

	input := ledger.MovementInput{
		SalespersonID:      doc.SalespersonID,
		Type:               movType,
		SourceDocumentType: ledger.SourceDocumentType(doc.Type),
		SourceDocumentID:   doc.ID,
	}
	for _, line := range doc.Lines {
		qte := line.Qte
		if received {
			if line.QteRecue == nil {
				continue
			}
			qte = *line.QteRecue
		}
		if qte <= 0 {
			continue
		}
		input.Lines = append(input.Lines, ledger.MovementLine{ProductID: line.ProductID, Qte: qte})
	}
	return input, len(input.Lines) > 0
}

func (s *Service) recordAudit(ctx context.Context, doc Document, target Status) {
	log := shared.AuditLog{
		ActorID:  doc.SalespersonID,
		Action:   fmt.Sprintf("document.%s", target),
		Entity:   string(doc.Type),
		EntityID: strconv.FormatInt(doc.ID, 10),
		Meta:     map[string]any{"number": doc.Number},
		At:       s.now(),
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit record failed", "error", err, "document_id", doc.ID)
	}
}

func (s *Service) generateNumber(docType DocumentType) string {
	prefix := map[DocumentType]string{
		TypePurchaseOrder: "CMD",
		TypeDeliveryNote:  "BL",
		TypeSale:          "VTE",
		TypeReturnInvoice: "RET",
	}[docType]
	return fmt.Sprintf("%s-%d", prefix, s.now().UnixNano())
}
