package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/distriflow/distriflow/internal/bc"
	"github.com/distriflow/distriflow/internal/ledger"
	"github.com/distriflow/distriflow/internal/shared"
)

type memoryDocRepo struct {
	nextID  int64
	docs    map[int64]*Document
	txCalls int
	txErrs  []error // consumed one per WithTx call before fn runs
}

func newMemoryDocRepo() *memoryDocRepo {
	return &memoryDocRepo{docs: map[int64]*Document{}}
}

type memoryTxRepo struct {
	repo *memoryDocRepo
}

func (r *memoryDocRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.txCalls++
	if len(r.txErrs) > 0 {
		err := r.txErrs[0]
		r.txErrs = r.txErrs[1:]
		if err != nil {
			return err
		}
	}
	return fn(ctx, &memoryTxRepo{repo: r})
}

func (t *memoryTxRepo) Querier() ledger.Querier { return nil }

func (t *memoryTxRepo) GetForUpdate(ctx context.Context, docType DocumentType, id int64) (Document, error) {
	return t.repo.Get(ctx, docType, id)
}

func (t *memoryTxRepo) UpdateStatus(ctx context.Context, id int64, status Status) error {
	doc, ok := t.repo.docs[id]
	if !ok {
		return ErrNotFound
	}
	doc.Status = status
	return nil
}

func (r *memoryDocRepo) Create(ctx context.Context, doc Document) (Document, error) {
	r.nextID++
	doc.ID = r.nextID
	for i := range doc.Lines {
		doc.Lines[i].ID = int64(i + 1)
		doc.Lines[i].DocumentID = doc.ID
	}
	stored := doc
	r.docs[doc.ID] = &stored
	return doc, nil
}

func (r *memoryDocRepo) Get(ctx context.Context, docType DocumentType, id int64) (Document, error) {
	doc, ok := r.docs[id]
	if !ok || doc.Type != docType {
		return Document{}, ErrNotFound
	}
	out := *doc
	out.Lines = append([]Line(nil), doc.Lines...)
	return out, nil
}

func (r *memoryDocRepo) List(ctx context.Context, docType DocumentType, status Status, limit, offset int) ([]Document, error) {
	var docs []Document
	for _, doc := range r.docs {
		if doc.Type == docType && (status == "" || doc.Status == status) {
			docs = append(docs, *doc)
		}
	}
	return docs, nil
}

func (r *memoryDocRepo) SetBCNumber(ctx context.Context, id int64, bcNumber, bcStatus string) error {
	doc, ok := r.docs[id]
	if !ok {
		return ErrNotFound
	}
	doc.BCNumber = bcNumber
	doc.BCStatus = bcStatus
	return nil
}

func (r *memoryDocRepo) SetReceivedQuantity(ctx context.Context, documentID, lineID int64, qteRecue float64) error {
	doc, ok := r.docs[documentID]
	if !ok {
		return ErrNotFound
	}
	for i := range doc.Lines {
		if doc.Lines[i].ID == lineID {
			qte := qteRecue
			doc.Lines[i].QteRecue = &qte
			return nil
		}
	}
	return ErrNotFound
}

type ledgerKey struct {
	src   ledger.SourceDocumentType
	srcID int64
	typ   ledger.MovementType
}

// fakeLedger applies the same idempotency rule as the real ledger service:
// rows already present for the key are returned unchanged.
type fakeLedger struct {
	nextID  int64
	entries map[ledgerKey][]ledger.StockTransaction
	writes  int
	fail    error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{entries: map[ledgerKey][]ledger.StockTransaction{}}
}

func (f *fakeLedger) RecordMovements(ctx context.Context, q ledger.Querier, input ledger.MovementInput) ([]ledger.StockTransaction, bool, error) {
	key := ledgerKey{src: input.SourceDocumentType, srcID: input.SourceDocumentID, typ: input.Type}
	if existing, ok := f.entries[key]; ok {
		return existing, false, nil
	}
	if f.fail != nil {
		return nil, false, f.fail
	}
	var txs []ledger.StockTransaction
	for _, line := range input.Lines {
		f.nextID++
		txs = append(txs, ledger.StockTransaction{
			ID:                 f.nextID,
			ProductID:          line.ProductID,
			SalespersonID:      input.SalespersonID,
			Type:               input.Type,
			Qte:                line.Qte,
			SourceDocumentType: input.SourceDocumentType,
			SourceDocumentID:   input.SourceDocumentID,
			CreatedAt:          time.Now(),
		})
	}
	f.entries[key] = txs
	f.writes++
	return txs, true, nil
}

type fakeERP struct {
	calls  int
	number string
	err    error
}

func (f *fakeERP) SubmitPurchaseOrder(ctx context.Context, sub bc.PurchaseOrderSubmission) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.number, nil
}

type fakeAudit struct {
	logs []shared.AuditLog
}

func (f *fakeAudit) Record(ctx context.Context, log shared.AuditLog) error {
	f.logs = append(f.logs, log)
	return nil
}

func newTestService(t *testing.T) (*Service, *memoryDocRepo, *fakeLedger, *fakeERP, *fakeAudit) {
	t.Helper()
	repo := newMemoryDocRepo()
	led := newFakeLedger()
	erp := &fakeERP{number: "PO-1001"}
	audit := &fakeAudit{}
	svc := NewService(repo, led, erp, audit, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, repo, led, erp, audit
}

func TestPurchaseOrderFullLifecycle(t *testing.T) {
	svc, _, led, erp, audit := newTestService(t)
	ctx := context.Background()

	doc, err := svc.Create(ctx, TypePurchaseOrder, CreateInput{
		SalespersonID: 7,
		VendorNumber:  "F-001",
		Lines: []CreateLineInput{
			{ProductID: 101, ItemNumber: "ART-101", Qte: 10},
			{ProductID: 102, ItemNumber: "ART-102", Qte: 4},
		},
	})
	require.NoError(t, err)
	require.Equal(t, StatusNonValide, doc.Status)

	res, err := svc.Settle(ctx, TypePurchaseOrder, doc.ID, StatusValide)
	require.NoError(t, err)
	require.Equal(t, StatusValide, res.Document.Status)
	require.Empty(t, res.Transactions)

	res, err = svc.SubmitToBC(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusEnvoyeBC, res.Document.Status)
	require.Equal(t, "PO-1001", res.Document.BCNumber)
	require.Equal(t, 1, erp.calls)

	// Partial receipt: line 2 arrives short.
	_, err = svc.Receive(ctx, doc.ID, []ReceiveLineInput{
		{LineID: 1, QteRecue: 10},
		{LineID: 2, QteRecue: 3},
	})
	require.NoError(t, err)

	res, err = svc.Settle(ctx, TypePurchaseOrder, doc.ID, StatusExpedie)
	require.NoError(t, err)
	require.False(t, res.AlreadyApplied)
	require.Len(t, res.Transactions, 2)
	require.Equal(t, ledger.MovementEntree, res.Transactions[0].Type)
	require.Equal(t, 10.0, res.Transactions[0].Qte)
	require.Equal(t, 3.0, res.Transactions[1].Qte)
	require.Equal(t, 1, led.writes)
	require.NotEmpty(t, audit.logs)
}

func TestSettleIsIdempotent(t *testing.T) {
	svc, _, led, _, audit := newTestService(t)
	ctx := context.Background()

	doc, err := svc.Create(ctx, TypeSale, CreateInput{
		SalespersonID: 7,
		Lines:         []CreateLineInput{{ProductID: 101, Qte: 2}},
	})
	require.NoError(t, err)

	first, err := svc.Settle(ctx, TypeSale, doc.ID, StatusValide)
	require.NoError(t, err)
	require.False(t, first.AlreadyApplied)
	require.Len(t, first.Transactions, 1)
	require.Equal(t, ledger.MovementSortie, first.Transactions[0].Type)

	second, err := svc.Settle(ctx, TypeSale, doc.ID, StatusValide)
	require.NoError(t, err)
	require.True(t, second.AlreadyApplied)
	require.Equal(t, first.Transactions, second.Transactions)
	require.Equal(t, 1, led.writes)
	require.Len(t, audit.logs, 1)
}

func TestSettleRetriesOnSerializationConflict(t *testing.T) {
	svc, repo, led, _, _ := newTestService(t)
	ctx := context.Background()

	doc, err := svc.Create(ctx, TypeSale, CreateInput{
		SalespersonID: 7,
		Lines:         []CreateLineInput{{ProductID: 101, Qte: 2}},
	})
	require.NoError(t, err)

	// The loser of two concurrent settlements gets its transaction aborted
	// with SQLSTATE 40001; the rerun must succeed.
	repo.txCalls = 0
	repo.txErrs = []error{&pgconn.PgError{Code: "40001"}}

	res, err := svc.Settle(ctx, TypeSale, doc.ID, StatusValide)
	require.NoError(t, err)
	require.Equal(t, StatusValide, res.Document.Status)
	require.Equal(t, 2, repo.txCalls)
	require.Equal(t, 1, led.writes)
}

func TestSettleGivesUpAfterSecondSerializationConflict(t *testing.T) {
	svc, repo, _, _, _ := newTestService(t)
	ctx := context.Background()

	doc, err := svc.Create(ctx, TypeSale, CreateInput{
		SalespersonID: 7,
		Lines:         []CreateLineInput{{ProductID: 101, Qte: 2}},
	})
	require.NoError(t, err)

	repo.txCalls = 0
	repo.txErrs = []error{&pgconn.PgError{Code: "40001"}, &pgconn.PgError{Code: "40001"}}

	_, err = svc.Settle(ctx, TypeSale, doc.ID, StatusValide)
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	require.Equal(t, "40001", pgErr.Code)
	require.Equal(t, 2, repo.txCalls)

	stored, err := repo.Get(ctx, TypeSale, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCree, stored.Status)
}

func TestIllegalTransitionLeavesStateUntouched(t *testing.T) {
	svc, repo, led, _, _ := newTestService(t)
	ctx := context.Background()

	doc, err := svc.Create(ctx, TypePurchaseOrder, CreateInput{
		SalespersonID: 7,
		Lines:         []CreateLineInput{{ProductID: 101, Qte: 5}},
	})
	require.NoError(t, err)

	_, err = svc.Settle(ctx, TypePurchaseOrder, doc.ID, StatusExpedie)
	require.ErrorIs(t, err, ErrInvalidTransition)

	stored, err := repo.Get(ctx, TypePurchaseOrder, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusNonValide, stored.Status)
	require.Zero(t, led.writes)
}

func TestSaleCancelAfterValidationRejected(t *testing.T) {
	svc, repo, _, _, _ := newTestService(t)
	ctx := context.Background()

	doc, err := svc.Create(ctx, TypeSale, CreateInput{
		SalespersonID: 7,
		Lines:         []CreateLineInput{{ProductID: 101, Qte: 2}},
	})
	require.NoError(t, err)

	_, err = svc.Settle(ctx, TypeSale, doc.ID, StatusValide)
	require.NoError(t, err)

	_, err = svc.Settle(ctx, TypeSale, doc.ID, StatusAnnule)
	require.ErrorIs(t, err, ErrInvalidTransition)

	stored, err := repo.Get(ctx, TypeSale, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusValide, stored.Status)
}

func TestLedgerFailureRollsBackStatus(t *testing.T) {
	svc, repo, led, _, _ := newTestService(t)
	ctx := context.Background()
	led.fail = fmt.Errorf("%w: product 101", ledger.ErrStockInsufficient)

	doc, err := svc.Create(ctx, TypeDeliveryNote, CreateInput{
		SalespersonID: 7,
		Lines:         []CreateLineInput{{ProductID: 101, Qte: 50}},
	})
	require.NoError(t, err)

	_, err = svc.Settle(ctx, TypeDeliveryNote, doc.ID, StatusValide)
	require.ErrorIs(t, err, ledger.ErrStockInsufficient)

	stored, err := repo.Get(ctx, TypeDeliveryNote, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCree, stored.Status)
}

func TestSubmitToBCFailureKeepsStatus(t *testing.T) {
	svc, repo, _, erp, _ := newTestService(t)
	ctx := context.Background()
	erp.err = fmt.Errorf("%w: POST purchaseOrders", bc.ErrExternalService)

	doc, err := svc.Create(ctx, TypePurchaseOrder, CreateInput{
		SalespersonID: 7,
		VendorNumber:  "F-001",
		Lines:         []CreateLineInput{{ProductID: 101, ItemNumber: "ART-101", Qte: 5}},
	})
	require.NoError(t, err)

	_, err = svc.Settle(ctx, TypePurchaseOrder, doc.ID, StatusValide)
	require.NoError(t, err)

	_, err = svc.SubmitToBC(ctx, doc.ID)
	require.ErrorIs(t, err, bc.ErrExternalService)

	stored, err := repo.Get(ctx, TypePurchaseOrder, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusValide, stored.Status)
	require.Empty(t, stored.BCNumber)
}

func TestSubmitToBCNotRepeatedOncePersisted(t *testing.T) {
	svc, repo, _, erp, _ := newTestService(t)
	ctx := context.Background()

	doc, err := svc.Create(ctx, TypePurchaseOrder, CreateInput{
		SalespersonID: 7,
		VendorNumber:  "F-001",
		Lines:         []CreateLineInput{{ProductID: 101, ItemNumber: "ART-101", Qte: 5}},
	})
	require.NoError(t, err)

	_, err = svc.Settle(ctx, TypePurchaseOrder, doc.ID, StatusValide)
	require.NoError(t, err)

	// A number stored by an earlier attempt must not trigger a second POST.
	require.NoError(t, repo.SetBCNumber(ctx, doc.ID, "PO-0999", "Open"))

	res, err := svc.SubmitToBC(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusEnvoyeBC, res.Document.Status)
	require.Equal(t, "PO-0999", res.Document.BCNumber)
	require.Zero(t, erp.calls)
}

func TestReturnInvoiceRequiresShippedPurchaseOrder(t *testing.T) {
	svc, _, led, _, _ := newTestService(t)
	ctx := context.Background()

	po, err := svc.Create(ctx, TypePurchaseOrder, CreateInput{
		SalespersonID: 7,
		Lines:         []CreateLineInput{{ProductID: 101, Qte: 5}},
	})
	require.NoError(t, err)

	_, err = svc.Create(ctx, TypeReturnInvoice, CreateInput{
		SalespersonID:   7,
		PurchaseOrderID: &po.ID,
		Lines:           []CreateLineInput{{ProductID: 101, Qte: 1}},
	})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(ctx, TypeReturnInvoice, CreateInput{
		SalespersonID: 7,
		Lines:         []CreateLineInput{{ProductID: 101, Qte: 1}},
	})
	require.ErrorIs(t, err, ErrValidation)

	// Walk the purchase order to expedie, then the return is accepted and
	// its validation books an entree.
	_, err = svc.Settle(ctx, TypePurchaseOrder, po.ID, StatusValide)
	require.NoError(t, err)
	require.NoError(t, svc.repo.SetBCNumber(ctx, po.ID, "PO-1001", "Open"))
	_, err = svc.Settle(ctx, TypePurchaseOrder, po.ID, StatusEnvoyeBC)
	require.NoError(t, err)
	_, err = svc.Receive(ctx, po.ID, []ReceiveLineInput{{LineID: 1, QteRecue: 5}})
	require.NoError(t, err)
	_, err = svc.Settle(ctx, TypePurchaseOrder, po.ID, StatusExpedie)
	require.NoError(t, err)

	ret, err := svc.Create(ctx, TypeReturnInvoice, CreateInput{
		SalespersonID:   7,
		PurchaseOrderID: &po.ID,
		Lines:           []CreateLineInput{{ProductID: 101, Qte: 2}},
	})
	require.NoError(t, err)

	res, err := svc.Settle(ctx, TypeReturnInvoice, ret.ID, StatusValide)
	require.NoError(t, err)
	require.Len(t, res.Transactions, 1)
	require.Equal(t, ledger.MovementEntree, res.Transactions[0].Type)
	require.Equal(t, 2.0, res.Transactions[0].Qte)
	require.Equal(t, 2, led.writes)
}

func TestReceiveOnlyAfterSubmission(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	doc, err := svc.Create(ctx, TypePurchaseOrder, CreateInput{
		SalespersonID: 7,
		Lines:         []CreateLineInput{{ProductID: 101, Qte: 5}},
	})
	require.NoError(t, err)

	_, err = svc.Receive(ctx, doc.ID, []ReceiveLineInput{{LineID: 1, QteRecue: 5}})
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.False(t, errors.Is(err, ErrValidation))
}
