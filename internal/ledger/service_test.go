package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryLedger struct {
	rows   []StockTransaction
	nextID int64
}

func (m *memoryLedger) Pool() Querier { return nil }

func (m *memoryLedger) FindBySource(_ context.Context, _ Querier, docType SourceDocumentType, docID int64, movType MovementType) ([]StockTransaction, error) {
	var found []StockTransaction
	for _, row := range m.rows {
		if row.SourceDocumentType == docType && row.SourceDocumentID == docID && row.Type == movType {
			found = append(found, row)
		}
	}
	return found, nil
}

func (m *memoryLedger) InsertTransactions(_ context.Context, _ Querier, input MovementInput) ([]StockTransaction, error) {
	var inserted []StockTransaction
	for _, line := range input.Lines {
		m.nextID++
		tx := StockTransaction{
			ID:                 m.nextID,
			ProductID:          line.ProductID,
			SalespersonID:      input.SalespersonID,
			Type:               input.Type,
			Qte:                line.Qte,
			SourceDocumentType: input.SourceDocumentType,
			SourceDocumentID:   input.SourceDocumentID,
		}
		m.rows = append(m.rows, tx)
		inserted = append(inserted, tx)
	}
	return inserted, nil
}

func (m *memoryLedger) SumStock(_ context.Context, _ Querier, productID, salespersonID int64) (float64, error) {
	var total float64
	for _, row := range m.rows {
		if row.ProductID != productID || row.SalespersonID != salespersonID {
			continue
		}
		if row.Type == MovementEntree {
			total += row.Qte
		} else {
			total -= row.Qte
		}
	}
	return total, nil
}

func (m *memoryLedger) List(_ context.Context, filter TransactionFilter) ([]StockTransaction, error) {
	result := make([]StockTransaction, len(m.rows))
	copy(result, m.rows)
	return result, nil
}

func newLedgerService(repo *memoryLedger, allowNeg bool) *Service {
	return NewService(repo, slog.New(slog.NewTextHandler(io.Discard, nil)), ServiceConfig{AllowNegativeStock: allowNeg})
}

func TestRecordMovementsIdempotent(t *testing.T) {
	repo := &memoryLedger{}
	svc := newLedgerService(repo, false)
	ctx := context.Background()

	input := MovementInput{
		SalespersonID:      1,
		Type:               MovementEntree,
		SourceDocumentType: SourcePurchaseOrder,
		SourceDocumentID:   10,
		Lines:              []MovementLine{{ProductID: 10, Qte: 5}},
	}

	first, applied, err := svc.RecordMovements(ctx, nil, input)
	require.NoError(t, err)
	require.True(t, applied)
	require.Len(t, first, 1)

	second, applied, err := svc.RecordMovements(ctx, nil, input)
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, first, second)
	require.Len(t, repo.rows, 1)
}

func TestDerivedStockMatchesSignedSum(t *testing.T) {
	repo := &memoryLedger{}
	svc := newLedgerService(repo, false)
	ctx := context.Background()

	_, _, err := svc.RecordMovements(ctx, nil, MovementInput{
		SalespersonID: 1, Type: MovementEntree,
		SourceDocumentType: SourcePurchaseOrder, SourceDocumentID: 1,
		Lines: []MovementLine{{ProductID: 10, Qte: 5}},
	})
	require.NoError(t, err)
	_, _, err = svc.RecordMovements(ctx, nil, MovementInput{
		SalespersonID: 1, Type: MovementSortie,
		SourceDocumentType: SourceDeliveryNote, SourceDocumentID: 2,
		Lines: []MovementLine{{ProductID: 10, Qte: 2}},
	})
	require.NoError(t, err)

	onHand, err := svc.CurrentStock(ctx, 10, 1)
	require.NoError(t, err)
	require.InDelta(t, 3, onHand, 0.0001)
}

func TestSortieRejectedWhenInsufficient(t *testing.T) {
	repo := &memoryLedger{}
	svc := newLedgerService(repo, false)
	ctx := context.Background()

	_, _, err := svc.RecordMovements(ctx, nil, MovementInput{
		SalespersonID: 1, Type: MovementSortie,
		SourceDocumentType: SourceSale, SourceDocumentID: 3,
		Lines: []MovementLine{{ProductID: 10, Qte: 1}},
	})
	require.ErrorIs(t, err, ErrStockInsufficient)
	require.Empty(t, repo.rows)
}

func TestSortieAllowedWhenPolicyPermitsNegative(t *testing.T) {
	repo := &memoryLedger{}
	svc := newLedgerService(repo, true)
	ctx := context.Background()

	_, applied, err := svc.RecordMovements(ctx, nil, MovementInput{
		SalespersonID: 1, Type: MovementSortie,
		SourceDocumentType: SourceSale, SourceDocumentID: 3,
		Lines: []MovementLine{{ProductID: 10, Qte: 1}},
	})
	require.NoError(t, err)
	require.True(t, applied)

	onHand, err := svc.CurrentStock(ctx, 10, 1)
	require.NoError(t, err)
	require.InDelta(t, -1, onHand, 0.0001)
}

func TestRecordMovementsRejectsInvalidQuantity(t *testing.T) {
	svc := newLedgerService(&memoryLedger{}, false)

	for _, lines := range [][]MovementLine{nil, {{ProductID: 10, Qte: 0}}, {{ProductID: 10, Qte: -2}}} {
		_, _, err := svc.RecordMovements(context.Background(), nil, MovementInput{
			SalespersonID: 1, Type: MovementEntree,
			SourceDocumentType: SourcePurchaseOrder, SourceDocumentID: 9,
			Lines: lines,
		})
		require.ErrorIs(t, err, ErrInvalidQuantity, fmt.Sprintf("lines %v", lines))
	}
}
