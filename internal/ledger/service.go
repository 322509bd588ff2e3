package ledger

import (
	"context"
	"fmt"
	"log/slog"
)

// RepositoryPort abstracts ledger persistence for the service.
type RepositoryPort interface {
	Pool() Querier
	FindBySource(ctx context.Context, q Querier, docType SourceDocumentType, docID int64, movType MovementType) ([]StockTransaction, error)
	InsertTransactions(ctx context.Context, q Querier, input MovementInput) ([]StockTransaction, error)
	SumStock(ctx context.Context, q Querier, productID, salespersonID int64) (float64, error)
	List(ctx context.Context, filter TransactionFilter) ([]StockTransaction, error)
}

// ServiceConfig groups stock policy settings.
type ServiceConfig struct {
	// AllowNegativeStock permits sorties below zero; movements are then logged
	// with a warning instead of rejected.
	AllowNegativeStock bool
}

// Service owns all writes to the stock ledger.
type Service struct {
	repo     RepositoryPort
	logger   *slog.Logger
	allowNeg bool
}

// NewService builds the ledger service.
func NewService(repo RepositoryPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	return &Service{repo: repo, logger: logger, allowNeg: cfg.AllowNegativeStock}
}

// RecordMovements applies a document transition's ledger effect through the
// supplied querier (usually the settlement transaction). When rows already
// exist for the idempotency key they are returned unchanged and applied is
// false — retries and duplicate deliveries never double-write.
func (s *Service) RecordMovements(ctx context.Context, q Querier, input MovementInput) (txs []StockTransaction, applied bool, err error) {
	if len(input.Lines) == 0 {
		return nil, false, fmt.Errorf("%w: no lines", ErrInvalidQuantity)
	}
	for _, line := range input.Lines {
		if line.Qte <= 0 {
			return nil, false, fmt.Errorf("%w: product %d", ErrInvalidQuantity, line.ProductID)
		}
	}

	existing, err := s.repo.FindBySource(ctx, q, input.SourceDocumentType, input.SourceDocumentID, input.Type)
	if err != nil {
		return nil, false, err
	}
	if len(existing) > 0 {
		return existing, false, nil
	}

	if input.Type == MovementSortie {
		if err := s.checkAvailability(ctx, q, input); err != nil {
			return nil, false, err
		}
	}

	inserted, err := s.repo.InsertTransactions(ctx, q, input)
	if err != nil {
		return nil, false, err
	}
	return inserted, true, nil
}

func (s *Service) checkAvailability(ctx context.Context, q Querier, input MovementInput) error {
	for _, line := range input.Lines {
		onHand, err := s.repo.SumStock(ctx, q, line.ProductID, input.SalespersonID)
		if err != nil {
			return err
		}
		if onHand < line.Qte {
			if s.allowNeg {
				s.logger.Warn("sortie drives stock negative",
					slog.Int64("product_id", line.ProductID),
					slog.Int64("salesperson_id", input.SalespersonID),
					slog.Float64("on_hand", onHand),
					slog.Float64("qte", line.Qte))
				continue
			}
			return fmt.Errorf("%w: product %d has %.2f, needs %.2f",
				ErrStockInsufficient, line.ProductID, onHand, line.Qte)
		}
	}
	return nil
}

// CurrentStock derives the on-hand quantity for (product, salesperson) as the
// signed sum of its ledger rows. The value is never stored as mutable state.
func (s *Service) CurrentStock(ctx context.Context, productID, salespersonID int64) (float64, error) {
	return s.repo.SumStock(ctx, s.repo.Pool(), productID, salespersonID)
}

// List exposes the read-only transaction log.
func (s *Service) List(ctx context.Context, filter TransactionFilter) ([]StockTransaction, error) {
	return s.repo.List(ctx, filter)
}
