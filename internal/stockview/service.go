package stockview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/redis/go-redis/v9"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/distriflow/distriflow/internal/catalog"
)

// RepositoryPort abstracts read access to the mirrored BC data.
type RepositoryPort interface {
	ItemForProduct(ctx context.Context, productID int64) (catalog.BCItem, error)
	ItemPrices(ctx context.Context, itemNumber string) ([]catalog.BCItemPrice, error)
	LocationRows(ctx context.Context, filter LocationFilter) ([]LocationStock, error)
}

// LedgerPort reads the authoritative local stock.
type LedgerPort interface {
	CurrentStock(ctx context.Context, productID, salespersonID int64) (float64, error)
}

// ServiceConfig groups view settings.
type ServiceConfig struct {
	CacheTTL time.Duration
}

// Service assembles read-only stock views. It never writes stock; the ledger
// stays the only writable source of truth.
type Service struct {
	repo   RepositoryPort
	ledger LedgerPort
	cache  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds the stock view service. cache may be nil, in which case
// every consultation is computed fresh.
func NewService(repo RepositoryPort, ledgerSvc LedgerPort, cache *redis.Client, logger *slog.Logger, cfg ServiceConfig) *Service {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Service{repo: repo, ledger: ledgerSvc, cache: cache, ttl: ttl, logger: logger, now: time.Now}
}

// ConsultationQuery identifies the product and buyer a consultation is for.
// Campaigns lists the campaign codes the buyer currently participates in.
type ConsultationQuery struct {
	ProductID      int64
	SalespersonID  int64
	CustomerNumber string
	PriceGroup     string
	Campaigns      []string
	Quantity       float64
}

// Consultation is the combined stock and price view for one product. The
// local stock is ledger-derived and authoritative; the BC inventory is the
// last synced advisory snapshot.
type Consultation struct {
	ProductID     int64                 `json:"product_id"`
	ItemNumber    string                `json:"item_number"`
	ItemName      string                `json:"item_name"`
	LocalStock    float64               `json:"local_stock"`
	BCInventory   float64               `json:"bc_inventory"`
	SyncedAt      time.Time             `json:"synced_at"`
	Prices        []catalog.BCItemPrice `json:"prices"`
	ResolvedPrice *ResolvedPrice        `json:"resolved_price,omitempty"`
}

// Consultation returns the combined view, served from redis when a fresh copy
// exists for the same query.
func (s *Service) Consultation(ctx context.Context, q ConsultationQuery) (Consultation, error) {
	key := fmt.Sprintf("stockview:consultation:%d:%d:%s:%s:%s:%g",
		q.ProductID, q.SalespersonID, q.CustomerNumber, q.PriceGroup,
		strings.Join(q.Campaigns, ","), q.Quantity)
	if cached, ok := s.fromCache(ctx, key); ok {
		return cached, nil
	}

	view, err := s.buildConsultation(ctx, q)
	if err != nil {
		return Consultation{}, err
	}
	s.toCache(ctx, key, view)
	return view, nil
}

func (s *Service) buildConsultation(ctx context.Context, q ConsultationQuery) (Consultation, error) {
	item, err := s.repo.ItemForProduct(ctx, q.ProductID)
	if err != nil {
		return Consultation{}, err
	}
	localStock, err := s.ledger.CurrentStock(ctx, q.ProductID, q.SalespersonID)
	if err != nil {
		return Consultation{}, err
	}
	prices, err := s.repo.ItemPrices(ctx, item.Number)
	if err != nil {
		return Consultation{}, err
	}

	view := Consultation{
		ProductID:   q.ProductID,
		ItemNumber:  item.Number,
		ItemName:    item.DisplayName,
		LocalStock:  localStock,
		BCInventory: item.Inventory,
		SyncedAt:    item.SyncedAt,
		Prices:      prices,
	}
	if q.CustomerNumber != "" || q.PriceGroup != "" || len(q.Campaigns) > 0 {
		resolved, err := ResolvePrice(prices, PriceQuery{
			CustomerNumber: q.CustomerNumber,
			PriceGroup:     q.PriceGroup,
			Campaigns:      q.Campaigns,
			Quantity:       q.Quantity,
			Now:            s.now(),
		})
		if err == nil {
			view.ResolvedPrice = &resolved
		} else if !errors.Is(err, ErrNoPriceFound) {
			return Consultation{}, err
		}
	}
	return view, nil
}

// ByLocation returns the per-location view, filtered by an accent-insensitive
// substring search on item and location names.
func (s *Service) ByLocation(ctx context.Context, filter LocationFilter) ([]LocationStock, error) {
	rows, err := s.repo.LocationRows(ctx, filter)
	if err != nil {
		return nil, err
	}
	if filter.Search != "" {
		needle := foldAccents(filter.Search)
		kept := rows[:0]
		for _, row := range rows {
			if strings.Contains(foldAccents(row.ItemName), needle) ||
				strings.Contains(foldAccents(row.LocationName), needle) ||
				strings.Contains(foldAccents(row.ItemNumber), needle) {
				kept = append(kept, row)
			}
		}
		rows = kept
	}
	return paginate(rows, filter.Limit, filter.Offset), nil
}

func (s *Service) fromCache(ctx context.Context, key string) (Consultation, bool) {
	if s.cache == nil {
		return Consultation{}, false
	}
	payload, err := s.cache.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("consultation cache read failed", "error", err)
		}
		return Consultation{}, false
	}
	var view Consultation
	if err := json.Unmarshal(payload, &view); err != nil {
		return Consultation{}, false
	}
	return view, true
}

func (s *Service) toCache(ctx context.Context, key string, view Consultation) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(view)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		s.logger.Warn("consultation cache write failed", "error", err)
	}
}

// foldAccents lowercases and strips combining marks, so "Ile" matches "Île".
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

func paginate(rows []LocationStock, limit, offset int) []LocationStock {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return []LocationStock{}
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end]
}
