package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/distriflow/distriflow/internal/bc"
)

// RepositoryPort abstracts mirror persistence for the service.
type RepositoryPort interface {
	UpsertCustomer(ctx context.Context, c BCCustomer) error
	UpsertItem(ctx context.Context, item BCItem) error
	UpsertLocation(ctx context.Context, loc BCLocation) error
	ReplaceItemPrices(ctx context.Context, itemNumber string, prices []BCItemPrice) error
	ListItemNumbers(ctx context.Context) ([]string, error)
}

// GatewayPort is the slice of the BC client the sync service needs.
type GatewayPort interface {
	ResolveCompany(ctx context.Context) (bc.Company, error)
	ListCustomers(ctx context.Context, company bc.Company) ([]bc.Customer, error)
	ListItems(ctx context.Context, company bc.Company) ([]bc.Item, error)
	ListLocations(ctx context.Context, company bc.Company) ([]bc.Location, error)
	GetItemPrices(ctx context.Context, company bc.Company, itemNumber string) ([]bc.SalesPrice, error)
}

// ServiceConfig tunes batch sizes and the price pull.
type ServiceConfig struct {
	BatchSize             int
	PriceFetchConcurrency int
	PriceFetchPause       time.Duration
}

// Service applies BC entities to the local mirrors.
type Service struct {
	repo    RepositoryPort
	gateway GatewayPort
	logger  *slog.Logger
	cfg     ServiceConfig
}

// NewService constructs the sync service.
func NewService(repo RepositoryPort, gateway GatewayPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.PriceFetchConcurrency <= 0 {
		cfg.PriceFetchConcurrency = 10
	}
	return &Service{repo: repo, gateway: gateway, logger: logger, cfg: cfg}
}

// SyncCustomers upserts customer mirrors in fixed-size batches. A failing
// record is logged and skipped; the run continues. Context cancellation stops
// between batches and keeps everything already applied.
func (s *Service) SyncCustomers(ctx context.Context, customers []bc.Customer) (SyncResult, error) {
	var result SyncResult
	for _, batch := range partition(customers, s.cfg.BatchSize) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		for _, remote := range batch {
			if remote.ID == "" || remote.Number == "" {
				result.Logs = append(result.Logs, SyncLog{Item: remote.Number, Reason: ErrValidation.Error()})
				continue
			}
			err := s.repo.UpsertCustomer(ctx, BCCustomer{
				BCID:         remote.ID,
				Number:       remote.Number,
				DisplayName:  remote.DisplayName,
				Phone:        remote.PhoneNumber,
				Email:        remote.Email,
				City:         remote.City,
				Blocked:      remote.Blocked,
				ETag:         remote.ETag,
				LastModified: remote.LastModified,
			})
			if err != nil {
				result.Logs = append(result.Logs, SyncLog{Item: remote.Number, Reason: err.Error()})
				continue
			}
			result.Count++
		}
	}
	s.logResult("customers", result)
	return result, nil
}

// SyncItems upserts item mirrors; same partial-failure contract as customers.
func (s *Service) SyncItems(ctx context.Context, items []bc.Item) (SyncResult, error) {
	var result SyncResult
	for _, batch := range partition(items, s.cfg.BatchSize) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		for _, remote := range batch {
			if remote.ID == "" || remote.Number == "" {
				result.Logs = append(result.Logs, SyncLog{Item: remote.Number, Reason: ErrValidation.Error()})
				continue
			}
			err := s.repo.UpsertItem(ctx, BCItem{
				BCID:         remote.ID,
				Number:       remote.Number,
				DisplayName:  remote.DisplayName,
				CategoryCode: remote.CategoryCode,
				BaseUnit:     remote.BaseUnit,
				UnitPrice:    remote.UnitPrice,
				Inventory:    remote.Inventory,
				Blocked:      remote.Blocked,
				ETag:         remote.ETag,
				LastModified: remote.LastModified,
			})
			if err != nil {
				result.Logs = append(result.Logs, SyncLog{Item: remote.Number, Reason: err.Error()})
				continue
			}
			result.Count++
		}
	}
	s.logResult("items", result)
	return result, nil
}

// SyncLocations upserts location mirrors; same partial-failure contract.
func (s *Service) SyncLocations(ctx context.Context, locations []bc.Location) (SyncResult, error) {
	var result SyncResult
	for _, batch := range partition(locations, s.cfg.BatchSize) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		for _, remote := range batch {
			if remote.ID == "" || remote.Code == "" {
				result.Logs = append(result.Logs, SyncLog{Item: remote.Code, Reason: ErrValidation.Error()})
				continue
			}
			err := s.repo.UpsertLocation(ctx, BCLocation{
				BCID:         remote.ID,
				Code:         remote.Code,
				DisplayName:  remote.DisplayName,
				City:         remote.City,
				ETag:         remote.ETag,
				LastModified: remote.LastModified,
			})
			if err != nil {
				result.Logs = append(result.Logs, SyncLog{Item: remote.Code, Reason: err.Error()})
				continue
			}
			result.Count++
		}
	}
	s.logResult("locations", result)
	return result, nil
}

// SyncItemPrices applies posted price rows to the mirror, replacing each
// item's whole tier set; same partial-failure contract as the other syncs.
func (s *Service) SyncItemPrices(ctx context.Context, prices []bc.SalesPrice) (SyncResult, error) {
	var result SyncResult
	grouped := make(map[string][]BCItemPrice)
	var order []string
	for _, remote := range prices {
		if remote.ItemNumber == "" || remote.SalesType == "" {
			result.Logs = append(result.Logs, SyncLog{Item: remote.ItemNumber, Reason: ErrValidation.Error()})
			continue
		}
		if _, seen := grouped[remote.ItemNumber]; !seen {
			order = append(order, remote.ItemNumber)
		}
		grouped[remote.ItemNumber] = append(grouped[remote.ItemNumber], BCItemPrice{
			ItemNumber:      remote.ItemNumber,
			SalesType:       remote.SalesType,
			SalesCode:       remote.SalesCode,
			MinimumQuantity: remote.MinimumQuantity,
			UnitPrice:       remote.UnitPrice,
			CurrencyCode:    remote.CurrencyCode,
			StartingDate:    parseDate(remote.StartingDate),
			EndingDate:      parseDate(remote.EndingDate),
		})
	}
	for _, number := range order {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		rows := grouped[number]
		if err := s.repo.ReplaceItemPrices(ctx, number, rows); err != nil {
			result.Logs = append(result.Logs, SyncLog{Item: number, Reason: err.Error()})
			continue
		}
		result.Count += len(rows)
	}
	s.logResult("item prices", result)
	return result, nil
}

// RefreshCatalog pulls customers, items and locations from BC and applies them
// to the mirrors. Already-applied batches stay applied on cancellation.
func (s *Service) RefreshCatalog(ctx context.Context) (SyncResult, error) {
	company, err := s.gateway.ResolveCompany(ctx)
	if err != nil {
		return SyncResult{}, err
	}

	var total SyncResult

	customers, err := s.gateway.ListCustomers(ctx, company)
	if err != nil {
		return total, fmt.Errorf("list customers: %w", err)
	}
	merge(&total, s.mustSync(s.SyncCustomers(ctx, customers)))

	items, err := s.gateway.ListItems(ctx, company)
	if err != nil {
		return total, fmt.Errorf("list items: %w", err)
	}
	merge(&total, s.mustSync(s.SyncItems(ctx, items)))

	locations, err := s.gateway.ListLocations(ctx, company)
	if err != nil {
		return total, fmt.Errorf("list locations: %w", err)
	}
	merge(&total, s.mustSync(s.SyncLocations(ctx, locations)))

	return total, nil
}

// PullPrices fetches the tier set for every mirrored item. Items are fetched
// individually so no sales-type tier is missed, with bounded concurrency and a
// brief pause between batches to respect the remote rate limiter.
func (s *Service) PullPrices(ctx context.Context) (SyncResult, error) {
	company, err := s.gateway.ResolveCompany(ctx)
	if err != nil {
		return SyncResult{}, err
	}
	numbers, err := s.repo.ListItemNumbers(ctx)
	if err != nil {
		return SyncResult{}, err
	}

	var result SyncResult
	for _, batch := range partition(numbers, s.cfg.PriceFetchConcurrency) {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		type itemPrices struct {
			number string
			prices []BCItemPrice
			err    error
		}
		fetched := make([]itemPrices, len(batch))

		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(s.cfg.PriceFetchConcurrency)
		for i, number := range batch {
			i, number := i, number
			group.Go(func() error {
				remote, err := s.gateway.GetItemPrices(groupCtx, company, number)
				if err != nil {
					fetched[i] = itemPrices{number: number, err: err}
					return nil // keep fetching the rest of the batch
				}
				prices := make([]BCItemPrice, 0, len(remote))
				for _, p := range remote {
					prices = append(prices, BCItemPrice{
						ItemNumber:      p.ItemNumber,
						SalesType:       p.SalesType,
						SalesCode:       p.SalesCode,
						MinimumQuantity: p.MinimumQuantity,
						UnitPrice:       p.UnitPrice,
						CurrencyCode:    p.CurrencyCode,
						StartingDate:    parseDate(p.StartingDate),
						EndingDate:      parseDate(p.EndingDate),
					})
				}
				fetched[i] = itemPrices{number: number, prices: prices}
				return nil
			})
		}
		_ = group.Wait()

		for _, item := range fetched {
			if item.err != nil {
				result.Logs = append(result.Logs, SyncLog{Item: item.number, Reason: item.err.Error()})
				continue
			}
			if err := s.repo.ReplaceItemPrices(ctx, item.number, item.prices); err != nil {
				result.Logs = append(result.Logs, SyncLog{Item: item.number, Reason: err.Error()})
				continue
			}
			result.Count++
		}

		if s.cfg.PriceFetchPause > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(s.cfg.PriceFetchPause):
			}
		}
	}
	s.logResult("item prices", result)
	return result, nil
}

func (s *Service) mustSync(result SyncResult, err error) SyncResult {
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("catalog sync step failed", slog.Any("error", err))
	}
	return result
}

func (s *Service) logResult(entity string, result SyncResult) {
	if s.logger == nil {
		return
	}
	s.logger.Info("catalog sync applied",
		slog.String("entity", entity),
		slog.Int("count", result.Count),
		slog.Int("failed", len(result.Logs)))
}

func merge(total *SyncResult, part SyncResult) {
	total.Count += part.Count
	total.Logs = append(total.Logs, part.Logs...)
}

func partition[T any](entities []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	var batches [][]T
	for start := 0; start < len(entities); start += size {
		end := min(start+size, len(entities))
		batches = append(batches, entities[start:end])
	}
	return batches
}

func parseDate(value string) time.Time {
	if value == "" || value == "0001-01-01" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}
	}
	return t
}
