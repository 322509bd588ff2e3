package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/distriflow/distriflow/internal/bc"
)

type memoryRepo struct {
	customers map[string]BCCustomer
	items     map[string]BCItem
	locations map[string]BCLocation
	prices    map[string][]BCItemPrice
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		customers: map[string]BCCustomer{},
		items:     map[string]BCItem{},
		locations: map[string]BCLocation{},
		prices:    map[string][]BCItemPrice{},
	}
}

func (r *memoryRepo) UpsertCustomer(_ context.Context, c BCCustomer) error {
	if existing, ok := r.customers[c.BCID]; ok {
		if !c.LastModified.After(existing.LastModified) && c.ETag != existing.ETag {
			return ErrConflict
		}
		// Local-only field survives the refresh.
		c.SalesChannelID = existing.SalesChannelID
	}
	r.customers[c.BCID] = c
	return nil
}

func (r *memoryRepo) UpsertItem(_ context.Context, item BCItem) error {
	if existing, ok := r.items[item.BCID]; ok {
		if !item.LastModified.After(existing.LastModified) && item.ETag != existing.ETag {
			return ErrConflict
		}
		item.ProductID = existing.ProductID
	}
	r.items[item.BCID] = item
	return nil
}

func (r *memoryRepo) UpsertLocation(_ context.Context, loc BCLocation) error {
	r.locations[loc.BCID] = loc
	return nil
}

func (r *memoryRepo) ReplaceItemPrices(_ context.Context, itemNumber string, prices []BCItemPrice) error {
	r.prices[itemNumber] = prices
	return nil
}

func (r *memoryRepo) ListItemNumbers(context.Context) ([]string, error) {
	var numbers []string
	for _, item := range r.items {
		numbers = append(numbers, item.Number)
	}
	return numbers, nil
}

type fakeGateway struct {
	company   bc.Company
	prices    map[string][]bc.SalesPrice
	priceErrs map[string]error
}

func (g *fakeGateway) ResolveCompany(context.Context) (bc.Company, error) { return g.company, nil }
func (g *fakeGateway) ListCustomers(context.Context, bc.Company) ([]bc.Customer, error) {
	return nil, nil
}
func (g *fakeGateway) ListItems(context.Context, bc.Company) ([]bc.Item, error) { return nil, nil }
func (g *fakeGateway) ListLocations(context.Context, bc.Company) ([]bc.Location, error) {
	return nil, nil
}
func (g *fakeGateway) GetItemPrices(_ context.Context, _ bc.Company, itemNumber string) ([]bc.SalesPrice, error) {
	if err := g.priceErrs[itemNumber]; err != nil {
		return nil, err
	}
	return g.prices[itemNumber], nil
}

func newTestService(repo *memoryRepo, gateway *fakeGateway) *Service {
	return NewService(repo, gateway, slog.New(slog.NewTextHandler(io.Discard, nil)), ServiceConfig{BatchSize: 2, PriceFetchConcurrency: 2})
}

func TestSyncCustomersPartialFailure(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &fakeGateway{})
	now := time.Now()

	result, err := svc.SyncCustomers(context.Background(), []bc.Customer{
		{ID: "c-1", Number: "CL001", DisplayName: "Client Un", LastModified: now},
		{ID: "", Number: "CL002", DisplayName: "Client Deux", LastModified: now},
		{ID: "c-3", Number: "CL003", DisplayName: "Client Trois", LastModified: now},
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.Count)
	require.Len(t, result.Logs, 1)
	require.Equal(t, "CL002", result.Logs[0].Item)
	require.Contains(t, repo.customers, "c-1")
	require.Contains(t, repo.customers, "c-3")
	require.NotContains(t, repo.customers, "")
}

func TestSyncCustomersIdempotentReplay(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &fakeGateway{})
	now := time.Now()

	batch := []bc.Customer{{ID: "c-1", Number: "CL001", DisplayName: "Client Un", ETag: "e1", LastModified: now}}
	_, err := svc.SyncCustomers(context.Background(), batch)
	require.NoError(t, err)
	_, err = svc.SyncCustomers(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, repo.customers, 1)
}

func TestSyncCustomersStaleRecordSkipped(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &fakeGateway{})
	now := time.Now()

	channel := int64(7)
	repo.customers["c-1"] = BCCustomer{BCID: "c-1", Number: "CL001", DisplayName: "Nouveau nom", SalesChannelID: &channel, ETag: "e2", LastModified: now}

	result, err := svc.SyncCustomers(context.Background(), []bc.Customer{
		{ID: "c-1", Number: "CL001", DisplayName: "Ancien nom", ETag: "e1", LastModified: now.Add(-time.Hour)},
	})
	require.NoError(t, err)
	require.Equal(t, 0, result.Count)
	require.Len(t, result.Logs, 1)
	require.Equal(t, "Nouveau nom", repo.customers["c-1"].DisplayName)
}

func TestSyncItemsPreservesLocalProductLink(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &fakeGateway{})
	now := time.Now()

	productID := int64(42)
	repo.items["i-1"] = BCItem{BCID: "i-1", Number: "ART001", ProductID: &productID, ETag: "e1", LastModified: now.Add(-time.Hour)}

	result, err := svc.SyncItems(context.Background(), []bc.Item{
		{ID: "i-1", Number: "ART001", DisplayName: "Article un", ETag: "e2", LastModified: now},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Count)
	require.NotNil(t, repo.items["i-1"].ProductID)
	require.EqualValues(t, 42, *repo.items["i-1"].ProductID)
	require.Equal(t, "Article un", repo.items["i-1"].DisplayName)
}

func TestPullPricesPartialFailure(t *testing.T) {
	repo := newMemoryRepo()
	repo.items["i-1"] = BCItem{BCID: "i-1", Number: "ART001"}
	repo.items["i-2"] = BCItem{BCID: "i-2", Number: "ART002"}

	gateway := &fakeGateway{
		prices: map[string][]bc.SalesPrice{
			"ART001": {
				{ItemNumber: "ART001", SalesType: SalesTypeAllCustomers, MinimumQuantity: 1, UnitPrice: 10, StartingDate: "2026-01-01"},
				{ItemNumber: "ART001", SalesType: SalesTypeCustomer, SalesCode: "CL001", MinimumQuantity: 5, UnitPrice: 8},
			},
		},
		priceErrs: map[string]error{"ART002": errors.New("boom")},
	}
	svc := newTestService(repo, gateway)

	result, err := svc.PullPrices(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Count)
	require.Len(t, result.Logs, 1)
	require.Equal(t, "ART002", result.Logs[0].Item)
	require.Len(t, repo.prices["ART001"], 2)
	require.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), repo.prices["ART001"][0].StartingDate)
}

func TestSyncItemPricesUpsertsPostedRows(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &fakeGateway{})

	result, err := svc.SyncItemPrices(context.Background(), []bc.SalesPrice{
		{ItemNumber: "ART001", SalesType: "All Customers", UnitPrice: 100, StartingDate: "2026-01-01"},
		{ItemNumber: "ART001", SalesType: "Customer", SalesCode: "C-042", MinimumQuantity: 20, UnitPrice: 75},
		{ItemNumber: "ART002", SalesType: "All Customers", UnitPrice: 45},
		{SalesType: "All Customers", UnitPrice: 9}, // no item number
	})
	require.NoError(t, err)
	require.Equal(t, 3, result.Count)
	require.Len(t, result.Logs, 1)
	require.Len(t, repo.prices["ART001"], 2)
	require.Len(t, repo.prices["ART002"], 1)
	require.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), repo.prices["ART001"][0].StartingDate)
}

func TestSyncItemPricesReplacesTierSet(t *testing.T) {
	repo := newMemoryRepo()
	repo.prices["ART001"] = []BCItemPrice{
		{ItemNumber: "ART001", SalesType: "Campaign", SalesCode: "OLD", UnitPrice: 50},
	}
	svc := newTestService(repo, &fakeGateway{})

	result, err := svc.SyncItemPrices(context.Background(), []bc.SalesPrice{
		{ItemNumber: "ART001", SalesType: "All Customers", UnitPrice: 100},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Count)
	require.Len(t, repo.prices["ART001"], 1)
	require.Equal(t, "All Customers", repo.prices["ART001"][0].SalesType)
}

func TestPartitionSizes(t *testing.T) {
	batches := partition([]int{1, 2, 3, 4, 5}, 2)
	require.Len(t, batches, 3)
	require.Equal(t, []int{5}, batches[2])
}
