package catalog

import (
	"errors"
	"time"
)

// BCCustomer is the local mirror of a BC customer. Remote-owned fields are
// refreshed by sync; SalesChannelID is curated locally and never overwritten.
type BCCustomer struct {
	ID             int64
	BCID           string
	Number         string
	DisplayName    string
	Phone          string
	Email          string
	City           string
	Blocked        string
	SalesChannelID *int64
	ETag           string
	LastModified   time.Time
	SyncedAt       time.Time
}

// BCItem is the local mirror of a BC item. ProductID links the mirror to the
// locally-managed product catalog and is never touched by sync.
type BCItem struct {
	ID           int64
	BCID         string
	Number       string
	DisplayName  string
	CategoryCode string
	BaseUnit     string
	UnitPrice    float64
	Inventory    float64
	Blocked      bool
	ProductID    *int64
	ETag         string
	LastModified time.Time
	SyncedAt     time.Time
}

// BCLocation is the local mirror of a BC location.
type BCLocation struct {
	ID           int64
	BCID         string
	Code         string
	DisplayName  string
	City         string
	ETag         string
	LastModified time.Time
	SyncedAt     time.Time
}

// BCItemPrice is one tiered price row mirrored from BC sales prices.
type BCItemPrice struct {
	ID              int64
	ItemNumber      string
	SalesType       string
	SalesCode       string
	MinimumQuantity float64
	UnitPrice       float64
	CurrencyCode    string
	StartingDate    time.Time
	EndingDate      time.Time
	SyncedAt        time.Time
}

// Sales price tier kinds, ordered by specificity elsewhere.
const (
	SalesTypeCustomer           = "Customer"
	SalesTypeCustomerPriceGroup = "Customer Price Group"
	SalesTypeCampaign           = "Campaign"
	SalesTypeAllCustomers       = "All Customers"
)

// SyncLog describes one record a sync run could not apply.
type SyncLog struct {
	Item   string `json:"item"`
	Reason string `json:"reason"`
}

// SyncResult reports a partial-failure-tolerant sync outcome.
type SyncResult struct {
	Count int       `json:"count"`
	Logs  []SyncLog `json:"logs"`
}

var (
	// ErrConflict indicates an incoming remote record was skipped because the
	// stored copy is newer.
	ErrConflict = errors.New("catalog: local copy is newer")
	// ErrValidation indicates a record that cannot be applied.
	ErrValidation = errors.New("catalog: invalid record")
	// ErrNotFound indicates a missing mirror row.
	ErrNotFound = errors.New("catalog: not found")
)
