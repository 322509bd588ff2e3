package bc

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// Customer mirrors the BC customers API entity.
type Customer struct {
	ID           string    `json:"id"`
	Number       string    `json:"number"`
	DisplayName  string    `json:"displayName"`
	PhoneNumber  string    `json:"phoneNumber"`
	Email        string    `json:"email"`
	City         string    `json:"addressCity"`
	Blocked      string    `json:"blocked"`
	ETag         string    `json:"@odata.etag"`
	LastModified time.Time `json:"lastModifiedDateTime"`
}

// Item mirrors the BC items API entity.
type Item struct {
	ID            string    `json:"id"`
	Number        string    `json:"number"`
	DisplayName   string    `json:"displayName"`
	CategoryCode  string    `json:"itemCategoryCode"`
	BaseUnit      string    `json:"baseUnitOfMeasureCode"`
	UnitPrice     float64   `json:"unitPrice"`
	Inventory     float64   `json:"inventory"`
	Blocked       bool      `json:"blocked"`
	ETag          string    `json:"@odata.etag"`
	LastModified  time.Time `json:"lastModifiedDateTime"`
}

// Location mirrors the BC locations API entity.
type Location struct {
	ID           string    `json:"id"`
	Code         string    `json:"code"`
	DisplayName  string    `json:"displayName"`
	City         string    `json:"addressCity"`
	ETag         string    `json:"@odata.etag"`
	LastModified time.Time `json:"lastModifiedDateTime"`
}

// SalesPrice is one tiered price row for an item.
type SalesPrice struct {
	ItemNumber      string  `json:"itemNo"`
	SalesType       string  `json:"salesType"`
	SalesCode       string  `json:"salesCode"`
	MinimumQuantity float64 `json:"minimumQuantity"`
	UnitPrice       float64 `json:"unitPrice"`
	CurrencyCode    string  `json:"currencyCode"`
	StartingDate    string  `json:"startingDate"`
	EndingDate      string  `json:"endingDate"`
	ETag            string  `json:"@odata.etag"`
}

// ListCustomers drains the customers collection of the resolved company.
func (c *Client) ListCustomers(ctx context.Context, company Company) ([]Customer, error) {
	return collect[Customer](ctx, c.List(c.companyURL(company, "customers")))
}

// ListItems drains the items collection of the resolved company.
func (c *Client) ListItems(ctx context.Context, company Company) ([]Item, error) {
	return collect[Item](ctx, c.List(c.companyURL(company, "items")))
}

// ListLocations drains the locations collection of the resolved company.
func (c *Client) ListLocations(ctx context.Context, company Company) ([]Location, error) {
	return collect[Location](ctx, c.List(c.companyURL(company, "locations")))
}

// GetItemPrices fetches every sales price tier for one item. Prices are pulled
// per item, not in bulk, so no sales-type tier is ever truncated by paging.
func (c *Client) GetItemPrices(ctx context.Context, company Company, itemNumber string) ([]SalesPrice, error) {
	base := c.companyURL(company, "salesPrices")
	filter := url.QueryEscape(fmt.Sprintf("itemNo eq '%s'", itemNumber))
	return collect[SalesPrice](ctx, c.List(base+"?$filter="+filter))
}

// PurchaseOrderSubmission is the outbound document sent when a purchase order
// is pushed to BC.
type PurchaseOrderSubmission struct {
	VendorNumber string                        `json:"vendorNumber"`
	OrderDate    string                        `json:"orderDate"`
	ExternalRef  string                        `json:"externalDocumentNumber"`
	Lines        []PurchaseOrderSubmissionLine `json:"purchaseOrderLines"`
}

// PurchaseOrderSubmissionLine is one item line of an outbound purchase order.
type PurchaseOrderSubmissionLine struct {
	ItemNumber string  `json:"itemNo"`
	Quantity   float64 `json:"quantity"`
}

// SubmitPurchaseOrder pushes a purchase order to BC and returns the document
// number BC assigned. The POST is not retried: a duplicate submission would
// create a duplicate document upstream.
func (c *Client) SubmitPurchaseOrder(ctx context.Context, submission PurchaseOrderSubmission) (string, error) {
	company, err := c.ResolveCompany(ctx)
	if err != nil {
		return "", err
	}
	var created struct {
		Number string `json:"number"`
		Status string `json:"status"`
	}
	if err := c.post(ctx, c.companyURL(company, "purchaseOrders"), submission, &created); err != nil {
		return "", err
	}
	if created.Number == "" {
		return "", fmt.Errorf("bc: purchase order submission returned no document number")
	}
	return created.Number, nil
}
