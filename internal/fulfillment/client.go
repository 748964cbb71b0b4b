// Package fulfillment talks to the fulfillment platform's REST API: order
// search and order tagging.
package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/opsconsole/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	defaultBaseURL              = "https://ssapi.shipstation.com"
	defaultPageSize             = 100
	maxPageSize                 = 500
	responseBodyReadLimit int64 = 1024
	timestampLayout             = "2006-01-02 15:04:05"

	StatusAwaitingShipment = "awaiting_shipment"
)

var errCredentialsRequired = errors.New("fulfillment api key and secret are required")

// Client wraps the fulfillment REST endpoints used by change detection.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	apiSecret  string
	location   *time.Location
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithLocation sets the zone used to render search timestamps.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) {
		if loc != nil {
			c.location = loc
		}
	}
}

// NewClient builds a client authenticated with HTTP basic auth.
func NewClient(apiKey, apiSecret string, opts ...Option) (*Client, error) {
	key := strings.TrimSpace(apiKey)
	secret := strings.TrimSpace(apiSecret)
	if key == "" || secret == "" {
		return nil, errCredentialsRequired
	}
	client := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		apiKey:     key,
		apiSecret:  secret,
		location:   pacificOrUTC(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// The platform interprets search timestamps as US Pacific time.
func pacificOrUTC() *time.Location {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		return time.UTC
	}
	return loc
}

// Order is the fulfillment platform's copy of an order.
type Order struct {
	ID          int64   `json:"orderId"`
	OrderNumber string  `json:"orderNumber"`
	OrderStatus string  `json:"orderStatus"`
	TagIDs      []int64 `json:"tagIds"`
	ShipTo      Address `json:"shipTo"`
	Items       []Item  `json:"items"`
}

// HasTag reports whether tagID is already attached to the order.
func (o Order) HasTag(tagID int64) bool {
	for _, id := range o.TagIDs {
		if id == tagID {
			return true
		}
	}
	return false
}

type Address struct {
	Name       string `json:"name"`
	Company    string `json:"company"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type Item struct {
	SKU       string           `json:"sku"`
	Name      string           `json:"name"`
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unitPrice"`
}

// SearchParams filters an order search. Zero times are omitted.
type SearchParams struct {
	ModifiedSince time.Time
	ModifiedUntil time.Time
	Status        string
	PageSize      int
	Page          int
}

// SearchPage is one page of search results.
type SearchPage struct {
	Orders []Order `json:"orders"`
	Total  int     `json:"total"`
	Page   int     `json:"page"`
	Pages  int     `json:"pages"`
}

// Tag is an account-level order tag.
type Tag struct {
	ID    int64  `json:"tagId"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// SearchOrders returns one page of orders matching params.
func (c *Client) SearchOrders(ctx context.Context, params SearchParams) (*SearchPage, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "fulfillment client not configured")
	}
	q := url.Values{}
	if params.Status != "" {
		q.Set("orderStatus", params.Status)
	}
	if !params.ModifiedSince.IsZero() {
		q.Set("modifyDateStart", params.ModifiedSince.In(c.location).Format(timestampLayout))
	}
	if !params.ModifiedUntil.IsZero() {
		q.Set("modifyDateEnd", params.ModifiedUntil.In(c.location).Format(timestampLayout))
	}
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := params.Page
	if page <= 0 {
		page = 1
	}
	q.Set("pageSize", strconv.Itoa(pageSize))
	q.Set("page", strconv.Itoa(page))
	q.Set("sortBy", "ModifyDate")
	q.Set("sortDir", "ASC")

	var result SearchPage
	if err := c.do(ctx, http.MethodGet, "/orders?"+q.Encode(), nil, &result); err != nil {
		return nil, err
	}
	if result.Page == 0 {
		result.Page = page
	}
	return &result, nil
}

// ListTags returns every account tag.
func (c *Client) ListTags(ctx context.Context) ([]Tag, error) {
	var tags []Tag
	if err := c.do(ctx, http.MethodGet, "/accounts/listtags", nil, &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

// GetOrCreateTagID resolves a tag by case-insensitive name, creating it when missing.
func (c *Client) GetOrCreateTagID(ctx context.Context, name string) (int64, error) {
	if c == nil {
		return 0, pkgerrors.New(pkgerrors.CodeDependency, "fulfillment client not configured")
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "tag name is required")
	}
	tags, err := c.ListTags(ctx)
	if err != nil {
		return 0, err
	}
	for _, tag := range tags {
		if strings.EqualFold(strings.TrimSpace(tag.Name), trimmed) {
			return tag.ID, nil
		}
	}

	var created Tag
	body := map[string]string{"name": trimmed, "color": "#FF9900"}
	if err := c.do(ctx, http.MethodPost, "/accounts/createtag", body, &created); err != nil {
		return 0, err
	}
	if created.ID == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeDependency, "create tag returned no id")
	}
	return created.ID, nil
}

// AddTagToOrder attaches tagID to orderID.
func (c *Client) AddTagToOrder(ctx context.Context, orderID, tagID int64) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "fulfillment client not configured")
	}
	body := map[string]int64{"orderId": orderID, "tagId": tagID}
	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/orders/addtag", body, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("add tag rejected: %s", resp.Message))
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal fulfillment request")
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.baseURL, "/")+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build fulfillment request")
	}
	req.SetBasicAuth(c.apiKey, c.apiSecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute fulfillment request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return pkgerrors.New(pkgerrors.CodeRateLimit, "fulfillment api rate limited").
			WithDetails(map[string]any{"reset_seconds": resp.Header.Get("X-Rate-Limit-Reset")})
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), fmt.Sprintf("%s %s failed", method, strings.SplitN(path, "?", 2)[0]))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode fulfillment response")
	}
	return nil
}
