// Package commerce reads orders from the commerce platform's Admin GraphQL API.
package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/opsconsole/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	defaultAPIVersion           = "2024-10"
	responseBodyReadLimit int64 = 1024
)

var (
	errShopDomainRequired  = errors.New("commerce shop domain is required")
	errAccessTokenRequired = errors.New("commerce access token is required")
)

const orderByNumberQuery = `query OrderByNumber($query: String!) {
  orders(first: 5, query: $query) {
    edges {
      node {
        id
        name
        tags
        lineItems(first: 250) {
          edges {
            node {
              id
              name
              sku
              quantity
              currentQuantity
              isGiftCard
              product { id }
              originalUnitPriceSet { shopMoney { amount currencyCode } }
            }
          }
        }
      }
    }
  }
}`

// Client wraps the Admin GraphQL endpoint.
type Client struct {
	httpClient  *http.Client
	endpoint    string
	accessToken string
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

// WithEndpoint overrides the GraphQL endpoint, mainly for tests.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(endpoint); trimmed != "" {
			c.endpoint = trimmed
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

// NewClient builds a client for shopDomain using an Admin API access token.
func NewClient(shopDomain, accessToken, apiVersion string, opts ...Option) (*Client, error) {
	domain := strings.TrimSpace(shopDomain)
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimSuffix(domain, "/")
	if domain == "" {
		return nil, errShopDomainRequired
	}
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return nil, errAccessTokenRequired
	}
	if strings.TrimSpace(apiVersion) == "" {
		apiVersion = defaultAPIVersion
	}

	client := &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		endpoint:    fmt.Sprintf("https://%s/admin/api/%s/graphql.json", domain, apiVersion),
		accessToken: token,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Order is the commerce platform's record of a customer order.
type Order struct {
	ID        string
	Name      string
	Tags      []string
	LineItems []LineItem
}

// LineItem is one commerce order line. ProductID is empty for custom lines
// such as tips that do not reference a catalog product.
type LineItem struct {
	ID        string
	ProductID string
	GiftCard  bool
	SKU       string
	Name      string
	Quantity  int
	Price     *decimal.Decimal
}

// GetOrderByNumber returns the order whose name matches number, or nil when
// no such order exists.
func (c *Client) GetOrderByNumber(ctx context.Context, number string) (*Order, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "commerce client not configured")
	}
	wanted := normalizeOrderName(number)
	if wanted == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number is required")
	}

	var data struct {
		Orders struct {
			Edges []struct {
				Node orderNode `json:"node"`
			} `json:"edges"`
		} `json:"orders"`
	}
	vars := map[string]any{"query": fmt.Sprintf("name:%s", wanted)}
	if err := c.execute(ctx, orderByNumberQuery, vars, &data); err != nil {
		return nil, err
	}

	for _, edge := range data.Orders.Edges {
		if normalizeOrderName(edge.Node.Name) != wanted {
			continue
		}
		return edge.Node.toOrder()
	}
	return nil, nil
}

type orderNode struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Tags      []string `json:"tags"`
	LineItems struct {
		Edges []struct {
			Node lineItemNode `json:"node"`
		} `json:"edges"`
	} `json:"lineItems"`
}

type lineItemNode struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	SKU             string `json:"sku"`
	Quantity        int    `json:"quantity"`
	CurrentQuantity *int   `json:"currentQuantity"`
	IsGiftCard      bool   `json:"isGiftCard"`
	Product         *struct {
		ID string `json:"id"`
	} `json:"product"`
	OriginalUnitPriceSet struct {
		ShopMoney struct {
			Amount string `json:"amount"`
		} `json:"shopMoney"`
	} `json:"originalUnitPriceSet"`
}

func (n orderNode) toOrder() (*Order, error) {
	order := &Order{ID: n.ID, Name: n.Name, Tags: n.Tags}
	for _, edge := range n.LineItems.Edges {
		item := edge.Node
		line := LineItem{
			ID:       item.ID,
			GiftCard: item.IsGiftCard,
			SKU:      strings.TrimSpace(item.SKU),
			Name:     item.Name,
			Quantity: item.Quantity,
		}
		// currentQuantity reflects order edits and removals.
		if item.CurrentQuantity != nil {
			line.Quantity = *item.CurrentQuantity
		}
		if item.Product != nil {
			line.ProductID = item.Product.ID
		}
		if amount := strings.TrimSpace(item.OriginalUnitPriceSet.ShopMoney.Amount); amount != "" {
			price, err := decimal.NewFromString(amount)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("parse price for line %s", item.ID))
			}
			line.Price = &price
		}
		order.LineItems = append(order.LineItems, line)
	}
	return order, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

func (c *Client) execute(ctx context.Context, query string, vars map[string]any, out any) error {
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal graphql request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build graphql request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute graphql request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return pkgerrors.New(pkgerrors.CodeRateLimit, "commerce api rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "graphql request failed")
	}

	var envelope graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode graphql response")
	}
	if len(envelope.Errors) > 0 {
		messages := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			messages = append(messages, e.Message)
		}
		return pkgerrors.New(pkgerrors.CodeDependency, "graphql errors: "+strings.Join(messages, "; "))
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode graphql data")
	}
	return nil
}

func normalizeOrderName(name string) string {
	return strings.TrimPrefix(strings.TrimSpace(name), "#")
}
