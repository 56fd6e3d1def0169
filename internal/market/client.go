// Package market provides the MAGA price reference client and the bounded
// cache that fronts it.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// standardYieldQuintals is the conservative production estimate per hectare
// used to turn a quotation (Q/quintal) into a per-hectare reference value.
const standardYieldQuintals = 40

// cropVariants maps canonical crop names to the product names MAGA lists
// them under. Quotations for any variant count toward the reference.
var cropVariants = map[string][]string{
	"tomate": {"tomate de cocina", "tomate manzano", "tomate de tierra"},
	"papa":   {"papa", "papa larga", "papa revuelta", "papa suprema"},
	"maiz":   {"maíz blanco", "maiz blanco", "maiz amarillo", "maíz amarillo"},
	"frijol": {"frijol negro", "frijol rojo", "frijol colorado"},
	"cafe":   {"café", "cafe"},
	"trigo":  {"trigo"},
	"arroz":  {"arroz", "arroz oro", "arroz blanco"},
}

// Fetcher resolves a (commodity, zone) pair to a per-hectare reference
// value in quetzales. Implemented by Client and by test fakes.
type Fetcher interface {
	Fetch(ctx context.Context, commodity, zone string) (float64, error)
}

// Client fetches daily quotations from the MAGA price service. Calls are
// rate limited to respect the upstream's published limits.
type Client struct {
	baseURL string
	httpc   *http.Client
	limiter *rate.Limiter
}

// NewClient creates a MAGA price client. rps bounds outgoing requests per
// second; zero disables the limiter.
func NewClient(baseURL string, rps float64) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{},
		limiter: limiter,
	}
}

type quotation struct {
	Product string  `json:"producto"`
	Market  string  `json:"mercado"`
	Unit    string  `json:"unidad"`
	Price   float64 `json:"precio"`
}

type priceResponse struct {
	Date    string      `json:"fecha"`
	Records []quotation `json:"registros"`
}

// Fetch retrieves the current quotations for a commodity in a zone and
// returns the averaged per-hectare reference value. Timeouts and transport
// failures surface as plain errors; classification into the transient
// MarketDataUnavailable bucket is the cache's job.
func (c *Client) Fetch(ctx context.Context, commodity, zone string) (float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limiter wait: %w", err)
	}

	q := url.Values{}
	q.Set("producto", commodity)
	q.Set("departamento", zone)
	reqURL := c.baseURL + "/api/v1/precios?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetch prices: unexpected status %d", resp.StatusCode)
	}

	var parsed priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode prices: %w", err)
	}

	avg, n := averageMatching(commodity, parsed.Records)
	if n == 0 {
		return 0, fmt.Errorf("no quotations for %q in %q", commodity, zone)
	}

	return avg * standardYieldQuintals, nil
}

// averageMatching averages the prices of quotations whose product name
// matches the commodity or one of its known variants.
func averageMatching(commodity string, records []quotation) (avg float64, n int) {
	commodity = strings.ToLower(strings.TrimSpace(commodity))
	variants := cropVariants[commodity]

	var sum float64
	for _, r := range records {
		product := strings.ToLower(strings.TrimSpace(r.Product))
		if !matchesProduct(commodity, variants, product) {
			continue
		}
		sum += r.Price
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

func matchesProduct(commodity string, variants []string, product string) bool {
	if strings.Contains(product, commodity) {
		return true
	}
	for _, v := range variants {
		if strings.Contains(product, v) {
			return true
		}
	}
	return false
}

// SetHTTPClient overrides the underlying HTTP client. Used by tests to
// point the client at an httptest server with a short timeout.
func (c *Client) SetHTTPClient(httpc *http.Client) {
	if httpc != nil {
		c.httpc = httpc
	}
}

var _ Fetcher = (*Client)(nil)

// ReferenceEntry is one cached (commodity, zone) reference value.
type ReferenceEntry struct {
	Value     float64
	FetchedAt time.Time
	ExpiresAt time.Time
}
