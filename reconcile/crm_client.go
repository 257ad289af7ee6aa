package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/models"
)

// CrmClient pulls deals from the tenant's CRM. One client per tenant; the
// limiter paces requests against the CRM's per-token rate limit.
type CrmClient struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   <-chan time.Time
}

func NewCrmClient(baseURL, apiKey string) (*CrmClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = strings.TrimSpace(os.Getenv("CRM_API_BASE_URL"))
	}
	if baseURL == "" {
		return nil, errors.New("crm base url is empty")
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv("CRM_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("crm api key is empty")
	}
	rateLimitPerMin := int64(40)
	if v := strings.TrimSpace(os.Getenv("CRM_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &CrmClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   time.Tick(interval),
	}, nil
}

type crmListResponse struct {
	Data       []json.RawMessage `json:"data"`
	NextCursor string            `json:"next_cursor"`
	HasMore    *bool             `json:"has_more"`
}

func (c *CrmClient) getList(ctx context.Context, path string, params url.Values) (crmListResponse, error) {
	<-c.limiter
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return crmListResponse{}, err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return crmListResponse{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusForbidden && strings.Contains(strings.ToLower(string(body)), "disabled") {
		return crmListResponse{}, ErrIntegrationDisabled
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return crmListResponse{}, fmt.Errorf("crm api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed crmListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return crmListResponse{}, err
	}
	return parsed, nil
}

// FetchDeals pages through /deals until the cursor is exhausted.
func (c *CrmClient) FetchDeals(ctx context.Context) ([]models.Deal, error) {
	var deals []models.Deal
	cursor := ""
	for {
		params := url.Values{}
		params.Set("limit", "100")
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		page, err := c.getList(ctx, "/deals", params)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Data {
			var deal models.Deal
			if err := json.Unmarshal(raw, &deal); err != nil {
				return nil, fmt.Errorf("decode deal: %w", err)
			}
			deals = append(deals, deal)
		}
		if page.NextCursor == "" || (page.HasMore != nil && !*page.HasMore) {
			break
		}
		cursor = page.NextCursor
	}
	return deals, nil
}
