package reconcile

import (
	"bytes"
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

// BooksClient talks to the accounting system: quotes, invoices, projects,
// plus the mutation endpoints the fix executor writes through.
type BooksClient struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   <-chan time.Time
}

func NewBooksClient(baseURL, apiKey string) (*BooksClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = strings.TrimSpace(os.Getenv("BOOKS_API_BASE_URL"))
	}
	if baseURL == "" {
		return nil, errors.New("books base url is empty")
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv("BOOKS_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("books api key is empty")
	}
	rateLimitPerMin := int64(60)
	if v := strings.TrimSpace(os.Getenv("BOOKS_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &BooksClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   time.Tick(interval),
	}, nil
}

type booksListResponse struct {
	Items      []json.RawMessage `json:"items"`
	NextCursor string            `json:"next_cursor"`
}

func (c *BooksClient) getList(ctx context.Context, path string, params url.Values) (booksListResponse, error) {
	<-c.limiter
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return booksListResponse{}, err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return booksListResponse{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return booksListResponse{}, fmt.Errorf("books api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed booksListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return booksListResponse{}, err
	}
	return parsed, nil
}

func fetchAll[T any](ctx context.Context, c *BooksClient, path string) ([]T, error) {
	var out []T
	cursor := ""
	for {
		params := url.Values{}
		params.Set("limit", "100")
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		page, err := c.getList(ctx, path, params)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			var item T
			if err := json.Unmarshal(raw, &item); err != nil {
				return nil, fmt.Errorf("decode %s item: %w", path, err)
			}
			out = append(out, item)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return out, nil
}

func (c *BooksClient) FetchQuotes(ctx context.Context) ([]models.Quote, error) {
	return fetchAll[models.Quote](ctx, c, "/quotes")
}

func (c *BooksClient) FetchInvoices(ctx context.Context) ([]models.Invoice, error) {
	return fetchAll[models.Invoice](ctx, c, "/invoices")
}

func (c *BooksClient) FetchProjects(ctx context.Context) ([]models.Project, error) {
	return fetchAll[models.Project](ctx, c, "/projects")
}

func (c *BooksClient) put(ctx context.Context, path string, payload any, idempotencyKey string) error {
	<-c.limiter
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("books api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Mutate is the Mutator implementation for accounting-side fixes.
func (c *BooksClient) Mutate(ctx context.Context, m Mutation) error {
	switch m.Action {
	case "update_quote":
		return c.put(ctx, "/quotes/"+url.PathEscape(m.SubjectId), m.Payload, m.IdempotencyKey)
	case "update_project_estimate":
		return c.put(ctx, "/projects/"+url.PathEscape(m.SubjectId)+"/estimate", m.Payload, m.IdempotencyKey)
	default:
		return fmt.Errorf("unsupported mutation action %q", m.Action)
	}
}
