package erpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/hrportal_backend/config"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Client wraps the external ERP's REST API. One instance is shared
// process-wide; the access token is cached with a TTL slightly shorter than
// the token's real lifetime, and concurrent refreshes collapse into a
// single request.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	apiKey       string

	tokenHTTP *http.Client
	fetchHTTP *http.Client
	tokenTTL  time.Duration

	mu       sync.Mutex
	token    string
	tokenExp time.Time
	group    singleflight.Group
}

func NewClient(cfg config.ERPConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("erp base url is empty")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("erp client credentials are empty")
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		apiKey:       cfg.APIKey,
		tokenHTTP:    &http.Client{Timeout: cfg.TokenTimeout},
		fetchHTTP:    &http.Client{Timeout: cfg.FetchTimeout},
		tokenTTL:     cfg.TokenCacheTTL,
	}, nil
}

// AccessToken returns a cached token or acquires a fresh one via the
// client-credentials grant. Safe for concurrent use.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && time.Now().Before(c.tokenExp) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do("token", func() (interface{}, error) {
		// Re-check under the flight: a concurrent caller may have refreshed.
		c.mu.Lock()
		if c.token != "" && time.Now().Before(c.tokenExp) {
			token := c.token
			c.mu.Unlock()
			return token, nil
		}
		c.mu.Unlock()

		token, err := c.requestToken(ctx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.token = token
		c.tokenExp = time.Now().Add(c.tokenTTL)
		c.mu.Unlock()
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) requestToken(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.tokenHTTP.Do(req)
	if err != nil {
		return "", &TransportError{Op: "token", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: token endpoint returned %d: %s", ErrAuth, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: malformed token response: %v", ErrAuth, err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access_token", ErrAuth)
	}
	return parsed.AccessToken, nil
}

// InvalidateToken drops the cached token. Called after a 401 so the next
// attempt re-authenticates.
func (c *Client) InvalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExp = time.Time{}
	c.mu.Unlock()
}

type listEnvelope struct {
	Data       []json.RawMessage `json:"data"`
	Pagination *pagination       `json:"pagination"`
}

func (c *Client) getJSON(ctx context.Context, op string, path string, params url.Values, out interface{}) error {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return err
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.fetchHTTP.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.InvalidateToken()
		return fmt.Errorf("%w: %s returned %d", ErrAuth, op, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &TransportError{Op: op, Status: resp.StatusCode}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return nil
}

// FetchChangedEmployees pulls one page of employees changed since the given
// cursor.
func (c *Client) FetchChangedEmployees(ctx context.Context, since time.Time, page int, pageSize int) (EmployeePage, error) {
	params := url.Values{}
	params.Set("since", since.UTC().Format(time.RFC3339))
	params.Set("page", strconv.Itoa(page))
	params.Set("pageSize", strconv.Itoa(pageSize))

	var envelope listEnvelope
	if err := c.getJSON(ctx, "employees", "/api/v1/employees", params, &envelope); err != nil {
		return EmployeePage{}, err
	}

	result := EmployeePage{Records: make([]RemoteEmployee, 0, len(envelope.Data))}
	for _, raw := range envelope.Data {
		var emp RemoteEmployee
		if err := json.Unmarshal(raw, &emp); err != nil {
			// One unparseable record must not poison the page. An empty
			// record fails validation downstream and lands in the error list.
			result.Records = append(result.Records, RemoteEmployee{})
			continue
		}
		result.Records = append(result.Records, emp)
	}
	if envelope.Pagination != nil {
		result.HasNext = envelope.Pagination.HasNext
	}
	return result, nil
}

// FetchDepartments returns the full department list; the endpoint is not
// paginated.
func (c *Client) FetchDepartments(ctx context.Context) ([]RemoteDepartment, error) {
	var envelope struct {
		Data []RemoteDepartment `json:"data"`
	}
	if err := c.getJSON(ctx, "departments", "/api/v1/departments", nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

func (c *Client) FetchPayrollRecords(ctx context.Context, start time.Time, end time.Time, page int) (PayrollPage, error) {
	params := url.Values{}
	params.Set("startDate", start.UTC().Format("2006-01-02"))
	params.Set("endDate", end.UTC().Format("2006-01-02"))
	params.Set("page", strconv.Itoa(page))

	var envelope struct {
		Data       []RemotePayrollRecord `json:"data"`
		Pagination *pagination           `json:"pagination"`
	}
	if err := c.getJSON(ctx, "payroll", "/api/v1/payroll", params, &envelope); err != nil {
		return PayrollPage{}, err
	}
	result := PayrollPage{Records: envelope.Data}
	if envelope.Pagination != nil {
		result.HasNext = envelope.Pagination.HasNext
	}
	return result, nil
}

// SubmitPayments posts a payment batch. The requestId makes retried
// submissions recognizable on the ERP side.
func (c *Client) SubmitPayments(ctx context.Context, payments []PaymentOrder) (PaymentResult, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return PaymentResult{}, err
	}

	payload, err := json.Marshal(map[string]interface{}{
		"payments":  payments,
		"requestId": "payment_" + uuid.NewString(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return PaymentResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/finance/payments", strings.NewReader(string(payload)))
	if err != nil {
		return PaymentResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.fetchHTTP.Do(req)
	if err != nil {
		return PaymentResult{}, &TransportError{Op: "payments", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.InvalidateToken()
		return PaymentResult{}, fmt.Errorf("%w: payments returned %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return PaymentResult{}, &TransportError{Op: "payments", Status: resp.StatusCode}
	}

	var result PaymentResult
	if err := json.Unmarshal(body, &result); err != nil {
		return PaymentResult{}, &TransportError{Op: "payments", Err: fmt.Errorf("malformed response: %w", err)}
	}
	return result, nil
}
