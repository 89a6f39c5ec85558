package erpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/hrportal_backend/config"
)

func testConfig(baseURL string) config.ERPConfig {
	return config.ERPConfig{
		BaseURL:       baseURL,
		ClientID:      "portal",
		ClientSecret:  "secret",
		APIKey:        "key",
		TokenTimeout:  5 * time.Second,
		FetchTimeout:  5 * time.Second,
		TokenCacheTTL: time.Hour,
	}
}

func tokenResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"access_token":"tok-1","token_type":"Bearer","expires_in":3600}`)
}

func TestAccessToken_CachedAcrossCalls(t *testing.T) {
	var tokenHits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			atomic.AddInt32(&tokenHits, 1)
			tokenResponse(w)
		case "/api/v1/departments":
			fmt.Fprint(w, `{"data":[]}`)
		default:
			w.WriteHeader(404)
		}
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := client.FetchDepartments(ctx); err != nil {
			t.Fatalf("FetchDepartments #%d: %v", i+1, err)
		}
	}
	if hits := atomic.LoadInt32(&tokenHits); hits != 1 {
		t.Fatalf("expected 1 token request, got %d", hits)
	}
}

func TestAccessToken_ConcurrentCallersSingleRequest(t *testing.T) {
	var tokenHits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			atomic.AddInt32(&tokenHits, 1)
			time.Sleep(50 * time.Millisecond)
			tokenResponse(w)
			return
		}
		w.WriteHeader(404)
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.AccessToken(context.Background()); err != nil {
				t.Errorf("AccessToken: %v", err)
			}
		}()
	}
	wg.Wait()

	if hits := atomic.LoadInt32(&tokenHits); hits != 1 {
		t.Fatalf("expected 1 token request under concurrency, got %d", hits)
	}
}

func TestAccessToken_BadCredentialsIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		fmt.Fprint(w, `{"error":"invalid_client"}`)
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = client.AccessToken(context.Background())
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestFetchChangedEmployees_DecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			tokenResponse(w)
		case "/api/v1/employees":
			if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
				t.Errorf("authorization header = %q", got)
			}
			if got := r.Header.Get("X-API-Key"); got != "key" {
				t.Errorf("api key header = %q", got)
			}
			if got := r.URL.Query().Get("page"); got != "2" {
				t.Errorf("page param = %q", got)
			}
			fmt.Fprint(w, `{
				"data": [
					{"employeeId":"E1","fullName":"Ana Lima","email":"ana@corp.test"},
					{"employeeId":"E2","fullName":"Bo Chen","email":"bo@corp.test"}
				],
				"pagination": {"hasNext": true, "page": 2}
			}`)
		default:
			w.WriteHeader(404)
		}
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	page, err := client.FetchChangedEmployees(context.Background(), time.Now().Add(-time.Hour), 2, 100)
	if err != nil {
		t.Fatalf("FetchChangedEmployees: %v", err)
	}
	if len(page.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(page.Records))
	}
	if page.Records[0].EmployeeID != "E1" || page.Records[1].FullName != "Bo Chen" {
		t.Fatalf("records decoded wrong: %+v", page.Records)
	}
	if !page.HasNext {
		t.Fatalf("expected hasNext true")
	}
}

func TestFetch_ServerErrorIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			tokenResponse(w)
			return
		}
		w.WriteHeader(500)
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = client.FetchChangedEmployees(context.Background(), time.Now(), 1, 100)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.Status != 500 {
		t.Fatalf("expected status 500, got %d", te.Status)
	}
	if errors.Is(err, ErrAuth) {
		t.Fatalf("server error must not read as auth failure")
	}
}

func TestFetch_UnauthorizedInvalidatesToken(t *testing.T) {
	var tokenHits int32
	var dataHits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			atomic.AddInt32(&tokenHits, 1)
			tokenResponse(w)
		case "/api/v1/departments":
			// First data call is rejected as if the token expired early.
			if atomic.AddInt32(&dataHits, 1) == 1 {
				w.WriteHeader(401)
				return
			}
			fmt.Fprint(w, `{"data":[]}`)
		default:
			w.WriteHeader(404)
		}
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ctx := context.Background()
	_, err = client.FetchDepartments(ctx)
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth on 401, got %v", err)
	}
	if _, err := client.FetchDepartments(ctx); err != nil {
		t.Fatalf("second fetch after re-auth: %v", err)
	}
	if hits := atomic.LoadInt32(&tokenHits); hits != 2 {
		t.Fatalf("expected re-authentication after 401, token requests = %d", hits)
	}
}

func TestFetchChangedEmployees_MalformedRecordDoesNotPoisonPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			tokenResponse(w)
		case "/api/v1/employees":
			fmt.Fprint(w, `{
				"data": [
					{"employeeId":"E1","fullName":"Ana Lima","email":"ana@corp.test"},
					"not-an-object",
					{"employeeId":"E3","fullName":"Caio Melo","email":"caio@corp.test"}
				],
				"pagination": {"hasNext": false}
			}`)
		default:
			w.WriteHeader(404)
		}
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	page, err := client.FetchChangedEmployees(context.Background(), time.Now(), 1, 100)
	if err != nil {
		t.Fatalf("FetchChangedEmployees: %v", err)
	}
	if len(page.Records) != 3 {
		t.Fatalf("expected 3 records (bad one kept as empty), got %d", len(page.Records))
	}
	if page.Records[1].EmployeeID != "" {
		t.Fatalf("malformed record should decode empty, got %+v", page.Records[1])
	}
	if page.Records[2].EmployeeID != "E3" {
		t.Fatalf("record after malformed one lost: %+v", page.Records[2])
	}
}

func TestNewClient_RejectsMissingConfig(t *testing.T) {
	if _, err := NewClient(config.ERPConfig{}); err == nil {
		t.Fatal("expected error for empty config")
	}
	cfg := testConfig("http://erp.test")
	cfg.ClientSecret = ""
	if _, err := NewClient(cfg); err == nil {
		t.Fatal("expected error for missing client secret")
	}
}
