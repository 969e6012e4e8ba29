package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/apigateway/apigateway/internal/auth"
	"github.com/apigateway/apigateway/internal/config"
	"github.com/apigateway/apigateway/internal/db/models"
	"github.com/apigateway/apigateway/internal/db/repositories"
	"github.com/apigateway/apigateway/internal/middleware"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var serviceCols = []string{
	"id", "api_name", "version", "forward_url",
	"active", "environment", "created_at", "updated_at",
}

var roleCols = []string{"id", "namespace", "name", "created_at", "updated_at"}

// newForwarderRouter wires a Forwarder backed by sqlmock as the NoRoute
// handler, the way router.go does in production.
func newForwarderRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	forwarder := NewForwarder(repositories.NewServiceRepository(db), config.ProxyConfig{
		UpstreamTimeout:     5 * time.Second,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
	})

	r := gin.New()
	r.Use(middleware.RequestIDMiddleware())
	r.NoRoute(forwarder.Handle)
	return r, mock
}

// expectResolved primes the mock with one active service pointing at
// forwardURL, authorized for the given roles.
func expectResolved(mock sqlmock.Sqlmock, forwardURL string, roles ...models.Role) {
	serviceID := uuid.New().String()
	mock.ExpectQuery("SELECT.*FROM services.*WHERE active = TRUE").
		WillReturnRows(sqlmock.NewRows(serviceCols).
			AddRow(serviceID, "billing", "v1", forwardURL, true, "production", time.Now(), time.Now()))

	roleRows := sqlmock.NewRows(roleCols)
	for _, role := range roles {
		roleRows.AddRow(uuid.New().String(), role.Namespace, role.Name, time.Now(), time.Now())
	}
	mock.ExpectQuery("SELECT.*FROM roles.*JOIN service_roles").
		WillReturnRows(roleRows)
}

func issueToken(t *testing.T, audience []string) string {
	t.Helper()
	token, err := auth.GenerateJWT("user-1", "alice", audience)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	return token
}

func forward(r *gin.Engine, method, path, token string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal envelope: %v\nbody: %s", err, w.Body.String())
	}
	return body
}

// ---------------------------------------------------------------------------
// Path parsing
// ---------------------------------------------------------------------------

func TestSplitForwardPath(t *testing.T) {
	tests := []struct {
		path    string
		apiName string
		version string
		rest    string
		ok      bool
	}{
		{"/billing/v1/invoices", "billing", "v1", "invoices", true},
		{"/billing/v1/a/b/c", "billing", "v1", "a/b/c", true},
		{"/billing/v1/", "billing", "v1", "", true},
		{"/billing/v1", "", "", "", false},
		{"/billing", "", "", "", false},
		{"/", "", "", "", false},
		{"//v1/x", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			apiName, version, rest, ok := splitForwardPath(tt.path)
			if ok != tt.ok || apiName != tt.apiName || version != tt.version || rest != tt.rest {
				t.Errorf("splitForwardPath(%q) = (%q, %q, %q, %v), want (%q, %q, %q, %v)",
					tt.path, apiName, version, rest, ok, tt.apiName, tt.version, tt.rest, tt.ok)
			}
		})
	}
}

func TestForward_ShortPathBadRequest(t *testing.T) {
	r, _ := newForwarderRouter(t)

	w := forward(r, http.MethodGet, "/billing", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	body := decodeEnvelope(t, w)
	if success, _ := body["success"].(bool); success {
		t.Error("expected success=false in envelope")
	}
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

func TestForward_UnknownServiceNotFound(t *testing.T) {
	r, mock := newForwarderRouter(t)
	mock.ExpectQuery("SELECT.*FROM services.*WHERE active = TRUE").
		WillReturnRows(sqlmock.NewRows(serviceCols))

	w := forward(r, http.MethodGet, "/billing/v1/invoices", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Authorization
// ---------------------------------------------------------------------------

func TestForward_MissingTokenUnauthorized(t *testing.T) {
	r, mock := newForwarderRouter(t)
	expectResolved(mock, "http://unused.invalid", models.Role{Namespace: "billing", Name: "invoicer"})

	w := forward(r, http.MethodGet, "/billing/v1/invoices", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestForward_GarbageTokenUnauthorized(t *testing.T) {
	r, mock := newForwarderRouter(t)
	expectResolved(mock, "http://unused.invalid", models.Role{Namespace: "billing", Name: "invoicer"})

	w := forward(r, http.MethodGet, "/billing/v1/invoices", "not-a-jwt", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestForward_UnrelatedAudienceForbidden(t *testing.T) {
	r, mock := newForwarderRouter(t)
	expectResolved(mock, "http://unused.invalid", models.Role{Namespace: "billing", Name: "invoicer"})
	token := issueToken(t, []string{"inventory::reader"})

	w := forward(r, http.MethodGet, "/billing/v1/invoices", token, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestForward_ExactRoleAllowed(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	r, mock := newForwarderRouter(t)
	expectResolved(mock, backend.URL, models.Role{Namespace: "billing", Name: "invoicer"})
	token := issueToken(t, []string{"billing::invoicer"})

	w := forward(r, http.MethodGet, "/billing/v1/invoices", token, nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestForward_NamespaceWildcardAllowed(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	r, mock := newForwarderRouter(t)
	expectResolved(mock, backend.URL, models.Role{Namespace: "billing", Name: models.NamespaceMemberRole})
	token := issueToken(t, []string{"billing::any-role-at-all"})

	w := forward(r, http.MethodGet, "/billing/v1/invoices", token, nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Proxying
// ---------------------------------------------------------------------------

func TestForward_PassesMethodPathQueryAndBody(t *testing.T) {
	var gotMethod, gotPath, gotQuery, gotBody string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
	}))
	defer backend.Close()

	r, mock := newForwarderRouter(t)
	expectResolved(mock, backend.URL, models.Role{Namespace: "billing", Name: "invoicer"})
	token := issueToken(t, []string{"billing::invoicer"})

	w := forward(r, http.MethodPost, "/billing/v1/invoices/42?dry_run=true", token,
		strings.NewReader(`{"amount": 10}`))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("upstream method = %q, want POST", gotMethod)
	}
	if gotPath != "/invoices/42" {
		t.Errorf("upstream path = %q, want /invoices/42", gotPath)
	}
	if gotQuery != "dry_run=true" {
		t.Errorf("upstream query = %q, want dry_run=true", gotQuery)
	}
	if gotBody != `{"amount": 10}` {
		t.Errorf("upstream body = %q", gotBody)
	}
}

func TestForward_HeaderHandling(t *testing.T) {
	var gotHeader http.Header
	var gotHost string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotHost = r.Host
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	r, mock := newForwarderRouter(t)
	expectResolved(mock, backend.URL, models.Role{Namespace: "billing", Name: "invoicer"})
	token := issueToken(t, []string{"billing::invoicer"})

	req := httptest.NewRequest(http.MethodGet, "/billing/v1/invoices", nil)
	req.Host = "gateway.example.com"
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Custom-Header", "carried")
	req.Header.Set("Connection", "keep-alive")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := gotHeader.Get("X-Custom-Header"); got != "carried" {
		t.Errorf("X-Custom-Header = %q, want carried", got)
	}
	// The inbound Host must not leak; the upstream sees its own host.
	if strings.Contains(gotHost, "gateway.example.com") {
		t.Errorf("upstream Host = %q, inbound host leaked", gotHost)
	}
	if gotHeader.Get("X-Real-IP") == "" {
		t.Error("X-Real-IP not set")
	}
	if gotHeader.Get("X-Forwarded-For") == "" {
		t.Error("X-Forwarded-For not set")
	}
	if got := gotHeader.Get("X-Forwarded-Proto"); got != "http" {
		t.Errorf("X-Forwarded-Proto = %q, want http", got)
	}
	if got := gotHeader.Get("X-Forwarded-Host"); got != "gateway.example.com" {
		t.Errorf("X-Forwarded-Host = %q, want gateway.example.com", got)
	}
}

func TestForward_RequestIDReachesUpstream(t *testing.T) {
	var gotID string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = r.Header.Get("X-Request-ID")
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	t.Run("gateway-generated", func(t *testing.T) {
		r, mock := newForwarderRouter(t)
		expectResolved(mock, backend.URL, models.Role{Namespace: "billing", Name: "invoicer"})
		token := issueToken(t, []string{"billing::invoicer"})

		w := forward(r, http.MethodGet, "/billing/v1/invoices", token, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if gotID == "" {
			t.Error("upstream did not receive X-Request-ID")
		}
		// Gateway and backend logs must share one correlation key.
		if gotID != w.Header().Get("X-Request-ID") {
			t.Errorf("upstream id %q != response id %q", gotID, w.Header().Get("X-Request-ID"))
		}
	})

	t.Run("caller-supplied", func(t *testing.T) {
		r, mock := newForwarderRouter(t)
		expectResolved(mock, backend.URL, models.Role{Namespace: "billing", Name: "invoicer"})
		token := issueToken(t, []string{"billing::invoicer"})

		req := httptest.NewRequest(http.MethodGet, "/billing/v1/invoices", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-Request-ID", "caller-id-42")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if gotID != "caller-id-42" {
			t.Errorf("upstream X-Request-ID = %q, want caller-id-42", gotID)
		}
	})
}

func TestForward_MirrorsUpstreamStatusHeadersBody(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream-Header", "mirrored")
		w.WriteHeader(http.StatusTeapot)
		io.WriteString(w, "upstream says no")
	}))
	defer backend.Close()

	r, mock := newForwarderRouter(t)
	expectResolved(mock, backend.URL, models.Role{Namespace: "billing", Name: "invoicer"})
	token := issueToken(t, []string{"billing::invoicer"})

	w := forward(r, http.MethodGet, "/billing/v1/invoices", token, nil)
	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", w.Code)
	}
	if got := w.Header().Get("X-Upstream-Header"); got != "mirrored" {
		t.Errorf("X-Upstream-Header = %q, want mirrored", got)
	}
	if w.Body.String() != "upstream says no" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestForward_UpstreamDownBadGateway(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	backend.Close() // nothing is listening anymore

	r, mock := newForwarderRouter(t)
	expectResolved(mock, backend.URL, models.Role{Namespace: "billing", Name: "invoicer"})
	token := issueToken(t, []string{"billing::invoicer"})

	w := forward(r, http.MethodGet, "/billing/v1/invoices", token, nil)
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
	body := decodeEnvelope(t, w)
	if msg, _ := body["error"].(string); strings.Contains(msg, "connect") {
		t.Errorf("error message leaks transport details: %q", msg)
	}
}
