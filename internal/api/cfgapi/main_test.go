package cfgapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/apigateway/apigateway/internal/db/repositories"
	"github.com/apigateway/apigateway/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestMain(m *testing.M) {
	os.Setenv("GWY_JWT_SECRET", "test-cfgapi-jwt-secret-32-chars!!")
	os.Exit(m.Run())
}

// ---------------------------------------------------------------------------
// Shared test setup
// ---------------------------------------------------------------------------

// serviceCols are the columns returned by service SELECT queries.
var serviceCols = []string{"id", "api_name", "version", "forward_url", "active", "environment", "created_at", "updated_at"}

// roleCols are the columns returned by role SELECT queries.
var roleCols = []string{"id", "namespace", "name", "created_at", "updated_at"}

// userCols are the columns returned by user SELECT queries.
var userCols = []string{"id", "username", "password_hash", "created_at", "updated_at", "last_login", "password_reset_at"}

func serviceRow(id string) *sqlmock.Rows {
	return sqlmock.NewRows(serviceCols).
		AddRow(id, "billing", "v1", "http://billing:9000", true, "prod", time.Now(), time.Now())
}

func roleRow(id, namespace, name string) *sqlmock.Rows {
	return sqlmock.NewRows(roleCols).AddRow(id, namespace, name, time.Now(), time.Now())
}

func userRow(id, username string) *sqlmock.Rows {
	return sqlmock.NewRows(userCols).
		AddRow(id, username, "$2a$10$hash", time.Now(), time.Now(), nil, nil)
}

// newCfgRouter registers every /cfg/v1 route against sqlmock-backed
// handlers. The scope guards are exercised in the middleware package; here
// only /users/current keeps the auth middleware because it reads claims.
func newCfgRouter(t *testing.T) (sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	serviceHandlers := NewServiceHandlers(repositories.NewServiceRepository(db), repositories.NewRBACRepository(sqlxDB))
	roleHandlers := NewRoleHandlers(repositories.NewRoleRepository(sqlxDB))
	userHandlers := NewUserHandlers(repositories.NewUserRepository(db), repositories.NewRBACRepository(sqlxDB))

	r := gin.New()
	r.GET("/cfg/v1/api-services/", serviceHandlers.List())
	r.POST("/cfg/v1/api-services/", serviceHandlers.Create())
	r.GET("/cfg/v1/api-services/:api_name/:version", serviceHandlers.Detail())
	r.PATCH("/cfg/v1/api-services/:service_id", serviceHandlers.Patch())
	r.DELETE("/cfg/v1/api-services/:service_id", serviceHandlers.Delete())

	r.GET("/cfg/v1/api-roles/", roleHandlers.List())
	r.POST("/cfg/v1/api-roles/", roleHandlers.Create())
	r.PUT("/cfg/v1/api-roles/:role_id", roleHandlers.Update())
	r.DELETE("/cfg/v1/api-roles/:role_id", roleHandlers.Delete())

	r.GET("/cfg/v1/users/", userHandlers.List())
	r.POST("/cfg/v1/users/", userHandlers.Register())
	r.GET("/cfg/v1/users/current", middleware.AuthMiddleware(), userHandlers.Current())
	r.GET("/cfg/v1/users/:user_id", userHandlers.Detail())
	r.PATCH("/cfg/v1/users/:user_id", userHandlers.Patch())

	return mock, r
}

func jsonBody(v interface{}) *bytes.Buffer {
	b, _ := json.Marshal(v)
	return bytes.NewBuffer(b)
}

func doJSON(r *gin.Engine, method, path string, body *bytes.Buffer, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		reader = body
	}
	httpReq := httptest.NewRequest(method, path, reader)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httpReq)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("response is not JSON: %v (body %s)", err, w.Body.String())
	}
}
