package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/ctxutil"
)

func storeScopedRouter(capture *uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequireStore())
	r.GET("/api/actions", func(c *gin.Context) {
		if sd := ctxutil.GetStoreData(c.Request.Context()); sd != nil {
			*capture = sd.StoreID
		}
		c.Status(http.StatusOK)
	})
	return r
}

func TestRequireStoreRejectsMissingHeader(t *testing.T) {
	t.Parallel()
	var got uuid.UUID
	r := storeScopedRouter(&got)

	req := httptest.NewRequest(http.MethodGet, "/api/actions", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing header: got=%d want=%d", rec.Code, http.StatusBadRequest)
	}
	if got != uuid.Nil {
		t.Fatal("handler must not run without a store scope")
	}
}

func TestRequireStoreRejectsMalformedID(t *testing.T) {
	t.Parallel()
	var got uuid.UUID
	r := storeScopedRouter(&got)

	req := httptest.NewRequest(http.MethodGet, "/api/actions", nil)
	req.Header.Set("X-Store-Id", "not-a-uuid")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed id: got=%d want=%d", rec.Code, http.StatusBadRequest)
	}
}

func TestRequireStoreAttachesScope(t *testing.T) {
	t.Parallel()
	var got uuid.UUID
	r := storeScopedRouter(&got)

	storeID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/actions", nil)
	req.Header.Set("X-Store-Id", storeID.String())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("valid header rejected: got=%d", rec.Code)
	}
	if got != storeID {
		t.Fatalf("store scope not attached: want=%s got=%s", storeID, got)
	}
}
