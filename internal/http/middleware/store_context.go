package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/ctxutil"
)

const headerStoreID = "X-Store-Id"

// RequireStore resolves the merchant scope of a request from the X-Store-Id
// header set by the dashboard gateway. The gateway owns authentication; by
// the time a request reaches this service the store claim is trusted, it just
// has to be present and well formed.
func RequireStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(headerStoreID))
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": gin.H{"message": "missing X-Store-Id header", "code": "missing_store_id"},
			})
			return
		}
		storeID, err := uuid.Parse(raw)
		if err != nil || storeID == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": gin.H{"message": "invalid X-Store-Id header", "code": "invalid_store_id"},
			})
			return
		}
		ctx := ctxutil.WithStoreData(c.Request.Context(), &ctxutil.StoreData{StoreID: storeID})
		c.Request = c.Request.WithContext(ctx)
		c.Set("store_id", storeID.String())
		c.Next()
	}
}
