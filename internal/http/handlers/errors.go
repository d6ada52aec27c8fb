package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/anthorai/ZYRA-AI-sub003/internal/http/response"
	"github.com/anthorai/ZYRA-AI-sub003/internal/platform/ctxutil"
	"github.com/anthorai/ZYRA-AI-sub003/internal/services"
)

// respondServiceError maps engine sentinels onto HTTP statuses. Anything the
// switch does not recognize reads as a bad request carrying the operation's
// error code; services keep their own wording.
func respondServiceError(c *gin.Context, code string, err error) {
	status := http.StatusBadRequest
	var rbErr *services.RollbackError
	switch {
	case errors.As(err, &rbErr):
		// The storefront may still carry the unwanted change.
		status = http.StatusBadGateway
	case errors.Is(err, services.ErrActionNotFound),
		errors.Is(err, services.ErrApprovalNotFound),
		errors.Is(err, services.ErrRuleNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrNotEligible),
		errors.Is(err, services.ErrAlreadyRolledBack),
		errors.Is(err, services.ErrNoContentToPush),
		errors.Is(err, services.ErrApprovalResolved):
		status = http.StatusConflict
	}
	response.RespondError(c, status, code, err)
}

// storeScope returns the store the request is acting for. Routes behind
// middleware.RequireStore always have one; the guard keeps a handler safe
// if it is ever mounted without it.
func storeScope(c *gin.Context) (uuid.UUID, bool) {
	sd := ctxutil.GetStoreData(c.Request.Context())
	if sd == nil || sd.StoreID == uuid.Nil {
		response.RespondError(c, http.StatusBadRequest, "missing_store_scope", errors.New("request has no store scope"))
		return uuid.Nil, false
	}
	return sd.StoreID, true
}
