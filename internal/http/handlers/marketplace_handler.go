// Marketplace HTTP handlers.
//
//   - GET  /marketplace/leads                    (masked listing, ETag support)
//   - POST /marketplace/download/{purchase_id}   (buyer CSV export)
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-lead-exchange/internal/repo"
	"github.com/tbourn/go-lead-exchange/internal/services"
	"github.com/tbourn/go-lead-exchange/internal/utils"
)

// ListLeadsResponse wraps a page of listed leads and pagination information.
type ListLeadsResponse struct {
	Leads      []services.ListingItem `json:"leads"`
	Pagination Pagination             `json:"pagination"`
}

// ListLeads godoc
// @ID          listLeads
// @Summary     List available leads (paginated)
// @Description Returns available leads with contact fields masked. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Marketplace
// @Produce     json
//
// @Param       If-None-Match     header  string  false  "Return 304 if ETag matches"
// @Param       industry          query   string  false  "Industry (case-insensitive)"
// @Param       country           query   string  false  "Country (case-insensitive)"
// @Param       min_intent_score  query   int     false  "Minimum intent score"  minimum(0) maximum(100)
// @Param       verified          query   bool    false  "Only verified leads"
// @Param       page              query   int     false  "Page number"      minimum(1) default(1)
// @Param       page_size         query   int     false  "Items per page"   minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListLeadsResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /marketplace/leads [get]
func (h *Handlers) ListLeads(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)
	verified, _ := strconv.ParseBool(c.Query("verified"))
	f := repo.LeadFilter{
		Industry:       c.Query("industry"),
		Country:        c.Query("country"),
		MinIntentScore: utils.AtoiDefault(c.Query("min_intent_score"), 0),
		Verified:       verified,
	}

	// ETag pre-check (best effort).
	if etag, err := h.marketplace.ETag(ctx, f); err == nil {
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	res, err := h.marketplace.ListAvailable(ctx, f, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListLeadsResponse{
		Leads:      res.Items,
		Pagination: newPagination(res.Page, res.PageSize, res.Total),
	})
}

// DownloadPurchase godoc
// @ID          downloadPurchase
// @Summary     Export a purchase as CSV
// @Description Returns the full, unmasked leads of a completed purchase. Only the buying workspace may download; every download is audited.
// @Tags        Marketplace
// @Produce     text/csv
//
// @Param       X-Workspace-ID  header  string  true   "Buyer workspace ID"
// @Param       X-User-ID       header  string  false  "Buyer user ID"
// @Param       purchase_id     path    string  true   "Purchase ID (UUID)"  format(uuid)
//
// @Success     200  {file}    file
// @Failure     403  {object}  handlers.ErrorResponse  "Not the buyer"
// @Failure     404  {object}  handlers.ErrorResponse  "Purchase not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Purchase not completed"
// @Router      /marketplace/download/{purchase_id} [post]
func (h *Handlers) DownloadPurchase(c *gin.Context) {
	ws, authed := requireWorkspace(c)
	if !authed {
		return
	}
	id := c.Param("purchase_id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "purchase id must be a UUID")
		return
	}

	exp, err := h.marketplace.Export(c.Request.Context(), id, ws, services.DownloadMeta{
		UserID:    userID(c),
		ClientIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		failErr(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+exp.FileName+`"`)
	c.Header("X-Row-Count", strconv.Itoa(exp.RowCount))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/csv; charset=utf-8", exp.Data)
}
