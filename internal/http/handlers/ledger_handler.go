// Ledger HTTP handlers.
//
// Partner side:
//   - GET  /partner/ledger            (balance, tier, open payout)
//   - PUT  /partner/payout-account    (record the connected payout account)
//   - POST /partner/payouts/request   (hold balance for a payout)
//
// Buyer side:
//   - POST /credits/grant-free        (one-time trial credits)
//   - GET  /credits                   (workspace balance)
//
// Operator side:
//   - POST /admin/payouts/{payout_id}/resolve
//   - POST /admin/credits/top-up
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-lead-exchange/internal/services"
)

// PayoutRequestBody is the JSON payload for requesting a payout.
type PayoutRequestBody struct {
	AmountCents int64 `json:"amount_cents" binding:"required" example:"5000"`
}

// PayoutAccountRequest is the JSON payload for recording a payout account.
type PayoutAccountRequest struct {
	AccountID      string `json:"account_id" example:"acct_1PqXyZ2eZvKYlo2C"`
	PayoutsEnabled bool   `json:"payouts_enabled"`
}

// ResolvePayoutRequest is an operator decision on a payout.
type ResolvePayoutRequest struct {
	Outcome services.PayoutOutcome `json:"outcome" binding:"required" example:"approve"`
	Reason  string                 `json:"reason,omitempty"`
}

// TopUpRequest credits a workspace. Reference makes the call idempotent.
type TopUpRequest struct {
	WorkspaceID string `json:"workspace_id" binding:"required"`
	Reference   string `json:"reference" binding:"required" example:"invoice-2024-0042"`
	Credits     int64  `json:"credits" binding:"required" example:"50"`
}

// CreditBalanceResponse is a workspace's credit balance.
type CreditBalanceResponse struct {
	WorkspaceID string `json:"workspace_id"`
	Balance     int64  `json:"balance"`
}

// GrantFreeCreditsResponse reports the workspace's trial grant.
type GrantFreeCreditsResponse struct {
	AlreadyGranted bool  `json:"alreadyGranted"`
	Credits        int64 `json:"credits" example:"5"`
	Balance        int64 `json:"balance"`
	CreditPending  bool  `json:"creditPending,omitempty"`
}

// TopUpResponse reports whether a top-up applied.
type TopUpResponse struct {
	Applied bool  `json:"applied"`
	Balance int64 `json:"balance"`
}

// PartnerLedger godoc
// @ID          partnerLedger
// @Summary     Partner balance and tier
// @Tags        Partners
// @Produce     json
//
// @Param       X-Partner-ID  header  string  true  "Partner ID"
//
// @Success     200  {object}  services.LedgerView
// @Failure     401  {object}  handlers.ErrorResponse  "Missing identity"
// @Router      /partner/ledger [get]
func (h *Handlers) PartnerLedger(c *gin.Context) {
	pid, authed := requirePartner(c)
	if !authed {
		return
	}
	v, err := h.partners.Balance(c.Request.Context(), pid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, v)
}

// SetPayoutAccount godoc
// @ID          setPayoutAccount
// @Summary     Record the partner's payout account
// @Tags        Partners
// @Accept      json
//
// @Param       X-Partner-ID  header  string  true  "Partner ID"
// @Param       body          body    handlers.PayoutAccountRequest  true  "Payout account"
//
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Router      /partner/payout-account [put]
func (h *Handlers) SetPayoutAccount(c *gin.Context) {
	pid, authed := requirePartner(c)
	if !authed {
		return
	}
	var req PayoutAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.PayoutsEnabled && strings.TrimSpace(req.AccountID) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "account_id is required when payouts are enabled")
		return
	}
	if err := h.partners.SetPayoutAccount(c.Request.Context(), pid, req.AccountID, req.PayoutsEnabled); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// RequestPayout godoc
// @ID          requestPayout
// @Summary     Request a payout
// @Description Holds the amount from the available balance. Fails with a reason code when the account is not onboarded, the amount is below the threshold or above the balance, or another payout is open.
// @Tags        Partners
// @Accept      json
// @Produce     json
//
// @Param       X-Partner-ID  header  string  true  "Partner ID"
// @Param       body          body    handlers.PayoutRequestBody  true  "Amount"
//
// @Success     201  {object}  domain.PayoutRequest
// @Failure     400  {object}  handlers.ErrorResponse  "payout_account_not_ready, below_payout_threshold, insufficient_balance"
// @Failure     409  {object}  handlers.ErrorResponse  "payout_already_pending"
// @Router      /partner/payouts/request [post]
func (h *Handlers) RequestPayout(c *gin.Context) {
	pid, authed := requirePartner(c)
	if !authed {
		return
	}
	var req PayoutRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "amount_cents is required")
		return
	}
	pr, err := h.partners.RequestPayout(c.Request.Context(), pid, req.AmountCents)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, pr)
}

// ResolvePayout godoc
// @ID          resolvePayout
// @Summary     Approve, pay or reject a payout (operator)
// @Tags        Admin
// @Accept      json
// @Produce     json
//
// @Param       payout_id  path  string  true  "Payout request ID (UUID)"  format(uuid)
// @Param       body       body  handlers.ResolvePayoutRequest  true  "Decision"
//
// @Success     200  {object}  domain.PayoutRequest
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Payout not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Payout already resolved"
// @Router      /admin/payouts/{payout_id}/resolve [post]
func (h *Handlers) ResolvePayout(c *gin.Context) {
	id := c.Param("payout_id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "payout id must be a UUID")
		return
	}
	var req ResolvePayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "outcome is required")
		return
	}
	pr, err := h.partners.ResolvePayout(c.Request.Context(), id, req.Outcome, strings.TrimSpace(req.Reason))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, pr)
}

// GrantFreeCredits godoc
// @ID          grantFreeCredits
// @Summary     Grant trial credits
// @Description Grants the workspace its free trial credits exactly once. Repeated calls return the existing grant with alreadyGranted=true.
// @Tags        Credits
// @Produce     json
//
// @Param       X-Workspace-ID  header  string  true  "Workspace ID"
//
// @Success     201  {object}  handlers.GrantFreeCreditsResponse  "Granted now"
// @Success     200  {object}  handlers.GrantFreeCreditsResponse  "Already granted"
// @Router      /credits/grant-free [post]
func (h *Handlers) GrantFreeCredits(c *gin.Context) {
	ws, authed := requireWorkspace(c)
	if !authed {
		return
	}
	res, err := h.credits.GrantFreeCredits(c.Request.Context(), ws)
	if err != nil {
		failErr(c, err)
		return
	}
	status := http.StatusOK
	if res.Granted {
		status = http.StatusCreated
	}
	ok(c, status, GrantFreeCreditsResponse{
		AlreadyGranted: !res.Granted,
		Credits:        res.Credits,
		Balance:        res.Balance,
		CreditPending:  res.CreditPending,
	})
}

// CreditBalance godoc
// @ID          creditBalance
// @Summary     Workspace credit balance
// @Tags        Credits
// @Produce     json
//
// @Param       X-Workspace-ID  header  string  true  "Workspace ID"
//
// @Success     200  {object}  handlers.CreditBalanceResponse
// @Router      /credits [get]
func (h *Handlers) CreditBalance(c *gin.Context) {
	ws, authed := requireWorkspace(c)
	if !authed {
		return
	}
	bal, err := h.credits.Balance(c.Request.Context(), ws)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, CreditBalanceResponse{WorkspaceID: ws, Balance: bal})
}

// TopUpCredits godoc
// @ID          topUpCredits
// @Summary     Add credits to a workspace (operator)
// @Description Idempotent by reference: replaying a reference applies nothing and returns applied=false.
// @Tags        Admin
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.TopUpRequest  true  "Top-up"
//
// @Success     200  {object}  handlers.TopUpResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Router      /admin/credits/top-up [post]
func (h *Handlers) TopUpCredits(c *gin.Context) {
	var req TopUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "workspace_id, reference and credits are required")
		return
	}
	ctx := c.Request.Context()
	applied, err := h.credits.TopUp(ctx, req.WorkspaceID, req.Reference, req.Credits)
	if err != nil {
		failErr(c, err)
		return
	}
	bal, err := h.credits.Balance(ctx, req.WorkspaceID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, TopUpResponse{Applied: applied, Balance: bal})
}
