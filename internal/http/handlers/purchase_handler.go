// Purchase HTTP handlers.
//
// This file exposes the buyer purchase flow:
//   - POST /leads/{lead_id}/purchase               (open a payment intent)
//   - POST /leads/{lead_id}/confirm-purchase       (record a paid purchase)
//   - POST /leads/{lead_id}/purchase-with-credits  (buy with workspace credits)
//   - POST /webhooks/stripe                        (provider callbacks)
//
// Idempotency:
// The purchase endpoint honors an Idempotency-Key header scoped to the
// buyer workspace and lead. A repeated key returns the original intent and
// sets `Idempotency-Replayed: true`. Confirmation is idempotent by payment
// intent id without any header.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-lead-exchange/internal/http/middleware"
	"github.com/tbourn/go-lead-exchange/internal/services"
)

// HeaderStripeSignature carries the webhook signature.
const HeaderStripeSignature = "Stripe-Signature"

// maxWebhookBytes caps webhook payloads read into memory.
const maxWebhookBytes = 256 << 10

// ConfirmPurchaseRequest is the JSON payload for confirming a purchase.
type ConfirmPurchaseRequest struct {
	PaymentIntentID string `json:"payment_intent_id" binding:"required" example:"pi_3PqXyZ2eZvKYlo2C1a2b3c4d"`
}

// PurchaseResponse reports a recorded purchase.
type PurchaseResponse struct {
	Success    bool   `json:"success"`
	PurchaseID string `json:"purchaseId"`
	// AlreadyRecorded marks a replay of a purchase recorded earlier.
	AlreadyRecorded bool   `json:"alreadyRecorded,omitempty"`
	LeadID          string `json:"leadId,omitempty"`
	// Settled is false when the partner credit is left to the reconciler.
	Settled bool `json:"settled"`
}

func newPurchaseResponse(res *services.PurchaseResult) PurchaseResponse {
	resp := PurchaseResponse{Success: true, AlreadyRecorded: res.AlreadyRecorded, Settled: res.Settled}
	if res.Purchase != nil {
		resp.PurchaseID = res.Purchase.ID
		resp.LeadID = res.Purchase.LeadID
	}
	return resp
}

func leadID(c *gin.Context) (string, bool) {
	id := c.Param("lead_id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "lead id must be a UUID")
		return "", false
	}
	return id, true
}

// CreatePurchaseIntent godoc
// @ID          createPurchaseIntent
// @Summary     Start a lead purchase
// @Description Opens a payment intent for the lead's price. Supports idempotency via the Idempotency-Key header (same key → same intent).
// @Tags        Purchases
// @Produce     json
//
// @Param       X-Workspace-ID   header  string  true   "Buyer workspace ID"
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       lead_id          path    string  true   "Lead ID (UUID)"  format(uuid)
//
// @Success     201  {object}  services.IntentResult
// @Success     200  {object}  services.IntentResult  "Replayed"
// @Header      200  {string}  Idempotency-Replayed  "true when served from a previous request"
// @Failure     400  {object}  handlers.ErrorResponse  "Lead unavailable or bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Lead not found"
// @Failure     503  {object}  handlers.ErrorResponse  "Payment provider unavailable"
// @Router      /leads/{lead_id}/purchase [post]
func (h *Handlers) CreatePurchaseIntent(c *gin.Context) {
	ws, authed := requireWorkspace(c)
	if !authed {
		return
	}
	lid, valid := leadID(c)
	if !valid {
		return
	}
	key, _ := middleware.GetIdempotencyKey(c)

	res, err := h.purchases.CreateIntent(c.Request.Context(), lid, ws, key)
	if err != nil {
		// Nothing was paid yet, so an unavailable lead is a plain bad request
		// here rather than a conflict.
		if errors.Is(err, services.ErrLeadUnavailable) {
			fail(c, http.StatusBadRequest, ErrCodeLeadUnavailable, services.ErrLeadUnavailable.Error())
			return
		}
		failErr(c, err)
		return
	}
	if res.Replayed {
		c.Header("Idempotency-Replayed", "true")
		ok(c, http.StatusOK, res)
		return
	}
	ok(c, http.StatusCreated, res)
}

// ConfirmPurchase godoc
// @ID          confirmPurchase
// @Summary     Confirm a paid purchase
// @Description Verifies the payment intent and claims the lead. Exactly one buyer can claim a lead; a repeated confirmation returns the recorded purchase.
// @Tags        Purchases
// @Accept      json
// @Produce     json
//
// @Param       X-Workspace-ID  header  string  true   "Buyer workspace ID"
// @Param       X-User-ID       header  string  false  "Buyer user ID"
// @Param       lead_id         path    string  true   "Lead ID (UUID)"  format(uuid)
// @Param       body            body    handlers.ConfirmPurchaseRequest  true  "Payment intent"
//
// @Success     201  {object}  handlers.PurchaseResponse
// @Success     200  {object}  handlers.PurchaseResponse  "Already recorded"
// @Failure     400  {object}  handlers.ErrorResponse  "Payment mismatch or not succeeded"
// @Failure     403  {object}  handlers.ErrorResponse  "Purchase belongs to another workspace"
// @Failure     409  {object}  handlers.ErrorResponse  "Lead sold to another buyer"
// @Failure     503  {object}  handlers.ErrorResponse  "Payment provider unavailable"
// @Router      /leads/{lead_id}/confirm-purchase [post]
func (h *Handlers) ConfirmPurchase(c *gin.Context) {
	ws, authed := requireWorkspace(c)
	if !authed {
		return
	}
	lid, valid := leadID(c)
	if !valid {
		return
	}
	var req ConfirmPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.PaymentIntentID) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "payment_intent_id is required")
		return
	}

	res, err := h.purchases.Confirm(c.Request.Context(), services.ConfirmRequest{
		LeadID:      lid,
		WorkspaceID: ws,
		UserID:      userID(c),
		IntentID:    strings.TrimSpace(req.PaymentIntentID),
	})
	if err != nil {
		failErr(c, err)
		return
	}
	if res.AlreadyRecorded {
		ok(c, http.StatusOK, newPurchaseResponse(res))
		return
	}
	ok(c, http.StatusCreated, newPurchaseResponse(res))
}

// PurchaseWithCredits godoc
// @ID          purchaseWithCredits
// @Summary     Buy a lead with credits
// @Description Debits workspace credits and claims the lead in one transaction. Nothing is spent when the lead is gone.
// @Tags        Purchases
// @Produce     json
//
// @Param       X-Workspace-ID  header  string  true   "Buyer workspace ID"
// @Param       X-User-ID       header  string  false  "Buyer user ID"
// @Param       lead_id         path    string  true   "Lead ID (UUID)"  format(uuid)
//
// @Success     201  {object}  handlers.PurchaseResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Insufficient credits"
// @Failure     404  {object}  handlers.ErrorResponse  "Lead not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Lead unavailable"
// @Router      /leads/{lead_id}/purchase-with-credits [post]
func (h *Handlers) PurchaseWithCredits(c *gin.Context) {
	ws, authed := requireWorkspace(c)
	if !authed {
		return
	}
	lid, valid := leadID(c)
	if !valid {
		return
	}
	res, err := h.purchases.PurchaseWithCredits(c.Request.Context(), lid, ws, userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, newPurchaseResponse(res))
}

// StripeWebhook godoc
// @ID          stripeWebhook
// @Summary     Payment provider webhook
// @Description Verifies the signature and applies payment_intent.succeeded exactly like a buyer confirmation. Other events are acknowledged and ignored.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       Stripe-Signature  header  string  true  "t=<unix>,v1=<hex>"
//
// @Success     200  {object}  services.WebhookResult
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid signature or payload"
// @Failure     503  {object}  handlers.ErrorResponse  "Payment provider unavailable, retry later"
// @Router      /webhooks/stripe [post]
func (h *Handlers) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable body")
		return
	}
	res, err := h.purchases.HandleWebhook(c.Request.Context(), payload, c.GetHeader(HeaderStripeSignature))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}
