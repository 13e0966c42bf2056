// Tool HTTP handlers.
//
// This file exposes the audited tools under /tools. Each endpoint binds a
// JSON payload, calls the matching ToolService operation and maps service
// errors through failErr. Tool calls are audited by the service whether they
// succeed or fail.
//
// Idempotency:
// create_return and create_escalation take their key from the payload or,
// when the payload omits it, from the validated Idempotency-Key header.
// Replays answer 200 with `Idempotency-Replayed: true`; first writes answer
// 201.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-support-agent/internal/http/middleware"
	"github.com/tbourn/go-support-agent/internal/services"
)

//
// DTOs
//

// ListOrdersRequest looks orders up by order id, email or phone last 4.
type ListOrdersRequest struct {
	Identifier string `json:"identifier" example:"alice@example.com"`
}

// ListOrdersResponse wraps the matching orders.
type ListOrdersResponse struct {
	Orders []services.OrderSummary `json:"orders"`
}

// OrderRequest names a single order.
type OrderRequest struct {
	OrderID string `json:"order_id" example:"ORD-1001"`
}

// ListOrderItemsResponse wraps the items of an order.
type ListOrderItemsResponse struct {
	Items []services.OrderItem `json:"items"`
}

// SetSelectedOrderRequest confirms an order for an identifier.
type SetSelectedOrderRequest struct {
	Identifier string `json:"identifier" example:"alice@example.com"`
	OrderID    string `json:"order_id" example:"ORD-1001"`
}

// SetSelectedItemsRequest confirms the item of an order.
type SetSelectedItemsRequest struct {
	OrderID string   `json:"order_id" example:"ORD-1001"`
	ItemIDs []string `json:"item_ids"`
}

// GenerateLabelRequest names the RMA to label.
type GenerateLabelRequest struct {
	RMAID string `json:"rma_id" example:"RMA-8E1D44A0C2F7"`
}

// CaseRequest names a case.
type CaseRequest struct {
	CaseID string `json:"case_id" example:"CASE-0B5D7E21A9C4"`
}

//
// Helpers
//

// resolveKey picks the idempotency key from the payload or the header.
// A payload key that disagrees with the header is rejected.
func resolveKey(c *gin.Context, body string) (string, bool) {
	body = strings.TrimSpace(body)
	header, _ := middleware.GetIdempotencyKey(c)
	switch {
	case body == "":
		return header, true
	case header != "" && header != body:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "idempotency key in body and header differ")
		return "", false
	}
	return body, true
}

// created answers 201 for first writes and 200 for replays.
func created(c *gin.Context, replayed bool, body any) {
	if replayed {
		c.Header("Idempotency-Replayed", "true")
		ok(c, http.StatusOK, body)
		return
	}
	ok(c, http.StatusCreated, body)
}

//
// Handlers
//

// ListOrders godoc
// @ID          listOrders
// @Summary     List orders for an identifier
// @Description Looks orders up by order id, customer email or phone last 4. Emails are masked.
// @Tags        Tools
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.ListOrdersRequest  true  "Identifier"
// @Success     200  {object}  handlers.ListOrdersResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     503  {object}  handlers.ErrorResponse  "Temporarily unavailable"
// @Router      /tools/list_orders [post]
func (h *Handlers) ListOrders(c *gin.Context) {
	var req ListOrdersRequest
	if !bindJSON(c, &req) {
		return
	}
	orders, err := h.toolSvc.ListOrders(c.Request.Context(), req.Identifier)
	if err != nil {
		failErr(c, err)
		return
	}
	if orders == nil {
		orders = []services.OrderSummary{}
	}
	ok(c, http.StatusOK, ListOrdersResponse{Orders: orders})
}

// ListOrderItems godoc
// @ID          listOrderItems
// @Summary     List the items of an order
// @Tags        Tools
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.OrderRequest  true  "Order"
// @Success     200  {object}  handlers.ListOrderItemsResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Order not found"
// @Router      /tools/list_order_items [post]
func (h *Handlers) ListOrderItems(c *gin.Context) {
	var req OrderRequest
	if !bindJSON(c, &req) {
		return
	}
	items, err := h.toolSvc.ListOrderItems(c.Request.Context(), req.OrderID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListOrderItemsResponse{Items: items})
}

// SetSelectedOrder godoc
// @ID          setSelectedOrder
// @Summary     Confirm the order for an identifier
// @Tags        Tools
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.SetSelectedOrderRequest  true  "Selection"
// @Success     200  {object}  services.OrderSummary
// @Failure     404  {object}  handlers.ErrorResponse  "Order not found for identifier"
// @Router      /tools/set_selected_order [post]
func (h *Handlers) SetSelectedOrder(c *gin.Context) {
	var req SetSelectedOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.toolSvc.SetSelectedOrder(c.Request.Context(), req.Identifier, req.OrderID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, out)
}

// SetSelectedItems godoc
// @ID          setSelectedItems
// @Summary     Confirm the item of an order
// @Description Exactly one item is accepted per case.
// @Tags        Tools
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.SetSelectedItemsRequest  true  "Selection"
// @Success     200  {object}  services.SelectedItems
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid selection"
// @Failure     404  {object}  handlers.ErrorResponse  "Order or item not found"
// @Router      /tools/set_selected_items [post]
func (h *Handlers) SetSelectedItems(c *gin.Context) {
	var req SetSelectedItemsRequest
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.toolSvc.SetSelectedItems(c.Request.Context(), req.OrderID, req.ItemIDs)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, out)
}

// CreateReturn godoc
// @ID          createReturn
// @Summary     Create an RMA
// @Description Creates a return, refund, replacement or cancellation for an order item.
// @Description The same idempotency key with the same payload replays the stored RMA; a different payload is a conflict.
// @Description A fresh write is re-decided by the return policy for the given reason.
// @Tags        Tools
// @Accept      json
// @Produce     json
// @Param       Idempotency-Key  header  string  false  "Idempotency key (used when the body omits it)"  example(case-CASE-0B5D7E21A9C4-ORD-1001-ITEM-1)
// @Param       body             body    services.CreateReturnRequest  true  "Return payload"
// @Success     201  {object}  services.ReturnResult  "Created"
// @Success     200  {object}  services.ReturnResult  "Replayed"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Order or item not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Idempotency conflict"
// @Failure     422  {object}  handlers.ErrorResponse  "Method not eligible under the return policy"
// @Failure     503  {object}  handlers.ErrorResponse  "Temporarily unavailable"
// @Router      /tools/create_return [post]
func (h *Handlers) CreateReturn(c *gin.Context) {
	var req services.CreateReturnRequest
	if !bindJSON(c, &req) {
		return
	}
	key, good := resolveKey(c, req.IdempotencyKey)
	if !good {
		return
	}
	req.IdempotencyKey = key
	out, err := h.toolSvc.CreateReturn(c.Request.Context(), req)
	if err != nil {
		failErr(c, err)
		return
	}
	created(c, out.Replayed, out)
}

// GenerateLabel godoc
// @ID          generateLabel
// @Summary     Generate a shipping label for an RMA
// @Description Idempotent per RMA: a second call returns the existing label.
// @Tags        Tools
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.GenerateLabelRequest  true  "RMA"
// @Success     201  {object}  services.LabelResult  "Created"
// @Success     200  {object}  services.LabelResult  "Existing label"
// @Failure     400  {object}  handlers.ErrorResponse  "Cancellations have no label"
// @Failure     404  {object}  handlers.ErrorResponse  "RMA not found"
// @Router      /tools/generate_label [post]
func (h *Handlers) GenerateLabel(c *gin.Context) {
	var req GenerateLabelRequest
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.toolSvc.GenerateLabel(c.Request.Context(), req.RMAID)
	if err != nil {
		failErr(c, err)
		return
	}
	created(c, out.Replayed, out)
}

// CreateEscalation godoc
// @ID          createEscalation
// @Summary     Hand a case off to a human
// @Tags        Tools
// @Accept      json
// @Produce     json
// @Param       Idempotency-Key  header  string  false  "Idempotency key (used when the body omits it)"
// @Param       body             body    services.CreateEscalationRequest  true  "Escalation payload"
// @Success     201  {object}  services.EscalationResult  "Created"
// @Success     200  {object}  services.EscalationResult  "Replayed"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     409  {object}  handlers.ErrorResponse  "Idempotency conflict"
// @Router      /tools/create_escalation [post]
func (h *Handlers) CreateEscalation(c *gin.Context) {
	var req services.CreateEscalationRequest
	if !bindJSON(c, &req) {
		return
	}
	key, good := resolveKey(c, req.IdempotencyKey)
	if !good {
		return
	}
	req.IdempotencyKey = key
	out, err := h.toolSvc.CreateEscalation(c.Request.Context(), req)
	if err != nil {
		failErr(c, err)
		return
	}
	created(c, out.Replayed, out)
}

// GetCaseStatus godoc
// @ID          getCaseStatus
// @Summary     Get the customer-visible status of a case
// @Tags        Tools
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.CaseRequest  true  "Case"
// @Success     200  {object}  services.CaseStatus
// @Failure     404  {object}  handlers.ErrorResponse  "Case not found"
// @Router      /tools/get_case_status [post]
func (h *Handlers) GetCaseStatus(c *gin.Context) {
	var req CaseRequest
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.toolSvc.GetCaseStatus(c.Request.Context(), req.CaseID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, out)
}

// CheckEligibility godoc
// @ID          checkEligibility
// @Summary     Derive the policy decision for an order item
// @Description The decision is recomputed from current store contents on every call.
// @Tags        Tools
// @Accept      json
// @Produce     json
// @Param       body  body  services.EligibilityRequest  true  "Claim"
// @Success     200  {object}  services.EligibilityResult
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Order or item not found"
// @Router      /tools/check_eligibility [post]
func (h *Handlers) CheckEligibility(c *gin.Context) {
	var req services.EligibilityRequest
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.toolSvc.CheckEligibility(c.Request.Context(), req)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, out)
}

// IssueStoreCredit godoc
// @ID          issueStoreCredit
// @Summary     Issue store credit for a case
// @Description Allowed only when the current policy decision offers store credit.
// @Tags        Tools
// @Accept      json
// @Produce     json
// @Param       body  body  services.StoreCreditRequest  true  "Claim"
// @Success     200  {object}  services.StoreCreditResult
// @Failure     422  {object}  handlers.ErrorResponse  "Store credit not offered"
// @Router      /tools/issue_store_credit [post]
func (h *Handlers) IssueStoreCredit(c *gin.Context) {
	var req services.StoreCreditRequest
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.toolSvc.IssueStoreCredit(c.Request.Context(), req)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, out)
}

// CreateTestOrder godoc
// @ID          createTestOrder
// @Summary     Insert a fixture order
// @Description Disabled unless ALLOW_TEST_ORDERS is set.
// @Tags        Tools
// @Accept      json
// @Produce     json
// @Param       body  body  services.TestOrderRequest  true  "Order fixture"
// @Success     201  {object}  domain.Order
// @Failure     400  {object}  handlers.ErrorResponse  "Disabled or invalid"
// @Router      /tools/create_test_order [post]
func (h *Handlers) CreateTestOrder(c *gin.Context) {
	var req services.TestOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.toolSvc.CreateTestOrder(c.Request.Context(), req)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, out)
}
