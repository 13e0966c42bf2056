// Package handlers provides HTTP handler implementations for the public API.
//
// Handlers are transport-thin: they bind and validate input, call the
// application services, and translate results and service errors into HTTP
// responses. Business rules (policy, idempotency, evidence scoring) live in
// the services package.
package handlers

import (
	"context"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-support-agent/internal/conversation"
	"github.com/tbourn/go-support-agent/internal/domain"
	"github.com/tbourn/go-support-agent/internal/services"
	"github.com/tbourn/go-support-agent/internal/utils"
)

//
// Service contracts (context-aware)
//

// ChatService defines the guided conversation operations consumed by the
// chat endpoints.
//
// Implementations must be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ChatService interface {
	// Start opens a session and returns the greeting directive.
	Start(ctx context.Context) (*conversation.Directive, error)
	// Message applies one turn to a session.
	Message(ctx context.Context, sessionID string, in conversation.Input) (*conversation.Directive, error)
	// Resume re-renders the prompt for the persisted state.
	Resume(ctx context.Context, sessionID string) (*conversation.Directive, error)
	// History returns a page of the transcript and its total length.
	History(ctx context.Context, sessionID string, page, pageSize int) ([]domain.ChatMessage, int64, error)
	// HistoryVersion returns (count, lastID) of the transcript.
	HistoryVersion(ctx context.Context, sessionID string) (int64, uint64, error)
}

// ToolService defines the audited tool operations exposed under /tools.
type ToolService interface {
	ListOrders(ctx context.Context, identifier string) ([]services.OrderSummary, error)
	ListOrderItems(ctx context.Context, orderID string) ([]services.OrderItem, error)
	SetSelectedOrder(ctx context.Context, identifier, orderID string) (*services.OrderSummary, error)
	SetSelectedItems(ctx context.Context, orderID string, itemIDs []string) (*services.SelectedItems, error)
	CreateReturn(ctx context.Context, req services.CreateReturnRequest) (*services.ReturnResult, error)
	GenerateLabel(ctx context.Context, rmaID string) (*services.LabelResult, error)
	CreateEscalation(ctx context.Context, req services.CreateEscalationRequest) (*services.EscalationResult, error)
	UploadEvidence(ctx context.Context, req services.UploadEvidenceRequest) (*domain.EvidenceRecord, error)
	ValidateEvidence(ctx context.Context, req services.ValidateEvidenceRequest) (*services.ValidationResult, error)
	GetEvidence(ctx context.Context, evidenceID string) (*services.EvidenceDetails, error)
	GetCaseStatus(ctx context.Context, caseID string) (*services.CaseStatus, error)
	CheckEligibility(ctx context.Context, req services.EligibilityRequest) (*services.EligibilityResult, error)
	IssueStoreCredit(ctx context.Context, req services.StoreCreditRequest) (*services.StoreCreditResult, error)
	CreateTestOrder(ctx context.Context, req services.TestOrderRequest) (*domain.Order, error)
}

//
// Handler wiring
//

// Handlers groups the chat and tool endpoints.
type Handlers struct {
	chatSvc ChatService
	toolSvc ToolService

	// maxUploadBytes caps multipart evidence files; zero uses the service
	// default.
	maxUploadBytes int64
}

// New constructs a Handlers instance bound to the given services.
func New(chatSvc ChatService, toolSvc ToolService) *Handlers {
	return &Handlers{chatSvc: chatSvc, toolSvc: toolSvc}
}

// WithMaxUpload sets the evidence upload cap enforced while reading the
// multipart file.
func (h *Handlers) WithMaxUpload(n int64) *Handlers {
	h.maxUploadBytes = n
	return h
}

//
// Shared DTOs and helpers
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination reads page and page_size, defaulting to 1 and 20 and
// capping page_size at 100.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.IntInRange(c.Query("page"), 1, 1, math.MaxInt32)
	pageSize = utils.IntInRange(c.Query("page_size"), defaultPageSize, 1, maxPageSize)
	return page, pageSize
}

// bindJSON decodes the body into dst, writing a 400 on failure.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// Mount registers the chat and tool endpoints on api.
func (h *Handlers) Mount(api gin.IRoutes) {
	api.POST("/chat/start", h.StartChat)
	api.POST("/chat/message", h.PostMessage)
	api.POST("/chat/resume", h.ResumeChat)
	api.GET("/chat/sessions/:id/messages", h.ListMessages)

	api.POST("/tools/list_orders", h.ListOrders)
	api.POST("/tools/list_order_items", h.ListOrderItems)
	api.POST("/tools/set_selected_order", h.SetSelectedOrder)
	api.POST("/tools/set_selected_items", h.SetSelectedItems)
	api.POST("/tools/create_return", h.CreateReturn)
	api.POST("/tools/generate_label", h.GenerateLabel)
	api.POST("/tools/create_escalation", h.CreateEscalation)
	api.POST("/tools/upload_evidence", h.UploadEvidence)
	api.POST("/tools/validate_evidence", h.ValidateEvidence)
	api.GET("/tools/evidence/:id", h.GetEvidence)
	api.POST("/tools/get_case_status", h.GetCaseStatus)
	api.POST("/tools/check_eligibility", h.CheckEligibility)
	api.POST("/tools/issue_store_credit", h.IssueStoreCredit)
	api.POST("/tools/create_test_order", h.CreateTestOrder)
}
