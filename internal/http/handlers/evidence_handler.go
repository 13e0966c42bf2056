// Evidence HTTP handlers.
//
// This file exposes:
//   - POST /tools/upload_evidence     (multipart upload for a session's case)
//   - POST /tools/validate_evidence   (score evidence for an order item)
//   - GET  /tools/evidence/{id}       (record plus stored validations)
package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-support-agent/internal/services"
)

// evidenceFormField is the multipart field carrying the file.
const evidenceFormField = "file"

// UploadEvidence godoc
// @ID          uploadEvidence
// @Summary     Upload evidence for a session
// @Description Stores a photo or document for the session's case. The MIME type is taken from the
// @Description part header, or sniffed when absent. Closed sessions reject uploads.
// @Tags        Evidence
// @Accept      multipart/form-data
// @Produce     json
// @Param       session_id  formData  string  true  "Session ID"
// @Param       file        formData  file    true  "Evidence file"
// @Success     201  {object}  domain.EvidenceRecord
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Failure     413  {object}  handlers.ErrorResponse  "File too large"
// @Router      /tools/upload_evidence [post]
func (h *Handlers) UploadEvidence(c *gin.Context) {
	sessionID := c.PostForm("session_id")
	if sessionID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session_id required")
		return
	}
	fh, err := c.FormFile(evidenceFormField)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "multipart field \"file\" required")
		return
	}
	if h.maxUploadBytes > 0 && fh.Size > h.maxUploadBytes {
		failErr(c, services.ErrEvidenceTooLarge)
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable file")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable file")
		return
	}

	rec, err := h.toolSvc.UploadEvidence(c.Request.Context(), services.UploadEvidenceRequest{
		SessionID: sessionID,
		FileName:  fh.Filename,
		MimeType:  fh.Header.Get("Content-Type"),
		Data:      data,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, rec)
}

// ValidateEvidence godoc
// @ID          validateEvidence
// @Summary     Validate evidence for an order item
// @Description Scores the evidence and stores the outcome. A second validation of the same
// @Description evidence, order and item is rejected with 409; upload new evidence instead.
// @Tags        Evidence
// @Accept      json
// @Produce     json
// @Param       body  body  services.ValidateEvidenceRequest  true  "Evidence and order item"
// @Success     200  {object}  services.ValidationResult
// @Failure     404  {object}  handlers.ErrorResponse  "Evidence or order not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Already validated"
// @Failure     422  {object}  handlers.ErrorResponse  "Evidence belongs to another case"
// @Router      /tools/validate_evidence [post]
func (h *Handlers) ValidateEvidence(c *gin.Context) {
	var req services.ValidateEvidenceRequest
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.toolSvc.ValidateEvidence(c.Request.Context(), req)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, out)
}

// GetEvidence godoc
// @ID          getEvidence
// @Summary     Get an evidence record
// @Tags        Evidence
// @Produce     json
// @Param       id  path  string  true  "Evidence ID"  example(EVD-6A0F3B2C9D18)
// @Success     200  {object}  services.EvidenceDetails
// @Failure     404  {object}  handlers.ErrorResponse  "Evidence not found"
// @Router      /tools/evidence/{id} [get]
func (h *Handlers) GetEvidence(c *gin.Context) {
	out, err := h.toolSvc.GetEvidence(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, out)
}
