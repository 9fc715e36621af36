package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aegisshield/citation-engine/internal/citation"
	"github.com/aegisshield/citation-engine/internal/contest"
	"github.com/aegisshield/citation-engine/internal/middleware"
)

// CitationHandler handles HTTP requests for citations
type CitationHandler struct {
	citations *citation.Service
	contests  *contest.Service
	logger    *zap.Logger
}

// NewCitationHandler creates a new citation handler
func NewCitationHandler(citations *citation.Service, contests *contest.Service, logger *zap.Logger) *CitationHandler {
	return &CitationHandler{
		citations: citations,
		contests:  contests,
		logger:    logger.Named("citation_handler"),
	}
}

// IssueCitation issues a citation for one or more violations
func (h *CitationHandler) IssueCitation(c *gin.Context) {
	var req citation.IssueRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	req.IssuedBy = middleware.Actor(c)

	issued, err := h.citations.Issue(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, issued)
}

// GetCitation retrieves a citation by ID
func (h *CitationHandler) GetCitation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	found, err := h.citations.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, found)
}

// GetCitationByNumber retrieves a citation by its human-readable number
func (h *CitationHandler) GetCitationByNumber(c *gin.Context) {
	found, err := h.citations.GetByNumber(c.Request.Context(), c.Param("citationNo"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, found)
}

// UpdateCitation changes the mutable fields of a citation
func (h *CitationHandler) UpdateCitation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var changes citation.Changes
	if !bindJSON(c, h.logger, &changes) {
		return
	}

	updated, err := h.citations.Update(c.Request.Context(), id, changes, middleware.Actor(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, updated)
}

// RecordPayment applies a payment to a citation
func (h *CitationHandler) RecordPayment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req citation.PaymentRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	req.Actor = middleware.Actor(c)

	updated, err := h.citations.RecordPayment(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, updated)
}

type voidRequest struct {
	Reason string `json:"reason"`
}

// VoidCitation cancels a citation
func (h *CitationHandler) VoidCitation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req voidRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}

	voided, err := h.citations.Void(c.Request.Context(), id, req.Reason, middleware.Actor(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, voided)
}

// SubmitContest opens a contest against a citation
func (h *CitationHandler) SubmitContest(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req contest.SubmitRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	req.Actor = middleware.Actor(c)

	opened, err := h.contests.Submit(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, opened)
}

// ListContests lists every contest filed against a citation
func (h *CitationHandler) ListContests(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	contests, err := h.contests.ListForCitation(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"contests": contests, "total": len(contests)})
}
