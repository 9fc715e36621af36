package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aegisshield/citation-engine/internal/contest"
	"github.com/aegisshield/citation-engine/internal/middleware"
)

// ContestHandler handles HTTP requests for the contest workflow
type ContestHandler struct {
	contests *contest.Service
	logger   *zap.Logger
}

// NewContestHandler creates a new contest handler
func NewContestHandler(contests *contest.Service, logger *zap.Logger) *ContestHandler {
	return &ContestHandler{
		contests: contests,
		logger:   logger.Named("contest_handler"),
	}
}

// GetContest retrieves a contest with its status history
func (h *ContestHandler) GetContest(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	found, err := h.contests.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, found)
}

// MoveToReview starts the review of a submitted contest
func (h *ContestHandler) MoveToReview(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	note, ok := bindOptionalNote(c, h.logger)
	if !ok {
		return
	}

	updated, err := h.contests.MoveToReview(c.Request.Context(), id, middleware.Actor(c), note)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, updated)
}

// ResolveContest approves or rejects a contest under review
func (h *ContestHandler) ResolveContest(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req contest.ResolveRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	req.Actor = middleware.Actor(c)

	resolved, err := h.contests.Resolve(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resolved)
}

// WithdrawContest closes a contest at the submitter's request
func (h *ContestHandler) WithdrawContest(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	note, ok := bindOptionalNote(c, h.logger)
	if !ok {
		return
	}

	withdrawn, err := h.contests.Withdraw(c.Request.Context(), id, middleware.Actor(c), note)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, withdrawn)
}
