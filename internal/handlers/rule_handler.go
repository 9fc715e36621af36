package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aegisshield/citation-engine/internal/catalog"
	"github.com/aegisshield/citation-engine/internal/middleware"
)

// RuleHandler handles HTTP requests for the violation rule catalog
type RuleHandler struct {
	catalog *catalog.Catalog
	logger  *zap.Logger
}

// NewRuleHandler creates a new rule handler
func NewRuleHandler(cat *catalog.Catalog, logger *zap.Logger) *RuleHandler {
	return &RuleHandler{
		catalog: cat,
		logger:  logger.Named("rule_handler"),
	}
}

// DefineRule creates a rule group or a new version of an existing one
func (h *RuleHandler) DefineRule(c *gin.Context) {
	var req catalog.DefineRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	req.Actor = middleware.Actor(c)

	rule, err := h.catalog.DefineRuleVersion(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, rule)
}

// GetCurrent returns the version of a code in force now
func (h *RuleHandler) GetCurrent(c *gin.Context) {
	rule, err := h.catalog.GetCurrent(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, rule)
}

// History lists every version of a rule group
func (h *RuleHandler) History(c *gin.Context) {
	groupID, ok := pathID(c, "groupId")
	if !ok {
		return
	}

	versions, err := h.catalog.History(c.Request.Context(), groupID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"versions": versions, "total": len(versions)})
}

// Deactivate retires a rule version without a successor
func (h *RuleHandler) Deactivate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	rule, err := h.catalog.Deactivate(c.Request.Context(), id, middleware.Actor(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, rule)
}
