package handlers

import (
	"github.com/gin-gonic/gin"
)

// Handlers groups the API handlers mounted under /api/v1
type Handlers struct {
	Rules     *RuleHandler
	Citations *CitationHandler
	Contests  *ContestHandler
	Registry  *RegistryHandler
}

// RegisterRoutes mounts the API on the given router group
func RegisterRoutes(v1 gin.IRouter, h Handlers) {
	rules := v1.Group("/rules")
	{
		rules.POST("", h.Rules.DefineRule)
		rules.GET("/current/:code", h.Rules.GetCurrent)
		rules.GET("/groups/:groupId/history", h.Rules.History)
		rules.POST("/:id/deactivate", h.Rules.Deactivate)
	}

	drivers := v1.Group("/drivers")
	{
		drivers.POST("", h.Registry.CreateDriver)
		drivers.GET("/:id", h.Registry.GetDriver)
	}

	vehicles := v1.Group("/vehicles")
	{
		vehicles.POST("", h.Registry.CreateVehicle)
		vehicles.GET("/:id", h.Registry.GetVehicle)
	}

	citations := v1.Group("/citations")
	{
		citations.POST("", h.Citations.IssueCitation)
		citations.GET("/number/:citationNo", h.Citations.GetCitationByNumber)
		citations.GET("/:id", h.Citations.GetCitation)
		citations.PATCH("/:id", h.Citations.UpdateCitation)
		citations.POST("/:id/payments", h.Citations.RecordPayment)
		citations.POST("/:id/void", h.Citations.VoidCitation)
		citations.POST("/:id/contests", h.Citations.SubmitContest)
		citations.GET("/:id/contests", h.Citations.ListContests)
	}

	contests := v1.Group("/contests")
	{
		contests.GET("/:id", h.Contests.GetContest)
		contests.POST("/:id/review", h.Contests.MoveToReview)
		contests.POST("/:id/resolve", h.Contests.ResolveContest)
		contests.POST("/:id/withdraw", h.Contests.WithdrawContest)
	}
}
