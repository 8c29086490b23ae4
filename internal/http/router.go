package api

import (
	"log"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	intconfig "ticketing/internal/config"
	h "ticketing/internal/http/handlers"
	"ticketing/internal/http/middleware"
)

func NewRouter(env intconfig.Env) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logger(), gin.Recovery(), middleware.CORS(env.CORSOrigins))

	if err := r.SetTrustedProxies(nil); err != nil {
		log.Printf("warning: failed to set trusted proxies: %v", err)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(stdhttp.StatusNotFound, gin.H{
			"error":  "route not found",
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.Auth(env.JWTSecret)
	validators := []gin.HandlerFunc{auth, middleware.RequireRoles("validator", "admin")}

	api := r.Group("/api")
	{
		api.GET("/health", h.Health)
		api.GET("/db-check", h.DBCheck)
		api.GET("/routes", h.Routes)

		tickets := api.Group("/tickets")
		tickets.POST("", h.IssueTicket)
		tickets.GET("/stats", h.TicketStats)
		tickets.GET("/:id", h.GetTicket)
		tickets.GET("/:id/e-ticket", h.GetTicketETicketPDF)
		tickets.GET("/:id/receipt", h.GetTicketReceiptPDF)
		tickets.POST("/:id/validate", append(validators, h.ValidateTicket)...)

		api.GET("/passengers/:id/tickets", h.ListPassengerTickets)
		api.GET("/trips/:id/tickets", h.ListTripTickets)

		api.POST("/payments/callback", h.PaymentCallback)

		admin := api.Group("/admin", auth, middleware.RequireRoles("admin"))
		admin.POST("/sweep", h.SweepExpired)
	}

	// legacy paths used by the web front-end
	legacy := r.Group("/ticketing")
	{
		legacy.POST("/tickets", h.IssueTicket)
		legacy.GET("/tickets/:id", h.GetTicket)
		legacy.GET("/stats", h.TicketStats)
		legacy.POST("/validate", append(validators, h.LegacyValidate)...)
	}

	h.SetRouter(r)
	return r
}
