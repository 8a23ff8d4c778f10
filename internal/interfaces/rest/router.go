package rest

import (
	"fmt"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/nexuscrm/mycrm/internal/application/services"
	"github.com/nexuscrm/mycrm/internal/config"
	"github.com/nexuscrm/mycrm/internal/infrastructure/metrics"
	"github.com/nexuscrm/mycrm/internal/infrastructure/ratelimit"
	"github.com/nexuscrm/mycrm/internal/infrastructure/ws"
	"github.com/nexuscrm/mycrm/internal/interfaces/middleware"
	"github.com/nexuscrm/mycrm/pkg/constants"
	appErrors "github.com/nexuscrm/mycrm/pkg/errors"
	"github.com/nexuscrm/mycrm/pkg/versioning"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

// RouterDeps are the collaborators of the HTTP surface. Limiter is only
// required when rate limiting is enabled.
type RouterDeps struct {
	Config   *config.Config
	Services *services.ServiceManager
	Hub      *ws.Hub
	Limiter  ratelimit.Limiter
	Checks   []ReadinessCheck
	Logger   *zap.Logger
}

type throttles struct {
	anon, user, auth, bulk gin.HandlerFunc
}

func passThrough(c *gin.Context) { c.Next() }

func newThrottles(cfg config.RateLimitConfig, limiter ratelimit.Limiter, logger *zap.Logger) (*throttles, error) {
	t := &throttles{anon: passThrough, user: passThrough, auth: passThrough, bulk: passThrough}
	if !cfg.Enabled {
		return t, nil
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiting is enabled but no limiter was provided")
	}
	for _, s := range []struct {
		scope string
		rate  string
		key   middleware.KeyFunc
		dst   *gin.HandlerFunc
	}{
		{middleware.ScopeAnon, cfg.Anon, middleware.ByIP, &t.anon},
		{middleware.ScopeUser, cfg.User, middleware.ByUser, &t.user},
		{middleware.ScopeAuth, cfg.Auth, middleware.ByIP, &t.auth},
		{middleware.ScopeBulk, cfg.Bulk, middleware.ByUser, &t.bulk},
	} {
		rate, err := ratelimit.ParseRate(s.rate)
		if err != nil {
			return nil, fmt.Errorf("ratelimit.%s: %w", s.scope, err)
		}
		*s.dst = middleware.Throttle(limiter, s.scope, rate, s.key, logger)
	}
	return t, nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AllowHeaders = append(cfg.AllowHeaders, constants.HeaderAuthorization, constants.HeaderXRequestID, constants.HeaderAPIVersion)
	cfg.ExposeHeaders = []string{
		constants.HeaderXRequestID, constants.HeaderAPIVersion,
		constants.HeaderQueryCount, constants.HeaderQueryTimeMs,
		constants.HeaderRateLimit, constants.HeaderRateRemaining, constants.HeaderRetryAfter,
		"Content-Disposition",
	}
	cfg.MaxAge = 12 * time.Hour
	return cfg
}

// NewRouter builds the gin engine serving the whole HTTP API.
func NewRouter(deps RouterDeps) (*gin.Engine, error) {
	cfg, svcMgr, logger := deps.Config, deps.Services, deps.Logger
	limits, err := newThrottles(cfg.RateLimit, deps.Limiter, logger)
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(cors.New(corsConfig(cfg.Server.CORSOrigins)))
	router.Use(middleware.RequestID())
	router.Use(metrics.Middleware())
	router.Use(middleware.Profiler(cfg.Profiler, logger))
	router.Use(PublicURL(cfg.Server.PublicURL))

	registry := svcMgr.Registry()
	system := NewSystemHandler(registry, cfg.Server.PublicURL, deps.Checks)
	authHandler := NewAuthHandler(svcMgr)
	userHandler := NewUserHandler(svcMgr)
	recordHandler := NewRecordHandler(svcMgr)
	customFieldHandler := NewCustomFieldHandler(svcMgr)
	auditHandler := NewAuditHandler(svcMgr)
	analyticsHandler := NewAnalyticsHandler(svcMgr)
	dashboardHandler := NewDashboardHandler(svcMgr)
	notificationHandler := NewNotificationHandler(svcMgr, deps.Hub)

	requireAuth := middleware.RequireAuth(svcMgr.Auth)
	requireAdmin := middleware.RequireAdmin()

	router.GET("/health", system.Health)
	router.GET("/ready", system.Ready)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/api/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL(constants.APIPrefix+"/schema")))

	api := router.Group(constants.APIPrefix)
	api.Use(versioning.Middleware())
	{
		api.GET("/schema", limits.anon, system.Schema)

		// Public auth routes
		auth := api.Group("/auth")
		{
			auth.POST("/signup", limits.auth, authHandler.Signup)
			auth.POST("/login", limits.auth, authHandler.Login)
			auth.POST("/refresh", limits.auth, authHandler.Refresh)
			auth.POST("/logout", requireAuth, limits.user, authHandler.Logout)
			auth.GET("/me", requireAuth, limits.user, authHandler.Me)
			auth.POST("/change-password", requireAuth, limits.auth, authHandler.ChangePassword)
		}

		// The browser WebSocket API cannot send headers, so the live channel
		// authenticates with a query token.
		api.GET("/ws/notifications", middleware.RequireAuthQuery(svcMgr.Auth), notificationHandler.Stream)

		protected := api.Group("")
		protected.Use(requireAuth, limits.user)
		{
			users := protected.Group("/users", requireAdmin)
			{
				users.GET("", userHandler.ListUsers)
				users.POST("", userHandler.CreateUser)
				users.PATCH("/:id", userHandler.UpdateUser)
				users.DELETE("/:id", userHandler.DeactivateUser)
			}

			customFields := protected.Group("/custom-fields")
			{
				customFields.GET("", customFieldHandler.List)
				customFields.POST("", requireAdmin, customFieldHandler.Define)
				customFields.DELETE("/:id", requireAdmin, customFieldHandler.Delete)
			}

			protected.GET("/audit", auditHandler.List)

			analytics := protected.Group("/analytics")
			{
				analytics.POST("/aggregate", analyticsHandler.Aggregate)
				analytics.GET("/pipeline", analyticsHandler.Pipeline)
				analytics.GET("/lead-conversion", analyticsHandler.LeadConversion)
				analytics.GET("/task-completion", analyticsHandler.TaskCompletion)
				analytics.POST("/sql", requireAdmin, analyticsHandler.RunSQL)
			}

			dashboard := protected.Group("/dashboard")
			{
				dashboard.GET("/overview", dashboardHandler.Overview)
				dashboard.GET("/widgets", dashboardHandler.ListWidgets)
				dashboard.POST("/widgets", dashboardHandler.CreateWidget)
				dashboard.GET("/widgets/:id", dashboardHandler.GetWidget)
				dashboard.PUT("/widgets/:id", dashboardHandler.UpdateWidget)
				dashboard.DELETE("/widgets/:id", dashboardHandler.DeleteWidget)
				dashboard.GET("/widgets/:id/data", dashboardHandler.WidgetData)
			}

			notifications := protected.Group("/notifications")
			{
				notifications.GET("", notificationHandler.List)
				notifications.GET("/unread-count", notificationHandler.UnreadCount)
				notifications.POST("/read-all", notificationHandler.MarkAllRead)
				notifications.POST("/:id/read", notificationHandler.MarkRead)
			}

			for _, def := range registry.All() {
				group := protected.Group("/" + def.Name)
				group.GET("", recordHandler.List(def))
				group.POST("", recordHandler.Create(def))
				group.GET("/export", recordHandler.Export(def))
				group.POST("/bulk", limits.bulk, recordHandler.BulkCreate(def))
				group.POST("/bulk-update", limits.bulk, recordHandler.BulkUpdate(def))
				group.POST("/bulk-delete", limits.bulk, recordHandler.BulkDelete(def))
				group.GET("/:id", recordHandler.Get(def))
				group.PUT("/:id", recordHandler.Update(def, false))
				group.PATCH("/:id", recordHandler.Update(def, true))
				group.DELETE("/:id", recordHandler.Delete(def))
				group.GET("/:id/history", recordHandler.History(def))

				switch def.Name {
				case constants.EntityLeads:
					group.POST("/:id/convert", recordHandler.ConvertLead)
				case constants.EntityOpportunities:
					group.POST("/:id/close", recordHandler.CloseOpportunity)
				case constants.EntityTasks:
					group.POST("/:id/complete", recordHandler.CompleteTask)
				}
			}
		}
	}

	router.NoRoute(func(c *gin.Context) {
		RespondAppError(c, appErrors.NewNotFoundError("route "+c.Request.URL.Path, ""))
	})
	return router, nil
}
