package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/fd-attendance/internal/api/handlers"
	"github.com/your-org/fd-attendance/internal/api/ws"
	"github.com/your-org/fd-attendance/internal/attendance"
	"github.com/your-org/fd-attendance/internal/auth"
	"github.com/your-org/fd-attendance/internal/enroll"
	"github.com/your-org/fd-attendance/internal/index"
	"github.com/your-org/fd-attendance/internal/photostore"
	"github.com/your-org/fd-attendance/internal/preview"
	"github.com/your-org/fd-attendance/internal/queue"
	"github.com/your-org/fd-attendance/internal/roster"
)

// RouterConfig collects every collaborator the HTTP layer fans requests
// out to. Route wiring itself is an external concern per spec §1; this
// file is the thin adapter the rest of the module plugs into.
type RouterConfig struct {
	APIKey   string
	Org      string
	Repo     roster.Repository
	Photos   *photostore.Store
	Index    *index.Index
	Enroller *enroll.Service
	Previews *preview.Cache
	Store    *attendance.Store
	Resolver *attendance.Resolver
	Producer *queue.Producer
	Hub      *ws.Hub

	// DB/underlying Postgres repo and producer for /readyz probes; may be
	// nil in tests, in which case system.go's Ping calls are skipped.
	DB *roster.PostgresRepository
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	handlers.SetProcessOrg(cfg.Org)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	systemH := handlers.NewSystemHandler(cfg.DB, cfg.Photos, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	v1.GET("/ws", cfg.Hub.HandleWS)

	identityH := handlers.NewIdentityHandler(cfg.Repo, cfg.Index, cfg.Photos, cfg.Enroller, cfg.Previews)
	v1.GET("/identities", identityH.List)
	v1.GET("/identities/:id", identityH.Get)
	v1.DELETE("/identities/:id", identityH.Delete)
	v1.POST("/identities/preview", identityH.Preview)
	v1.POST("/identities/enroll", identityH.Enroll)

	eventH := handlers.NewEventHandler(cfg.Repo, cfg.Store, cfg.Resolver)
	v1.GET("/events", eventH.List)
	v1.PATCH("/events/:id", eventH.Patch)
	v1.DELETE("/events/:id", eventH.Delete)
	v1.POST("/events/bulk_delete", eventH.BulkDelete)
	v1.GET("/events/daily", eventH.DailyRollup)

	return r
}
