package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/jobbridge/internal/auth"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/contacts"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/courses"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/guard"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/hiring"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/issues"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/notifications"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/realtime"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const (
	identityContextKey       = "jobbridge_identity"
	defaultServiceName       = "jobbridge-api"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingUsersService     = errors.New("users service dependency required")
	errMissingHiringService    = errors.New("hiring service dependency required")
	errMissingNotifications    = errors.New("notifications service dependency required")
	errMissingCoursesService   = errors.New("courses service dependency required")
	errMissingIssuesService    = errors.New("issues service dependency required")
	errMissingContactsService  = errors.New("contacts service dependency required")
	errMissingDispatcher       = errors.New("realtime dispatcher dependency required")
)

// SessionValidator resolves the caller identity from a request.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// Dependencies lists everything the HTTP surface is wired to.
type Dependencies struct {
	SessionValidator  SessionValidator
	Users             *users.Service
	Hiring            *hiring.Service
	Notifications     *notifications.Service
	Courses           *courses.Service
	Issues            *issues.Service
	Contacts          *contacts.Service
	Dispatcher        *realtime.Dispatcher
	Guards            *guard.Registry
	MetricsGatherer   prometheus.Gatherer
	AllowedOrigins    []string
	ServiceName       string
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func (d Dependencies) validate() error {
	switch {
	case d.SessionValidator == nil:
		return errMissingSessionValidator
	case d.Users == nil:
		return errMissingUsersService
	case d.Hiring == nil:
		return errMissingHiringService
	case d.Notifications == nil:
		return errMissingNotifications
	case d.Courses == nil:
		return errMissingCoursesService
	case d.Issues == nil:
		return errMissingIssuesService
	case d.Contacts == nil:
		return errMissingContactsService
	case d.Dispatcher == nil:
		return errMissingDispatcher
	}
	return nil
}

// NewHTTPHandler builds the gin router serving the API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	serviceName := deps.ServiceName
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	origins := deps.AllowedOrigins

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(corsMiddleware(origins))

	handler := &httpHandler{
		sessions:      deps.SessionValidator,
		users:         deps.Users,
		hiring:        deps.Hiring,
		notifications: deps.Notifications,
		courses:       deps.Courses,
		issues:        deps.Issues,
		contacts:      deps.Contacts,
		dispatcher:    deps.Dispatcher,
		guards:        deps.Guards,
		heartbeat:     heartbeat,
		logger:        logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.MetricsGatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.MetricsGatherer, promhttp.HandlerOpts{})))
	}
	router.POST("/issues", handler.handleCreateIssue)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.POST("/jobs", handler.handleCreateJob)
	protected.GET("/jobs", handler.handleListJobs)
	protected.GET("/jobs/:id", handler.handleGetJob)
	protected.POST("/jobs/:id/apply", handler.handleApply)
	protected.POST("/jobs/:id/apply-students", handler.handleApplyStudents)
	protected.GET("/applications/mine", handler.handleListMyApplications)
	protected.POST("/applications/:id/decision", handler.handleDecide)
	protected.GET("/candidates", handler.handleListCandidates)
	protected.DELETE("/candidates/:id", handler.handleRemoveCandidate)
	protected.GET("/hiring-records", handler.handleListHiringRecords)

	protected.POST("/notifications", handler.handleSendNotification)
	protected.GET("/notifications", handler.handleListNotifications)
	protected.PATCH("/notifications/:id/read", handler.handleMarkNotificationRead)

	protected.GET("/courses", handler.handleListCourses)
	protected.GET("/institutes/:id/courses", handler.handleListInstituteCourses)
	protected.POST("/courses", handler.handleCreateCourse)
	protected.PUT("/courses/:id", handler.handleUpdateCourse)
	protected.DELETE("/courses/:id", handler.handleDeleteCourse)

	protected.GET("/issues", handler.handleListIssues)
	protected.POST("/issues/:id/resolve", handler.handleResolveIssue)

	protected.POST("/contacts", handler.handleRecordContact)
	protected.GET("/contacts", handler.handleListContacts)

	protected.POST("/users", handler.handleRegisterUser)
	protected.GET("/users/me", handler.handleGetMe)
	protected.PATCH("/users/:id/visibility", handler.handleSetVisibility)
	protected.PATCH("/users/:id/blocked", handler.handleSetBlocked)
	protected.POST("/students", handler.handlePutStudent)
	protected.GET("/students", handler.handleListStudents)

	protected.GET("/events/stream", handler.handleEventStream)

	return router, nil
}

type httpHandler struct {
	sessions      SessionValidator
	users         *users.Service
	hiring        *hiring.Service
	notifications *notifications.Service
	courses       *courses.Service
	issues        *issues.Service
	contacts      *contacts.Service
	dispatcher    *realtime.Dispatcher
	guards        *guard.Registry
	heartbeat     time.Duration
	logger        *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	missing := []string{}
	if h.guards != nil {
		if tables := h.guards.MissingTables(); len(tables) > 0 {
			missing = tables
		}
	}
	respondOK(c, http.StatusOK, "ok", gin.H{"missingTables": missing})
}

// corsMiddleware allows the configured origins. Credentials (the session
// cookie) are only allowed for an explicit origin list.
func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: !containsWildcard(origins),
		MaxAge:           12 * time.Hour,
	})
}

func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}
