package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/vervex/internal/audit"
	auditdomain "github.com/smallbiznis/vervex/internal/audit/domain"
	"github.com/smallbiznis/vervex/internal/authorization"
	"github.com/smallbiznis/vervex/internal/codegen"
	"github.com/smallbiznis/vervex/internal/coderequest"
	coderequestdomain "github.com/smallbiznis/vervex/internal/coderequest/domain"
	"github.com/smallbiznis/vervex/internal/commission"
	"github.com/smallbiznis/vervex/internal/config"
	"github.com/smallbiznis/vervex/internal/identity"
	identitydomain "github.com/smallbiznis/vervex/internal/identity/domain"
	"github.com/smallbiznis/vervex/internal/invitation"
	invitationdomain "github.com/smallbiznis/vervex/internal/invitation/domain"
	"github.com/smallbiznis/vervex/internal/ledger"
	ledgerdomain "github.com/smallbiznis/vervex/internal/ledger/domain"
	"github.com/smallbiznis/vervex/internal/member"
	memberdomain "github.com/smallbiznis/vervex/internal/member/domain"
	"github.com/smallbiznis/vervex/internal/notification"
	"github.com/smallbiznis/vervex/internal/observability"
	obsmiddleware "github.com/smallbiznis/vervex/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/vervex/internal/observability/metrics"
	obstracing "github.com/smallbiznis/vervex/internal/observability/tracing"
	"github.com/smallbiznis/vervex/internal/pricing"
	"github.com/smallbiznis/vervex/internal/providers/email"
	"github.com/smallbiznis/vervex/internal/providers/pdf"
	"github.com/smallbiznis/vervex/internal/ratelimit"
	"github.com/smallbiznis/vervex/internal/registration"
	registrationdomain "github.com/smallbiznis/vervex/internal/registration/domain"
	"github.com/smallbiznis/vervex/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	identity.Module,
	member.Module,
	codegen.Module,
	coderequest.Module,
	ledger.Module,
	commission.Module,
	email.Module,
	pdf.Module,
	notification.Module,
	ratelimit.Module,
	registration.Module,
	invitation.Module,
	seed.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// NewEngine builds the gin engine with the request middleware chain.
func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	pricing         pricing.Source
	identity        identitydomain.Provider
	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	memberSvc       memberdomain.Service
	codeRequestSvc  coderequestdomain.Service
	ledgerSvc       ledgerdomain.Service
	registrationSvc registrationdomain.Service
	invitationSvc   invitationdomain.Service
	notifier        *notification.Service
	pdf             pdf.Provider
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	Pricing         pricing.Source
	Identity        identitydomain.Provider
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service
	MemberSvc       memberdomain.Service
	CodeRequestSvc  coderequestdomain.Service
	LedgerSvc       ledgerdomain.Service
	RegistrationSvc registrationdomain.Service
	InvitationSvc   invitationdomain.Service
	Notifier        *notification.Service
	PDF             pdf.Provider
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http"),
		pricing:         p.Pricing,
		identity:        p.Identity,
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		memberSvc:       p.MemberSvc,
		codeRequestSvc:  p.CodeRequestSvc,
		ledgerSvc:       p.LedgerSvc,
		registrationSvc: p.RegistrationSvc,
		invitationSvc:   p.InvitationSvc,
		notifier:        p.Notifier,
		pdf:             p.PDF,
	}

	svc.registerPublicRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerPublicRoutes() {
	api := s.engine.Group("/api")

	api.POST("/auth/login", s.Login)
	api.GET("/auth/verify", s.VerifyEmail)
	api.GET("/pricing", s.GetPricing)

	api.POST("/invitations/accept", s.AcceptInvitation)
	api.POST("/invitations/decline", s.DeclineInvitation)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.AuthRequired())

	api.GET("/me", s.Me)
	api.GET("/me/transactions", s.ListMyTransactions)
	api.GET("/me/downline", s.ListMyDownline)

	// -------- Code Requests --------
	api.POST("/code-requests", s.CreateCodeRequest)
	api.GET("/code-requests", s.ListMyCodeRequests)
	api.GET("/code-requests/:id", s.GetCodeRequest)
	api.POST("/code-requests/:id/receipt", s.AttachReceipt)
	api.POST("/code-requests/:id/cancel", s.CancelCodeRequest)
	api.GET("/code-requests/:id/voucher", s.DownloadVoucher)

	// -------- Registration --------
	api.POST("/register-from-code", s.RegisterFromCode)
	api.POST("/members/:id/resend-verification", s.ResendVerification)

	// -------- Invitations --------
	api.POST("/invitations", s.CreateInvitation)
	api.GET("/invitations", s.ListMyInvitations)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/api/admin", s.AuthRequired())

	// -------- Code Requests --------
	admin.GET("/code-requests", s.ListCodeRequestQueue)
	admin.GET("/code-requests/:id/suggested-code", s.SuggestCode)
	admin.POST("/code-requests/:id/generate", s.GenerateCode)
	admin.POST("/code-requests/:id/reject", s.RejectCodeRequest)

	// -------- Users --------
	admin.GET("/users", s.ListUsers)
	admin.POST("/users", s.CreateUser)
	admin.DELETE("/users/:id", s.DeleteUser)
	admin.PATCH("/users/:id/role", s.ChangeUserRole)
	admin.PATCH("/users/:id/status", s.SetUserStatus)

	admin.GET("/audit-logs", s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
