package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/previsora/internal/autodebit"
	"github.com/smallbiznis/previsora/internal/config"
	"github.com/smallbiznis/previsora/internal/debt"
	memberdomain "github.com/smallbiznis/previsora/internal/member/domain"
	paymentservice "github.com/smallbiznis/previsora/internal/payment/service"
	pricingdomain "github.com/smallbiznis/previsora/internal/pricing/domain"
	"github.com/smallbiznis/previsora/internal/pricing/recompute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogMiddleware(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
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
	engine       *gin.Engine
	cfg          config.Config
	genID        *snowflake.Node
	memberRepo   memberdomain.Repository
	debtEngine   *debt.Engine
	paymentSvc   *paymentservice.Service
	pricingRules pricingdomain.Provider
	recomputeSvc *recompute.Service
	importer     *autodebit.Importer
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	GenID        *snowflake.Node
	MemberRepo   memberdomain.Repository
	DebtEngine   *debt.Engine
	PaymentSvc   *paymentservice.Service
	PricingRules pricingdomain.Provider
	RecomputeSvc *recompute.Service
	Importer     *autodebit.Importer
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		genID:        p.GenID,
		memberRepo:   p.MemberRepo,
		debtEngine:   p.DebtEngine,
		paymentSvc:   p.PaymentSvc,
		pricingRules: p.PricingRules,
		recomputeSvc: p.RecomputeSvc,
		importer:     p.Importer,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/payments", s.PostPayment)
	v1.POST("/payments/:id/reverse", s.ReversePayment)
	v1.GET("/members/:id/statement", s.GetMemberStatement)
	v1.POST("/groups/:id/recompute", s.RecomputeGroup)
	v1.POST("/groups/recompute", s.RecomputeAllGroups)
	v1.GET("/pricing/rules", s.GetPricingRules)
	v1.PUT("/pricing/rules", s.UpdatePricingRules)
	v1.POST("/autodebit/import", s.ImportAutoDebit)
}
