package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rangeview/internal/core/domain"
	"rangeview/internal/core/ports"
	"rangeview/internal/core/services"
	httphandlers "rangeview/internal/handlers/http"
	"rangeview/internal/infrastructure/links"
	"rangeview/internal/infrastructure/middleware"
	"rangeview/internal/infrastructure/monitoring"
	"rangeview/pkg/auth"
	"rangeview/pkg/config"
	apperrors "rangeview/pkg/errors"
	"rangeview/pkg/logger"
	"rangeview/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "viewer",
	Short: "Live archery range viewer",
	Long: `viewer opens one session per configured view: video over WebRTC from the
range cameras, plus the detector's target polygon and arrow hits drawn on
top. Views can be switched and resized through the HTTP control surface.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to the YAML configuration")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "override logging.level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	if !cfg.HasRelay() {
		log.Warn("no TURN relay configured; viewers behind symmetric NAT will not connect")
	}

	var metrics ports.SessionMetrics = monitoring.NopMetrics{}
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	}
	tokens := auth.NewTokenSource(cfg.Auth.TokenSecret, cfg.Auth.TokenTTL, cfg.Auth.Subject)

	deps := services.SessionDeps{Metrics: metrics, Logger: zapLogger}

	factory, err := links.NewFactory(cfg, tokens, deps.Metrics, zapLogger)
	if err != nil {
		return err
	}
	deps.Links = factory
	deps.Corners = factory.Corners()

	views := services.NewViewService(services.SessionConfig{
		Debounce:     cfg.Viewport.Debounce,
		HitLifetime:  cfg.Overlay.HitLifetime,
		PollCorners:  cfg.Geometry.Source == config.GeometrySourcePoll,
		PollInterval: cfg.Geometry.PollInterval,
		PollPolicy:   cfg.Signaling.Reconnect.Policy(),
		TargetWidth:  cfg.Geometry.TargetWidth,
		TargetHeight: cfg.Geometry.TargetHeight,
	}, deps)
	defer views.Close()

	for _, vc := range cfg.Views {
		view := views.Mount(domain.ViewID(vc.ID))
		if vc.Width > 0 && vc.Height > 0 {
			if err := view.Resize(domain.ViewportBox{Width: vc.Width, Height: vc.Height}); err != nil {
				log.Warnw("ignoring configured view size", "view_id", vc.ID, "error", err)
			}
		}
		if vc.Camera == "" {
			continue
		}
		if err := view.Navigate(domain.CameraID(vc.Camera)); err != nil {
			return fmt.Errorf("view %s: %w", vc.ID, err)
		}
	}

	health := monitoring.NewHealthChecker()
	health.AddCheck("views", func(context.Context) error {
		if !views.SystemOnline() {
			return errors.New("not every view is online")
		}
		return nil
	}, false, 0)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log),
	)
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	handler := httphandlers.NewViewHandler(views, health)
	router.GET("/healthz", handler.Health)
	api := router.Group("/")
	api.Use(middleware.AuthMiddleware(tokens))
	handler.SetupViewRoutes(api)
	router.NoRoute(func(c *gin.Context) {
		_ = c.Error(apperrors.NewNotFoundError("route"))
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infow("control surface listening", "address", cfg.Server.Address, "views", len(cfg.Views))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down viewer")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("error during server shutdown", "error", err)
			_ = srv.Close()
		}
		views.Close()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warnw("error flushing traces", "error", err)
		}
		return nil
	})

	start := time.Now()
	err = g.Wait()
	log.Infow("viewer stopped", "uptime", time.Since(start).String(), "error", err)
	return err
}
