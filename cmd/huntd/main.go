package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/arhunt/core"
	"github.com/signalsfoundry/arhunt/internal/api"
	"github.com/signalsfoundry/arhunt/internal/config"
	"github.com/signalsfoundry/arhunt/internal/events"
	"github.com/signalsfoundry/arhunt/internal/logging"
	"github.com/signalsfoundry/arhunt/internal/observability"
	"github.com/signalsfoundry/arhunt/internal/session"
	"github.com/signalsfoundry/arhunt/internal/store"
	"github.com/signalsfoundry/arhunt/timectrl"
)

// discoveryEffectDuration approximates the client-side discovery animation.
const discoveryEffectDuration = 1500 * time.Millisecond

func main() {
	configPath := flag.String("config", "", "Path to a JSON config file")
	envFile := flag.String("env-file", ".env", "Optional dotenv file with HUNT_* overrides")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		log.Error(ctx, "failed to load configuration", logging.Err(err))
		os.Exit(1)
	}

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.GRPCAddr), logging.Err(err))
		os.Exit(1)
	}
	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for HTTP", logging.String("addr", cfg.HTTPAddr), logging.Err(err))
		os.Exit(1)
	}

	stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(stopCtx, cfg, log, grpcLis, httpLis); err != nil {
		log.Error(ctx, "huntd exited", logging.Err(err))
		os.Exit(1)
	}
}

// run serves until ctx is cancelled. It owns both listeners.
func run(ctx context.Context, cfg config.Config, log logging.Logger, grpcLis, httpLis net.Listener) error {
	ctx, log = logging.WithSessionLogger(ctx, log)
	shutdownTracing, err := observability.InitTracing(ctx, cfg.TracingConfig(), log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewHuntCollector(nil)
	if err != nil {
		return err
	}
	metricsSrv := serveMetrics(cfg.MetricsAddr, collector, log)

	st, err := store.Open(ctx, cfg.DBPath, log)
	if err != nil {
		return err
	}
	defer st.Close()

	bus := events.NewBus()
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	// GPS placement needs an origin; report NOT_SERVING until one exists.
	unsubscribe := bus.Subscribe(func(e events.Event) {
		fc, ok := e.(events.FrameChanged)
		if !ok {
			return
		}
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if fc.Frame.HasOrigin {
			status = healthpb.HealthCheckResponse_SERVING
		}
		healthSrv.SetServingStatus("", status)
	})
	defer unsubscribe()

	sess := session.New(sessionConfig(cfg), session.Deps{
		Surface:  core.NoSurface{},
		Renderer: core.NewRecordingRenderer(),
		Effect:   core.DelayedEffect{Duration: discoveryEffectDuration},
		Source:   st,
		Bus:      bus,
		Metrics:  collector,
		Log:      log,
	})

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(collector.UnaryServerInterceptor()),
	)
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	router := api.NewRouter(api.NewHandler(sess, log), collector, api.WithMetricsEndpoint(collector.Handler()))
	httpSrv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error(ctx, "session exited", logging.Err(err))
		}
	}()
	go func() {
		defer wg.Done()
		log.Info(ctx, "starting gRPC health server", logging.String("addr", grpcLis.Addr().String()))
		if err := grpcServer.Serve(grpcLis); err != nil {
			log.Error(ctx, "gRPC server exited", logging.Err(err))
		}
	}()
	go func() {
		defer wg.Done()
		log.Info(ctx, "starting HTTP API", logging.String("addr", httpLis.Addr().String()))
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "HTTP server exited", logging.Err(err))
		}
	}()

	tc := timectrl.NewTimeController(time.Now(), cfg.TickInterval.Std(), timectrl.RealTime)
	tc.AddListener(func(now time.Time) { sess.PostTick(now) })
	stopTicks := make(chan struct{})
	ticksDone := tc.Start(0, stopTicks)

	<-ctx.Done()
	log.Info(context.Background(), "shutting down huntd")
	close(stopTicks)
	<-ticksDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	wg.Wait()
	return nil
}

func sessionConfig(cfg config.Config) session.Config {
	sc := session.DefaultConfig()
	sc.Origin = cfg.OriginConfig()
	sc.Placement = cfg.PlacementConfig()
	sc.Visibility = cfg.VisibilityConfig()
	sc.SweepInterval = cfg.SweepInterval.Std()
	sc.ReloadInterval = cfg.ReloadInterval.Std()
	sc.SweepGrace = cfg.SweepGrace.Std()
	sc.CandidateRadius = cfg.CandidateRadius
	return sc
}

func serveMetrics(addr string, collector *observability.HuntCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
