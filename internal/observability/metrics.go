package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/arhunt/model"
)

// HuntCollector bundles Prometheus metrics for a hunt session and the
// surfaces that expose it (admin HTTP and gRPC health).
type HuntCollector struct {
	gatherer prometheus.Gatherer

	PlacementAttempts  *prometheus.CounterVec
	PlacementDurations *prometheus.HistogramVec
	PassDurations      *prometheus.HistogramVec
	PlacedObjects      prometheus.Gauge
	FrameState         prometheus.Gauge
	Discoveries        prometheus.Counter
	Removals           *prometheus.CounterVec
	VisibilityEntries  prometheus.Counter

	RPCRequests   *prometheus.CounterVec
	RPCDurations  *prometheus.HistogramVec
	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec
}

var latencyBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

// NewHuntCollector registers hunt metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewHuntCollector(reg prometheus.Registerer) (*HuntCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	attempts, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hunt_placement_attempts_total",
		Help: "Placement attempts, labeled by outcome.",
	}, []string{"outcome"}), "hunt_placement_attempts_total")
	if err != nil {
		return nil, err
	}
	placementDurations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hunt_placement_duration_seconds",
		Help:    "Time spent on a single placement attempt.",
		Buckets: latencyBuckets,
	}, []string{"outcome"}), "hunt_placement_duration_seconds")
	if err != nil {
		return nil, err
	}
	passDurations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hunt_pass_duration_seconds",
		Help:    "Duration of periodic session passes, labeled by pass.",
		Buckets: latencyBuckets,
	}, []string{"pass"}), "hunt_pass_duration_seconds")
	if err != nil {
		return nil, err
	}
	placed, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hunt_placed_objects",
		Help: "Objects currently placed in the scene.",
	}), "hunt_placed_objects")
	if err != nil {
		return nil, err
	}
	frameState, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hunt_frame_state",
		Help: "Coordinate frame state: 0 unset, 1 accurate, 2 degraded.",
	}), "hunt_frame_state")
	if err != nil {
		return nil, err
	}
	discoveries, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hunt_discoveries_total",
		Help: "Objects discovered by the player.",
	}), "hunt_discoveries_total")
	if err != nil {
		return nil, err
	}
	removals, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hunt_removals_total",
		Help: "Objects removed from the scene, labeled by reason.",
	}, []string{"reason"}), "hunt_removals_total")
	if err != nil {
		return nil, err
	}
	entries, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hunt_visibility_entries_total",
		Help: "Objects that entered the viewport for the first time.",
	}), "hunt_visibility_entries_total")
	if err != nil {
		return nil, err
	}

	rpcRequests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hunt_grpc_requests_total",
		Help: "Handled gRPC calls, labeled by service, method, and status code.",
	}, []string{"service", "method", "code"}), "hunt_grpc_requests_total")
	if err != nil {
		return nil, err
	}
	rpcDurations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hunt_grpc_request_duration_seconds",
		Help:    "gRPC latency in seconds.",
		Buckets: latencyBuckets,
	}, []string{"service", "method"}), "hunt_grpc_request_duration_seconds")
	if err != nil {
		return nil, err
	}
	httpRequests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hunt_http_requests_total",
		Help: "Handled admin HTTP requests, labeled by method, route, and status code.",
	}, []string{"method", "route", "code"}), "hunt_http_requests_total")
	if err != nil {
		return nil, err
	}
	httpDurations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hunt_http_request_duration_seconds",
		Help:    "Admin HTTP latency in seconds.",
		Buckets: latencyBuckets,
	}, []string{"method", "route"}), "hunt_http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &HuntCollector{
		gatherer:           gatherer,
		PlacementAttempts:  attempts,
		PlacementDurations: placementDurations,
		PassDurations:      passDurations,
		PlacedObjects:      placed,
		FrameState:         frameState,
		Discoveries:        discoveries,
		Removals:           removals,
		VisibilityEntries:  entries,
		RPCRequests:        rpcRequests,
		RPCDurations:       rpcDurations,
		HTTPRequests:       httpRequests,
		HTTPDurations:      httpDurations,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *HuntCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *HuntCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObservePlacement records one placement attempt.
func (c *HuntCollector) ObservePlacement(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.PlacementAttempts.WithLabelValues(outcome).Inc()
	c.PlacementDurations.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObservePass records the duration of a periodic pass such as "placement",
// "proximity" or "viewport".
func (c *HuntCollector) ObservePass(pass string, d time.Duration) {
	if c == nil {
		return
	}
	c.PassDurations.WithLabelValues(pass).Observe(d.Seconds())
}

// SetPlacedObjects updates the placed objects gauge.
func (c *HuntCollector) SetPlacedObjects(n int) {
	if c == nil {
		return
	}
	c.PlacedObjects.Set(float64(n))
}

// SetFrameState updates the frame state gauge.
func (c *HuntCollector) SetFrameState(s model.FrameState) {
	if c == nil {
		return
	}
	c.FrameState.Set(float64(s))
}

// IncDiscoveries counts one discovery.
func (c *HuntCollector) IncDiscoveries() {
	if c == nil {
		return
	}
	c.Discoveries.Inc()
}

// IncRemovals counts one removal.
func (c *HuntCollector) IncRemovals(reason string) {
	if c == nil {
		return
	}
	c.Removals.WithLabelValues(reason).Inc()
}

// AddVisibilityEntries counts objects that entered view.
func (c *HuntCollector) AddVisibilityEntries(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.VisibilityEntries.Add(float64(n))
}

// ObserveHTTP records one admin HTTP request.
func (c *HuntCollector) ObserveHTTP(method, route string, code int, d time.Duration) {
	if c == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	c.HTTPDurations.WithLabelValues(method, route).Observe(d.Seconds())
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *HuntCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		c.RPCRequests.WithLabelValues(service, method, code).Inc()
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		return resp, err
	}
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
