package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Manual triggers are limited to a short burst, then one per triggerInterval.
const (
	triggerInterval = time.Second
	triggerBurst    = 5
)

var (
	initOnce    sync.Once
	serverMutex sync.Mutex
	currentSrv  *http.Server

	healthMutex sync.RWMutex
	healthCheck func() error
)

// Init initializes all metrics subsystems and registers them with Prometheus.
// Safe to call multiple times.
func Init() {
	initOnce.Do(func() {
		initPurgeMetrics()
		initDaemonMetrics()

		registerPurgeMetrics()
		registerDaemonMetrics()

		// Make the gauges visible in /metrics before the first run.
		LastRunTimestamp.Set(0)
		LastRunCleared.Set(0)
	})
}

// SetHealthCheck installs the function consulted by /health. nil means always healthy.
func SetHealthCheck(check func() error) {
	healthMutex.Lock()
	defer healthMutex.Unlock()
	healthCheck = check
}

type healthResponse struct {
	Status  string `json:"status"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Handler serves /metrics, /health and /trigger. A POST to /trigger makes a
// non-blocking send on trigger; a nil trigger disables the endpoint.
func Handler(trigger chan<- struct{}) http.Handler {
	return newHandler(trigger, rate.NewLimiter(rate.Every(triggerInterval), triggerBurst))
}

func newHandler(trigger chan<- struct{}, limiter *rate.Limiter) http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/trigger", func(w http.ResponseWriter, _ *http.Request) {
		if trigger == nil {
			http.Error(w, "Trigger not available", http.StatusServiceUnavailable)
			return
		}
		if !limiter.Allow() {
			http.Error(w, "Too many trigger requests", http.StatusTooManyRequests)
			return
		}
		select {
		case trigger <- struct{}{}:
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte("Purge triggered\n"))
		default:
			http.Error(w, "A purge is already pending", http.StatusConflict)
		}
	}).Methods(http.MethodPost)

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	healthMutex.RLock()
	check := healthCheck
	healthMutex.RUnlock()

	resp := healthResponse{Status: "ok", Healthy: true}
	code := http.StatusOK
	if check != nil {
		if err := check(); err != nil {
			resp = healthResponse{Status: "degraded", Healthy: false, Error: err.Error()}
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// StartServer starts the metrics HTTP server on addr in the background.
func StartServer(addr string, trigger chan<- struct{}, logger zerolog.Logger) {
	serverMutex.Lock()
	defer serverMutex.Unlock()

	if currentSrv != nil {
		logger.Warn().Str("addr", currentSrv.Addr).Msg("metrics server already running")
		return
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(trigger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	currentSrv = srv

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server error")
			ErrorsTotal.Inc()
		}
	}()
}

// Shutdown gracefully shuts down the metrics server
func Shutdown(ctx context.Context, logger zerolog.Logger) {
	serverMutex.Lock()
	defer serverMutex.Unlock()

	if currentSrv == nil {
		return
	}
	if err := currentSrv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
		ErrorsTotal.Inc()
	}
	currentSrv = nil
}
