package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/echocrafter/internal/engine"
	"github.com/MrWong99/echocrafter/internal/health"
	"github.com/MrWong99/echocrafter/internal/observe"
	"github.com/MrWong99/echocrafter/internal/orchestrator"
	"github.com/MrWong99/echocrafter/internal/resilience"
)

// shutdownTimeout bounds the graceful stop of the admin server.
const shutdownTimeout = 5 * time.Second

// Status is the /statez snapshot.
type Status struct {
	State        string                     `json:"state"`
	Stats        orchestrator.Stats         `json:"stats"`
	Engines      map[string]string          `json:"engines"`
	Transcribers []resilience.BackendStatus `json:"transcribers,omitempty"`
	LLMs         []resilience.BackendStatus `json:"llms,omitempty"`
}

// Status returns a point-in-time snapshot of the pipeline.
func (a *App) Status() Status {
	st := a.orch.Stats()
	s := Status{
		State: st.State.String(),
		Stats: st,
		Engines: map[string]string{
			string(engine.KindVAD):         a.engines.Name(engine.KindVAD),
			string(engine.KindTranscriber): a.engines.Name(engine.KindTranscriber),
			string(engine.KindWakeWord):    a.engines.Name(engine.KindWakeWord),
			string(engine.KindIntent):      a.engines.Name(engine.KindIntent),
		},
	}
	if a.transcribers != nil {
		s.Transcribers = a.transcribers.Status()
	}
	if a.llms != nil {
		s.LLMs = a.llms.Status()
	}
	return s
}

// Handler returns the admin HTTP handler: probes, /statez and /metrics,
// wrapped in the observe middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	health.New(func() any { return a.Status() }, a.checkers()...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(a.metrics, "/healthz", "/readyz", "/statez", "/metrics")(mux)
}

func (a *App) initAdmin() {
	if a.cfg.Server.AdminAddr == "" {
		return
	}
	a.admin = &http.Server{
		Addr:              a.cfg.Server.AdminAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// checkers reports the capture stream and every failover group as
// readiness checks.
func (a *App) checkers() []health.Checker {
	checks := []health.Checker{{
		Name: "capture",
		Check: func(context.Context) error {
			if a.ring.Closed() {
				return errors.New("frame stream closed")
			}
			return nil
		},
	}}
	if a.nats != nil {
		checks = append(checks, health.Checker{
			Name: "nats",
			Check: func(context.Context) error {
				if !a.nats.Healthy() {
					return errors.New("not connected")
				}
				return nil
			},
		})
	}
	if a.transcribers != nil {
		checks = append(checks, health.Checker{
			Name:  "transcriber",
			Check: func(context.Context) error { return anyAvailable(a.transcribers.Status()) },
		})
	}
	if a.llms != nil {
		checks = append(checks, health.Checker{
			Name:  "llm",
			Check: func(context.Context) error { return anyAvailable(a.llms.Status()) },
		})
	}
	return checks
}

// anyAvailable fails when every backend's breaker is open.
func anyAvailable(backends []resilience.BackendStatus) error {
	for _, b := range backends {
		if b.State != resilience.StateOpen.String() {
			return nil
		}
	}
	return fmt.Errorf("all %d backends open", len(backends))
}

// serveAdmin runs the admin server until ctx is done.
func (a *App) serveAdmin(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.admin.Addr)
	if err != nil {
		return fmt.Errorf("app: admin listen: %w", err)
	}
	a.log.Info("admin server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- a.admin.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: admin server: %w", err)
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.admin.Shutdown(sctx)
	}
}
