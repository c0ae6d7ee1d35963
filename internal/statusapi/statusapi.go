// Package statusapi serves a minimal read-only health and stats surface
// over fasthttp: /healthz, /stats, /metrics, and pprof profiling
// endpoints. It exists only for operators, not pipeline clients, and
// carries no auth, RPC, or message-browsing surface.
package statusapi

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/pprofhandler"

	"github.com/cascadeflow/cascadeflow/internal/manager"
	"github.com/cascadeflow/cascadeflow/internal/telemetry"
)

// Server is a minimal fasthttp server exposing /healthz, /metrics, and
// /stats for one engine run.
type Server struct {
	projectName string
	mgr         *manager.Manager
	mtr         *telemetry.Metrics

	fast           *fasthttp.Server
	metricsHandler fasthttp.RequestHandler
}

// New constructs a Server reporting on mgr's state and mtr's metrics.
func New(projectName string, mgr *manager.Manager, mtr *telemetry.Metrics) *Server {
	s := &Server{
		projectName:    projectName,
		mgr:            mgr,
		mtr:            mtr,
		metricsHandler: fastHTTPHandler(promhttp.HandlerFor(mtr.Registry, promhttp.HandlerOpts{})),
	}
	s.fast = &fasthttp.Server{
		Handler:      s.route,
		Name:         "cascadeflow/" + projectName,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// ListenAndServe starts serving on addr, blocking until the listener
// errors or is closed.
func (s *Server) ListenAndServe(addr string) error {
	return s.fast.ListenAndServe(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.fast.Shutdown()
}

func (s *Server) route(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/healthz":
		s.handleHealthz(ctx)
	case "/stats":
		s.handleStats(ctx)
	case "/metrics":
		s.handleMetrics(ctx)
	default:
		if len(ctx.Path()) >= 13 && string(ctx.Path()[:13]) == "/debug/pprof/" {
			pprofhandler.PprofHandler(ctx)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		ctx.SetContentType("application/json")
		fmt.Fprint(ctx, `{"error":"not found"}`)
	}
}

func (s *Server) handleHealthz(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	body, _ := json.Marshal(map[string]string{
		"status":  "ok",
		"project": s.projectName,
	})
	ctx.Write(body)
}

func (s *Server) handleMetrics(ctx *fasthttp.RequestCtx) {
	s.metricsHandler(ctx)
}

func (s *Server) handleStats(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	body, _ := json.Marshal(s.mgr.Stats())
	ctx.Write(body)
}
