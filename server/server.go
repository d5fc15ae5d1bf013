// Package server implements the chain-query HTTP surface named in
// SPEC_FULL.md §6: a minimal gorilla/mux handler exposing
// getPatchChainToCurrent for downloaders, plus the teacher's standard
// ambient endpoints (/debug/health, /metrics, an access log, panic
// recovery), adapted from registry/registry.go's NewRegistry/ListenAndServe
// without the TLS/ACME/H2C machinery a network-facing image registry
// carries but a single-purpose query surface does not.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/go-metrics"
	gorhandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/packagepatch/patchmaker/configuration"
	"github.com/packagepatch/patchmaker/health"
	"github.com/packagepatch/patchmaker/health/checks"
	"github.com/packagepatch/patchmaker/internal/dcontext"
	"github.com/packagepatch/patchmaker/tracing"
)

const defaultLogFormatter = "text"

// Server serves chain queries over an install tree fixed at construction.
type Server struct {
	config *configuration.Configuration
	router *mux.Router
	http   *http.Server
	quit   chan os.Signal
}

// New builds a Server wired for the install directory and endpoints named
// in config. The returned context carries the configured logger.
func New(ctx context.Context, config *configuration.Configuration) (context.Context, *Server, error) {
	ctx, err := configureLogging(ctx, config)
	if err != nil {
		return ctx, nil, fmt.Errorf("server: configuring logger: %w", err)
	}

	s := &Server{
		config: config,
		router: mux.NewRouter().StrictSlash(true),
		quit:   make(chan os.Signal, 1),
	}
	s.registerHealthChecks()
	s.routes(config.HTTP.Prefix)

	var handler http.Handler = s.router
	handler = alive(joinPrefix(config.HTTP.Prefix, "/"), handler)
	handler = health.Handler(handler)
	handler = staticHeaders(config.HTTP.Headers, handler)
	handler = panicHandler(handler)
	handler = tracingHandler(handler)
	handler = gorhandlers.CombinedLoggingHandler(os.Stdout, handler)

	s.http = &http.Server{Handler: handler}

	if config.Metrics.Enabled {
		configureMetrics(config)
	}

	return ctx, s, nil
}

func joinPrefix(prefix, path string) string {
	if prefix == "" {
		return path
	}
	return prefix + path
}

// routes wires getPatchChainToCurrent, the one runtime query named in
// spec.md §6 as used by the downloader.
func (s *Server) routes(prefix string) {
	r := s.router
	if prefix != "" {
		r = r.PathPrefix(prefix).Subrouter()
	}
	r.HandleFunc("/v1/chain", s.handleChain).Methods(http.MethodGet)
}

func (s *Server) registerHealthChecks() {
	if s.config.Health.InstallDirChecker.Enabled {
		threshold := s.config.Health.InstallDirChecker.Threshold
		updater := health.NewThresholdStatusUpdater(threshold)
		health.Register("installdir", updater)
		go health.Poll(dcontext.Background(), updater, checks.InstallDirChecker(s.config.InstallDir), time.Second*10)
	}

	for _, fc := range s.config.Health.FileCheckers {
		interval := fc.Interval
		if interval == 0 {
			interval = time.Second * 10
		}
		updater := health.NewThresholdStatusUpdater(fc.Threshold)
		health.Register(fmt.Sprintf("file_%s", fc.File), updater)
		go health.Poll(dcontext.Background(), updater, checks.FileChecker(fc.File), interval)
	}

	for _, hc := range s.config.Health.HTTPCheckers {
		interval := hc.Interval
		if interval == 0 {
			interval = time.Second * 10
		}
		updater := health.NewThresholdStatusUpdater(hc.Threshold)
		health.Register(fmt.Sprintf("http_%s", hc.URI), updater)
		go health.Poll(dcontext.Background(), updater, checks.HTTPChecker(hc.URI, hc.StatusCode, hc.Timeout, hc.Headers), interval)
	}

	for _, tc := range s.config.Health.TCPCheckers {
		interval := tc.Interval
		if interval == 0 {
			interval = time.Second * 10
		}
		updater := health.NewThresholdStatusUpdater(tc.Threshold)
		health.Register(fmt.Sprintf("tcp_%s", tc.Addr), updater)
		go health.Poll(dcontext.Background(), updater, checks.TCPChecker(tc.Addr, tc.Timeout), interval)
	}
}

func configureMetrics(config *configuration.Configuration) {
	addr := config.Metrics.Addr
	if addr == "" {
		addr = config.HTTP.Addr
	}
	logrus.Infof("providing metrics on %s/metrics", addr)
	http.Handle("/metrics", metrics.Handler())
}

// ListenAndServe runs the query server until an error occurs or, if
// DrainTimeout is set, until a stop signal triggers a graceful drain.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen(orDefault(s.config.HTTP.Net, "tcp"), s.config.HTTP.Addr)
	if err != nil {
		return err
	}

	logrus.Infof("patchmaker query server listening on %v", ln.Addr())

	if s.config.HTTP.DrainTimeout == 0 {
		return s.http.Serve(ln)
	}

	signal.Notify(s.quit, os.Interrupt, syscall.SIGTERM)
	serveErr := make(chan error, 1)
	go func() { serveErr <- s.http.Serve(ln) }()

	select {
	case err := <-serveErr:
		return err
	case <-s.quit:
		logrus.Infof("draining connections for %v", s.config.HTTP.DrainTimeout)
		c, cancel := context.WithTimeout(context.Background(), s.config.HTTP.DrainTimeout)
		defer cancel()
		return s.http.Shutdown(c)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func tracingHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		span, ctx := tracing.StartSpan(r.Context(), "server."+r.Method+" "+r.URL.Path)
		defer tracing.StopSpan(span)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// panicHandler recovers a panicking handler and logs it, rather than
// crashing the whole process on one bad request.
func panicHandler(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logrus.Errorf("panic handling %s %s: %v", r.Method, r.URL.Path, err)
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()
		handler.ServeHTTP(w, r)
	})
}

// staticHeaders adds every configured header to each response before
// handler runs, per Configuration.HTTP.Headers.
func staticHeaders(headers http.Header, handler http.Handler) http.Handler {
	if len(headers) == 0 {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, vs := range headers {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		handler.ServeHTTP(w, r)
	})
}

// alive wraps handler with a route that always returns 200, without
// reaching the health-gated handler beneath it.
func alive(path string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == path {
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

func configureLogging(ctx context.Context, config *configuration.Configuration) (context.Context, error) {
	logrus.SetLevel(logLevel(config.Log.Level))
	logrus.SetReportCaller(config.Log.ReportCaller)

	formatter := config.Log.Formatter
	if formatter == "" {
		formatter = defaultLogFormatter
	}

	switch formatter {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat:   time.RFC3339Nano,
			DisableHTMLEscape: true,
		})
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	default:
		return ctx, fmt.Errorf("unsupported logging formatter: %q", formatter)
	}

	if len(config.Log.Fields) > 0 {
		var fields []interface{}
		for k := range config.Log.Fields {
			fields = append(fields, k)
		}
		ctx = dcontext.WithValues(ctx, config.Log.Fields)
		ctx = dcontext.WithLogger(ctx, dcontext.GetLogger(ctx, fields...))
	}

	dcontext.SetDefaultLogger(dcontext.GetLogger(ctx))
	return ctx, nil
}

func logLevel(level configuration.Loglevel) logrus.Level {
	l, err := logrus.ParseLevel(string(level))
	if err != nil {
		l = logrus.InfoLevel
		logrus.Warnf("error parsing log level %q: %v, using %q", level, err, l)
	}
	return l
}

var errNotFound = errors.New("server: no chain found for the requested version")
