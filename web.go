// Copyright 2025 The octopus-usage-exporter Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker reports whether the poll loop is healthy
type HealthChecker interface {
	Healthy() bool
	LastPollAt() time.Time
}

// WebServer serves the scrape endpoint on its own goroutine; it only reads the registry
type WebServer struct {
	server *http.Server
	health HealthChecker
	logger *Logger
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>Octopus Usage Exporter</title></head>
<body>
<h1>Octopus Usage Exporter</h1>
<p>Version {{.Version}}</p>
<p><a href="/metrics">Metrics</a></p>
<p><a href="/healthz">Health</a></p>
</body>
</html>
`))

func NewWebServer(gatherer prometheus.Gatherer, health HealthChecker, port int, logger *Logger) *WebServer {
	mux := http.NewServeMux()

	ws := &WebServer{
		health: health,
		logger: logger.WithComponent("web"),
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: ServerReadHeaderTimeout,
		},
	}

	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog:      zapErrorLog{ws.logger},
		ErrorHandling: promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", ws.handleHealth)
	mux.HandleFunc("/", ws.handleIndex)

	return ws
}

// Start listens in the background and returns once the port is bound
func (ws *WebServer) Start() error {
	listener, err := net.Listen("tcp", ws.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", ws.server.Addr, err)
	}
	ws.logger.Infow("Starting metrics server", "addr", listener.Addr().String())

	go func() {
		if err := ws.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ws.logger.Errorw("Metrics server error", "error", err.Error())
		}
	}()
	return nil
}

// Shutdown waits up to ServerShutdownTimeout for in-flight scrapes
func (ws *WebServer) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ServerShutdownTimeout)
	defer cancel()
	return ws.server.Shutdown(ctx)
}

// Handler exposes the routes for tests
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if ws.health != nil && !ws.health.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, "unhealthy: no valid API token")
		return
	}
	fmt.Fprintln(w, "ok")
	if ws.health != nil {
		if last := ws.health.LastPollAt(); !last.IsZero() {
			fmt.Fprintf(w, "last_poll: %s\n", last.UTC().Format(time.RFC3339))
		}
	}
}

func (ws *WebServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, struct{ Version string }{GetVersion()}); err != nil {
		ws.logger.Warnw("Failed to render index", "error", err.Error())
	}
}

// zapErrorLog adapts the logger to promhttp's error logger
type zapErrorLog struct {
	logger *Logger
}

func (l zapErrorLog) Println(v ...interface{}) {
	l.logger.Error(v...)
}
