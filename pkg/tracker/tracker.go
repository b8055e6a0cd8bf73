// Package tracker implements TrackerService (spec §4.7): an HTTP server
// bound to an ephemeral port exposing the live ResourceReport as JSON,
// plus the ambient /healthz and /metrics endpoints every AM component
// carries regardless of the core spec's non-goals (SPEC_FULL §12).
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/obsmetrics"
	"github.com/cuemby/warren/pkg/registry"
)

// ReportSource produces the current derived resource report.
// *registry.Registry satisfies this via GetResourceReport.
type ReportSource interface {
	GetResourceReport() registry.ResourceReport
}

// StatusSource optionally augments a ReportSource with the AM's lifecycle
// phase for /healthz (SPEC_FULL §12). When source doesn't implement this,
// /healthz falls back to a static "ok" body.
type StatusSource interface {
	StatusJSON() ([]byte, error)
}

// Service is the TrackerService HTTP server.
type Service struct {
	source   ReportSource
	listener net.Listener
	server   *http.Server
}

// Start binds to an OS-assigned ephemeral port on bindAddress (host with
// no port, e.g. "0.0.0.0") and begins serving in the background. Callers
// must call this before the resource-manager registration handshake so
// the tracker URL is ready (spec §4.7).
func Start(bindAddress string, source ReportSource) (*Service, error) {
	listener, err := net.Listen("tcp", bindAddress+":0")
	if err != nil {
		return nil, fmt.Errorf("tracker: listen on %s: %w", bindAddress, err)
	}

	svc := &Service{source: source, listener: listener}

	mux := http.NewServeMux()
	mux.HandleFunc("/", svc.handleReport)
	mux.HandleFunc("/healthz", svc.handleHealthz)
	mux.Handle("/metrics", obsmetrics.Handler())

	svc.server = &http.Server{Handler: mux}
	go func() {
		if err := svc.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.WithComponent("tracker").Error().Msg(fmt.Sprintf("serve: %v", err))
		}
	}()

	return svc, nil
}

// Addr returns the bound address, e.g. "0.0.0.0:41287".
func (s *Service) Addr() string {
	return s.listener.Addr().String()
}

// URL returns the tracker's base URL given the host the AM's container is
// reachable at.
func (s *Service) URL(host string) string {
	_, port, _ := net.SplitHostPort(s.listener.Addr().String())
	return fmt.Sprintf("http://%s:%s/", host, port)
}

// Stop gracefully shuts the server down within timeout (spec §4.8 shutdown
// step 5).
func (s *Service) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Service) handleReport(w http.ResponseWriter, r *http.Request) {
	report := s.source.GetResourceReport()

	if r.URL.Query().Get("format") == "yaml" {
		w.Header().Set("Content-Type", "application/yaml")
		data, err := yaml.Marshal(report)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Write(data)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		log.WithComponent("tracker").Warn().Msg(fmt.Sprintf("encode report: %v", err))
	}
}

func (s *Service) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if statusSource, ok := s.source.(StatusSource); ok {
		body, err := statusSource.StatusJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Write(body)
		return
	}
	w.Write([]byte(`{"status":"ok"}`))
}
