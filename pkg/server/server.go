package server

import (
	"context"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/doodlesbykumbi/profile-provisioner/pkg/provisioner"
)

// Version is reported by the status endpoint. Set with -ldflags.
var Version = "0.1.0"

type Server struct {
	Router   *mux.Router
	Registry *prometheus.Registry
	Log      logrus.FieldLogger

	provisioner atomic.Pointer[provisioner.Provisioner]
	srv         *http.Server
}

func NewServer(
	p *provisioner.Provisioner,
	registry *prometheus.Registry,
	log logrus.FieldLogger,
	host string,
	port string,
) *Server {

	router := mux.NewRouter().UseEncodedPath()
	srv := &http.Server{
		Handler: handlers.LoggingHandler(os.Stdout, handlers.RecoveryHandler()(router)),
		Addr:    host + ":" + port,
		// Submission alone may take 14s, plus token and lookup time
		WriteTimeout: 30 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	s := &Server{
		Router:   router,
		Registry: registry,
		Log:      log,
		srv:      srv,
	}
	s.provisioner.Store(p)
	return s
}

// Provisioner returns the provisioner serving requests.
func (s *Server) Provisioner() *provisioner.Provisioner {
	return s.provisioner.Load()
}

// SetProvisioner swaps the provisioner, e.g. after a configuration reload.
// Requests already running keep the one they started with.
func (s *Server) SetProvisioner(p *provisioner.Provisioner) {
	s.provisioner.Store(p)
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

// Shutdown stops accepting requests and waits for running ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
