package endpoints

import (
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/doodlesbykumbi/profile-provisioner/pkg/server"
)

// RegisterMetricsEndpoint exposes the server registry on /metrics
func RegisterMetricsEndpoint(s *server.Server) {
	if s.Registry == nil {
		return
	}
	s.Router.Handle("/metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{})).Methods("GET")
}
