// Package server exposes the provisioner over HTTP.
//
// The identity provider's post-login hook posts every login to
// /hooks/login. The response is always 200 once the event is decoded;
// provisioning failures are only visible in logs, audit records and
// metrics.
//
//	srv := server.NewServer(p, registry, logger, "0.0.0.0", "8080")
//	endpoints.RegisterAll(srv)
//	if err := srv.Start(); err != nil {
//	    log.Fatal(err)
//	}
//
// Endpoints:
//
//   - POST /hooks/login - provision the identity in the posted login event
//   - GET /status - version, publisher and signing key fingerprint
//   - GET /metrics - Prometheus metrics
package server
