package endpoints

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/doodlesbykumbi/profile-provisioner/pkg/identity"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/server"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/server/middleware"
)

const maxEventSize = 1 << 20

// RegisterHookEndpoints registers the login hook
func RegisterHookEndpoints(s *server.Server) {
	auth := middleware.NewHookAuthenticator(func() string {
		return s.Provisioner().Config().HookSecret
	})

	// POST /hooks/login - provision the identity of a login event
	s.Router.Handle("/hooks/login", auth.Middleware(handleLoginHook(s))).Methods("POST")
}

func handleLoginHook(s *server.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var event identity.LoginEvent
		dec := json.NewDecoder(io.LimitReader(r.Body, maxEventSize))
		if err := dec.Decode(&event); err != nil {
			respondWithError(w, http.StatusBadRequest, "malformed login event: "+err.Error())
			return
		}
		if event.User.UserID == "" {
			respondWithError(w, http.StatusBadRequest, "login event has no user.user_id")
			return
		}

		// Detached so a host that stops waiting does not abort a
		// half-finished provisioning.
		s.Provisioner().Run(context.WithoutCancel(r.Context()), event.User, event.Context)

		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
