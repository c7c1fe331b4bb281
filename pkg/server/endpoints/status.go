package endpoints

import (
	"net/http"

	"github.com/doodlesbykumbi/profile-provisioner/pkg/server"
)

// StatusResponse is the body of GET /status
type StatusResponse struct {
	Version        string `json:"version"`
	Publisher      string `json:"publisher"`
	KeyFingerprint string `json:"key_fingerprint,omitempty"`
	ConfigValid    bool   `json:"config_valid"`
	ConfigError    string `json:"config_error,omitempty"`
}

// RegisterStatusEndpoints registers the status endpoint
func RegisterStatusEndpoints(s *server.Server) {
	// GET /status - no auth required
	s.Router.HandleFunc("/status", handleStatus(s)).Methods("GET")
}

func handleStatus(s *server.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := s.Provisioner()
		resp := StatusResponse{
			Version:     server.Version,
			Publisher:   p.Publisher(),
			ConfigValid: true,
		}

		if err := p.Config().Validate(); err != nil {
			resp.ConfigValid = false
			resp.ConfigError = err.Error()
		} else if signer, err := p.Signer(); err != nil {
			resp.ConfigValid = false
			resp.ConfigError = err.Error()
		} else {
			resp.KeyFingerprint = signer.Key().Fingerprint()
		}

		respondWithJSON(w, http.StatusOK, resp)
	}
}
