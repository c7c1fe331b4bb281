package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/mux"
)

// RemoteAPIs fakes the OAuth server, the profile store and the change API
// behind a single TLS server.
type RemoteAPIs struct {
	*httptest.Server

	mu            sync.Mutex
	profiles      map[string]json.RawMessage
	submissions   map[string][]byte
	rejectChanges bool
}

// NewRemoteAPIs starts the fake remote services.
func NewRemoteAPIs() *RemoteAPIs {
	r := &RemoteAPIs{}
	r.Reset()

	router := mux.NewRouter()
	router.HandleFunc("/oauth/token", r.handleToken).Methods("POST")
	router.PathPrefix("/v2/user/user_id/").HandlerFunc(r.handleFetch).Methods("GET")
	router.HandleFunc("/v2/user", r.handleChange).Methods("POST")

	r.Server = httptest.NewTLSServer(router)
	return r
}

// Host is the bare host the change API is configured with.
func (r *RemoteAPIs) Host() string {
	return strings.TrimPrefix(r.URL, "https://")
}

// Reset forgets all profiles and submissions.
func (r *RemoteAPIs) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles = make(map[string]json.RawMessage)
	r.submissions = make(map[string][]byte)
	r.rejectChanges = false
}

// AddProfile makes the profile store report a profile for subjectID.
func (r *RemoteAPIs) AddProfile(subjectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[subjectID] = json.RawMessage(`{"user_id": {"value": "` + subjectID + `"}}`)
}

// RejectChanges makes the change API refuse every submission.
func (r *RemoteAPIs) RejectChanges() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejectChanges = true
}

// Submissions returns the submitted profiles by subject id.
func (r *RemoteAPIs) Submissions() map[string][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]byte, len(r.submissions))
	for id, body := range r.submissions {
		out[id] = body
	}
	return out
}

func (r *RemoteAPIs) handleToken(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"access_token": "integration-token", "token_type": "Bearer", "expires_in": 86400}`))
}

func (r *RemoteAPIs) handleFetch(w http.ResponseWriter, req *http.Request) {
	subjectID := strings.TrimPrefix(req.URL.Path, "/v2/user/user_id/")

	r.mu.Lock()
	profile, ok := r.profiles[subjectID]
	r.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		_, _ = w.Write([]byte(`{}`))
		return
	}
	_, _ = w.Write(profile)
}

func (r *RemoteAPIs) handleChange(w http.ResponseWriter, req *http.Request) {
	subjectID := req.URL.Query().Get("user_id")
	body, _ := io.ReadAll(req.Body)

	r.mu.Lock()
	defer r.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if r.rejectChanges {
		_, _ = w.Write([]byte(`{"status_code": 400, "message": "profile rejected"}`))
		return
	}
	r.submissions[subjectID] = body
	r.profiles[subjectID] = body
	_, _ = w.Write([]byte(`{"status_code": 200, "message": "profile created"}`))
}
