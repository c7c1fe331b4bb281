// Package token obtains and caches the client-credentials bearer token used
// to call the profile store and the change pipeline.
//
// A Cache reuses a token until it is RefreshAge old. Concurrent callers that
// find the cache stale share a single refresh request.
package token
