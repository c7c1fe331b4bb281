// Package client talks to the remote profile services: the person API,
// which answers whether a profile exists, and the change API, which accepts
// new profiles.
package client
