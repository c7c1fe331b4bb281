// Package profiletest provides a profile skeleton shaped like the one the
// profile store publishes, for use in tests.
package profiletest

import (
	_ "embed"
	"encoding/base64"
)

//go:embed testdata/null_profile.json
var nullProfile []byte

// Skeleton returns the JSON skeleton.
func Skeleton() []byte {
	return append([]byte(nil), nullProfile...)
}

// EncodedSkeleton returns the skeleton the way it is configured: base64.
func EncodedSkeleton() string {
	return base64.StdEncoding.EncodeToString(nullProfile)
}
