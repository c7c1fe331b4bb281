package provisioner

import "github.com/doodlesbykumbi/profile-provisioner/pkg/identity"

// Eligible decides whether a login should be provisioned: the strategy must
// be one we provision and the identity must not be flagged as existing
// remotely.
func Eligible(strategy string, existsRemotely bool) bool {
	return identity.Whitelisted(strategy) && !existsRemotely
}
