// Package identity describes the records an identity host hands to the
// provisioner on every login.
//
// A login event is made of two parts: the authenticated User (including the
// federated accounts linked to it) and a Context describing the connection
// that was used. Both are owned by the host and are treated as read-only.
//
// # Basic Usage
//
//	var event identity.LoginEvent
//	_ = json.NewDecoder(r.Body).Decode(&event)
//
//	subject := event.Context.SubjectID(event.User)
//	if event.Context.ExistsRemotely(event.User) {
//	    // already provisioned on an earlier login
//	}
//
// # Linked accounts
//
// When the host has linked this login to another, primary, account it sets
// Context.PrimaryUser. The primary account then becomes the subject of
// provisioning and its metadata is the one consulted for the
// "exists remotely" flag.
package identity
