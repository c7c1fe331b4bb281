// Package profile models the remote identity profile document and builds it
// from a login.
//
// A profile is a tree. Every node is one of:
//
//   - *Leaf: an attribute carrying a value (or values), metadata and a
//     signature envelope
//   - *Container: a named group of further nodes
//   - *Raw: any other JSON value, passed through untouched
//
// The kind of a node is decided once, when the skeleton is parsed: an
// object with a "signature" member is a Leaf, any other object is a
// Container.
//
// # Skeletons
//
// The skeleton (the "null profile") lists every attribute the store knows
// about. It is parsed once and treated as immutable; Build always works on
// a deep copy.
//
//	template, err := cache.Get(cfg.NullProfile)
//	p, err := profile.Build(template, event.User, subjectID, profile.BuildOptions{
//	    Publisher: cfg.Publisher,
//	    Now:       time.Now(),
//	})
package profile
