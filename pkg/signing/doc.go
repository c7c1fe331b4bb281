// Package signing signs profile attributes on behalf of a publisher.
//
// Every attribute of a profile carries its own signature. An attribute is
// signed by this system when it names this system as its publisher and has
// a value. The signature is a compact RS256 JWS over the attribute without
// its signature envelope. No timestamp is embedded, so signing identical
// content twice yields the same value.
//
// # Keys
//
// Keys are RSA private keys, configured as base64-encoded PEM:
//
//	key, err := signing.DecodeKey(cfg.SigningKey)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	signer := signing.NewSigner(key, cfg.Publisher)
//	n, err := signer.SignAll(p)
package signing
