// Package auth provides the peer admission policies applied once per
// session, after the handshake and before the session is registered.
//
// Policies are created by name with New:
//
//	none   AllowAll, every peer is accepted
//	token  SharedToken, the peer must present the configured token
//
// The same Provider type serves both ends. A connecting side presents
// Token(); an accepting side calls Validate with the session.
package auth
