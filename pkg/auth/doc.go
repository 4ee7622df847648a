// Package auth establishes the identity of the caller. It supports two
// credential types: service tokens issued and stored by this service, and
// OIDC ID tokens issued by an external identity provider. Both resolve to an
// Actor from the users table; authorization decisions happen elsewhere.
package auth
