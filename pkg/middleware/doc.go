// Package middleware provides HTTP middleware for authentication, request
// identification and rate limiting. Authentication places the resolved actor
// on the request context; handlers read it back with GetActor.
package middleware
