// Package api assembles the HTTP server: router, middleware chain and
// handler registration for the admin and tenant surfaces.
package api
