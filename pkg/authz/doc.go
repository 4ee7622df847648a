// Package authz implements the authorization core: the static role-permission
// table, the policy evaluator, the tenant membership resolver, and the access
// gate that every tenant-scoped operation must pass through.
//
// Master admins bypass permission checks entirely. The bypass lives in exactly
// one place, the evaluator, so every enforcement path behaves the same. All
// other actors are evaluated deny-by-default against the permission table.
package authz
