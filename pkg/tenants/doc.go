// Package tenants manages tenants, their memberships and invitations.
// Tenant lifecycle and membership mutations are privileged: they require a
// master admin actor and write an audit entry in the same transaction as the
// mutation. The self-service leave operation is the exception, it needs no
// privilege and leaves no audit trail.
package tenants
