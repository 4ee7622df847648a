// Package users manages user accounts and the master-admin flag. Promotions,
// demotions and deletions of master admins run under serializable isolation
// with a live admin count, so concurrent revocations cannot drop the last
// master admin.
package users
