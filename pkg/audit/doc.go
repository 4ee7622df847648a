// Package audit provides the append-only trail of privileged actions.
//
// Entries are written through the caller's transaction so a privileged
// mutation and its audit record commit or roll back together. Entries are
// write-once; there is no update or delete path. The read API is restricted
// to master admins.
package audit
