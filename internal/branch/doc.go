// Package branch models local branch names and the automation branch
// predicate used when deciding where a working copy may be restored to.
package branch
