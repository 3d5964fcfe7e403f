// Package fixer applies a proposed fix to a working copy on a transient
// automation branch, publishes it, and restores the working copy to the
// branch it started on. When any step fails the working copy is rolled back
// to a named branch other than the automation branch.
package fixer
