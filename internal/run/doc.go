// Package run orchestrates a single pass over a batch of opportunities under
// one spending policy. Each opportunity moves through a fixed state machine:
// evaluated, then refused or approved, then audited; approved ones are
// executed first and an execution failure still ends in an audit entry.
// Opportunities are processed by a bounded worker pool and summarised by a
// single collector goroutine.
package run
