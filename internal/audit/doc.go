// Package audit records the immutable decision trail. Every opportunity a
// run touches produces exactly one ledger entry, whether it was refused,
// fully executed or abandoned mid-pipeline. Commits retry with bounded
// backoff; a commit that still fails surfaces as a critical error instead
// of being swallowed.
package audit
