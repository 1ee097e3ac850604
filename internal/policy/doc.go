// Package policy defines the immutable spending policy that gates every
// agent action, together with the sources it can be loaded from. A policy is
// a value, not an entity: once loaded for a run it never changes, and it is
// shared read-only across all opportunities evaluated in that run.
package policy
