// Package decision implements the deterministic policy evaluation engine.
// Evaluation is a pure function over an opportunity, a policy and a point in
// time; the absence of approval is expressed as data, never as an error.
package decision
