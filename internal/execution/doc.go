// Package execution drives the approved path: bridge USDC across chains,
// then place the bet. The bridge and bet services are opaque external
// collaborators specified only at their request/response boundary; the
// pipeline contributes ordering, per-step timeouts and typed failures.
package execution
