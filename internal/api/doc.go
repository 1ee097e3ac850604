// Package api exposes the REST surface of the policy gate daemon: starting
// a run over a batch of opportunities, inspecting past run results and
// listing audit ledger entries.
package api
