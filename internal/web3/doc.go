// Package web3 houses blockchain connectivity utilities: RPC clients, bound
// contract helpers and multi-chain configuration. It lets the bridge and bet
// adapters perform standardized interactions with the EVM testnets named in
// a policy's allowed-chain set, including contract transactions, read-only
// calls and receipt waits bounded by the caller's context.
package web3
