// Package config provides centralized configuration management for the
// policy gate daemon: listen addresses, policy sources, opportunity intake
// queues, bridge endpoints, ledger backends and logging, loaded from a JSON
// file with sensible defaults applied for anything left unset.
package config
