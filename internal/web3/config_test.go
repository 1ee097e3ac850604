package web3

import (
	"os"
	"path/filepath"
	"testing"
)

const chainFixture = `chains:
  base-sepolia:
    type: evm
    rpc_url: https://sepolia.base.org
    domain: 6
    usdc: "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
    token_messenger: "0x9f3B8679c73C2Fef8b59B4f3444d4e156fb70AA5"
    message_transmitter: "0x7865fAfC2db2093669d92c0F33AeEF291086BEFD"
  eth-sepolia:
    rpc_url: https://ethereum-sepolia-rpc.publicnode.com
    domain: 0
    usdc: "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"
    token_messenger: "0x9f3B8679c73C2Fef8b59B4f3444d4e156fb70AA5"
    message_transmitter: "0x7865fAfC2db2093669d92c0F33AeEF291086BEFD"
    bet_contract: "0x1111111111111111111111111111111111111111"
`

func TestLoadChainDefinitions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chain.yaml")
	if err := os.WriteFile(path, []byte(chainFixture), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	defs, err := LoadChainDefinitions(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(defs.Chains) != 2 {
		t.Fatalf("expected 2 chains, got %d", len(defs.Chains))
	}

	source := defs.Chains["base-sepolia"]
	if source.Domain != 6 || source.Type != "evm" {
		t.Fatalf("unexpected source chain: %+v", source)
	}
	dest := defs.Chains["eth-sepolia"]
	if dest.BetContract == "" {
		t.Fatal("destination chain must carry a bet contract")
	}
}

func TestLoadChainDefinitionsEmptyPath(t *testing.T) {
	defs, err := LoadChainDefinitions("")
	if err != nil {
		t.Fatalf("empty path must yield empty definitions: %v", err)
	}
	if len(defs.Chains) != 0 {
		t.Fatalf("expected no chains, got %d", len(defs.Chains))
	}
}

func TestLoadChainDefinitionsRejectsIncomplete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chain.yaml")
	content := `chains:
  broken:
    rpc_url: https://example.org
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadChainDefinitions(path); err == nil {
		t.Fatal("expected validation failure for chain without bridge contracts")
	}
}
