package web3

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chain.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint definition together
// with the bridge contract addresses deployed on that chain.
type ChainDefinition struct {
	Type               string `yaml:"type"`
	RPCURL             string `yaml:"rpc_url"`
	Domain             uint32 `yaml:"domain"`
	USDC               string `yaml:"usdc"`
	TokenMessenger     string `yaml:"token_messenger"`
	MessageTransmitter string `yaml:"message_transmitter"`
	BetContract        string `yaml:"bet_contract"`
	Description        string `yaml:"description"`
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	for name, chain := range defs.Chains {
		if err := chain.Validate(); err != nil {
			return ChainDefinitions{}, fmt.Errorf("链 %s 配置非法: %w", name, err)
		}
	}
	return defs, nil
}

// Validate 检查桥接流程依赖的字段。投注合约只在目标链需要，
// 留空表示该链不承接投注。
func (c ChainDefinition) Validate() error {
	if strings.TrimSpace(c.RPCURL) == "" {
		return fmt.Errorf("缺少 rpc_url")
	}
	if strings.TrimSpace(c.USDC) == "" {
		return fmt.Errorf("缺少 usdc 合约地址")
	}
	if strings.TrimSpace(c.TokenMessenger) == "" {
		return fmt.Errorf("缺少 token_messenger 合约地址")
	}
	if strings.TrimSpace(c.MessageTransmitter) == "" {
		return fmt.Errorf("缺少 message_transmitter 合约地址")
	}
	return nil
}
