package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"PolicyGate-Chain/internal/web3"
	"PolicyGate-Chain/internal/web3/ethereum"
)

// Registry manages chain clients and their definitions keyed by the chain
// identifiers that appear in policies and opportunities.
type Registry struct {
	clients map[string]web3.Client
	defs    map[string]web3.ChainDefinition
}

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, chainConfigPath string) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(chainConfigPath)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]web3.Client)
	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		switch chainType {
		case "evm":
			client, err := ethereum.NewClient(ctx, ethereum.Config{
				Name:   name,
				RPCURL: chain.RPCURL,
				Notes:  chain.Description,
			})
			if err != nil {
				return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
			}
			clients[name] = client
		default:
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
	}

	if len(clients) == 0 {
		return nil, errors.New("链配置中没有可用的链定义")
	}

	return &Registry{clients: clients, defs: defs.Chains}, nil
}

// Client returns the client for the given chain name.
func (r *Registry) Client(name string) (web3.Client, error) {
	if r == nil {
		return nil, errors.New("链注册表未初始化")
	}
	client, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("未配置链 %s", name)
	}
	return client, nil
}

// Definition returns the static definition for the given chain name.
func (r *Registry) Definition(name string) (web3.ChainDefinition, error) {
	if r == nil {
		return web3.ChainDefinition{}, errors.New("链注册表未初始化")
	}
	def, ok := r.defs[name]
	if !ok {
		return web3.ChainDefinition{}, fmt.Errorf("未配置链 %s", name)
	}
	return def, nil
}

// Names lists the configured chain names in stable order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases every managed client.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for _, client := range r.clients {
		client.Close()
	}
}
