package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"PolicyGate-Chain/internal/web3"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name   string
	RPCURL string
	Notes  string
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client

	mu      sync.Mutex
	chainID *big.Int
	abis    map[string]abi.ABI
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	return &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		eth:       ethclient.NewClient(rpcClient),
		abis:      make(map[string]abi.ABI),
	}, nil
}

// Name returns the human readable chain name.
func (c *Client) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	if c == nil || c.eth == nil {
		return web3.ChainSnapshot{}, errors.New("未初始化的以太坊客户端")
	}

	chainID, err := c.resolveChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	blockNumber, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// ChainID returns the chain identifier in hex form.
func (c *Client) ChainID(ctx context.Context) (string, error) {
	id, err := c.resolveChainID(ctx)
	if err != nil {
		return "", err
	}
	return toHexBig(id), nil
}

// ChainIDBig returns the raw chain identifier for transactor construction.
func (c *Client) ChainIDBig(ctx context.Context) (*big.Int, error) {
	return c.resolveChainID(ctx)
}

// Transact sends a state-changing contract call and returns the pending
// transaction. The caller waits for inclusion via WaitMined.
func (c *Client) Transact(ctx context.Context, auth *bind.TransactOpts, to common.Address, abiJSON, method string, params ...any) (*coretypes.Transaction, error) {
	if c == nil || c.eth == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	if auth == nil {
		return nil, errors.New("未提供交易签名器")
	}

	parsedABI, err := c.parseABI(abiJSON)
	if err != nil {
		return nil, err
	}
	contract := bind.NewBoundContract(to, parsedABI, c.eth, c.eth, c.eth)

	// 调用方可能在多个协程间共享同一个签名器，发送前拷贝一份，
	// 绝不回写调用方的 TransactOpts。
	opts := *auth
	opts.Context = ctx

	tx, err := contract.Transact(&opts, method, params...)
	if err != nil {
		return nil, fmt.Errorf("发送合约交易 %s 失败: %w", method, err)
	}
	return tx, nil
}

// Call performs a read-only contract call.
func (c *Client) Call(ctx context.Context, to common.Address, abiJSON, method string, results *[]any, params ...any) error {
	if c == nil || c.eth == nil {
		return errors.New("未初始化的以太坊客户端")
	}
	parsedABI, err := c.parseABI(abiJSON)
	if err != nil {
		return err
	}
	contract := bind.NewBoundContract(to, parsedABI, c.eth, c.eth, c.eth)
	if err := contract.Call(&bind.CallOpts{Context: ctx}, results, method, params...); err != nil {
		return fmt.Errorf("合约查询 %s 失败: %w", method, err)
	}
	return nil
}

// WaitMined blocks until the transaction is included or the context ends.
func (c *Client) WaitMined(ctx context.Context, tx *coretypes.Transaction) (*coretypes.Receipt, error) {
	if c == nil || c.eth == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	if tx == nil {
		return nil, errors.New("交易不能为空")
	}
	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return nil, fmt.Errorf("等待交易上链失败: %w", err)
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("交易 %s 被回滚", tx.Hash().Hex())
	}
	return receipt, nil
}

// Receipt fetches the receipt of an already-known transaction hash.
func (c *Client) Receipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error) {
	if c == nil || c.eth == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	receipt, err := c.eth.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("查询交易回执失败: %w", err)
	}
	return receipt, nil
}

func (c *Client) resolveChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	cached := c.chainID
	c.mu.Unlock()
	if cached != nil {
		return new(big.Int).Set(cached), nil
	}
	if c.eth == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.chainID = new(big.Int).Set(id)
	c.mu.Unlock()
	return id, nil
}

// parseABI caches parsed ABI definitions keyed by their JSON text.
func (c *Client) parseABI(abiJSON string) (abi.ABI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if parsed, ok := c.abis[abiJSON]; ok {
		return parsed, nil
	}
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("解析 ABI 失败: %w", err)
	}
	c.abis[abiJSON] = parsed
	return parsed, nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}

var _ web3.Client = (*Client)(nil)
