package evm

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"PolicyGate-Chain/internal/web3"
	"PolicyGate-Chain/internal/web3/provider"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// 与链上合约交互所需的最小 ABI 片段。
const (
	erc20ABI = `[
		{"name":"approve","type":"function","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
	]`
	tokenMessengerABI = `[
		{"name":"depositForBurn","type":"function","inputs":[{"name":"amount","type":"uint256"},{"name":"destinationDomain","type":"uint32"},{"name":"mintRecipient","type":"bytes32"},{"name":"burnToken","type":"address"}],"outputs":[{"name":"nonce","type":"uint64"}]}
	]`
	messageTransmitterABI = `[
		{"name":"receiveMessage","type":"function","inputs":[{"name":"message","type":"bytes"},{"name":"attestation","type":"bytes"}],"outputs":[{"name":"success","type":"bool"}]}
	]`
	betABI = `[
		{"name":"placeBet","type":"function","inputs":[{"name":"marketId","type":"string"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"betId","type":"bytes32"}]}
	]`
)

// usdcDecimals USDC 采用 6 位小数。
const usdcDecimals = 1e6

// Config 描述 EVM 桥接与下注适配器的运行参数。
type Config struct {
	// DestinationChain 是资金桥入并执行下注的目标链。
	DestinationChain string
	// AttestationBaseURL 是 Circle 跨链证明服务的地址。
	AttestationBaseURL string
	// PrivateKeyHex 是智能体资金账户的签名私钥（不带 0x 前缀）。
	PrivateKeyHex string
	// AttestationPoll 控制证明轮询间隔。
	AttestationPoll time.Duration
}

// Service 基于 go-ethereum 实现 execution.BridgeService 与
// execution.BetService：在源链销毁 USDC，轮询跨链证明后在目标链铸造，
// 并向目标链上的下注合约提交交易。所有阻塞调用都受调用方 context 约束。
type Service struct {
	chains      *provider.Registry
	httpClient  *http.Client
	destChain   string
	attestation string
	poll        time.Duration

	key     *ecdsa.PrivateKey
	account common.Address

	mu       sync.Mutex
	chainIDs map[string]*big.Int

	// accountMu 串行化同一签名账户的交易提交：并发机会各自获取
	// pending nonce 会相互覆盖，导致交易被替换或卡住。
	accountMu sync.Mutex
}

// NewService 构造 EVM 适配器。
func NewService(chains *provider.Registry, cfg Config) (*Service, error) {
	if chains == nil {
		return nil, errors.New("链注册表不能为空")
	}
	if strings.TrimSpace(cfg.DestinationChain) == "" {
		return nil, errors.New("未配置目标链")
	}
	if strings.TrimSpace(cfg.AttestationBaseURL) == "" {
		return nil, errors.New("未配置跨链证明服务地址")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("解析签名私钥失败: %w", err)
	}
	poll := cfg.AttestationPoll
	if poll <= 0 {
		poll = 3 * time.Second
	}
	return &Service{
		chains:      chains,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		destChain:   cfg.DestinationChain,
		attestation: strings.TrimRight(cfg.AttestationBaseURL, "/"),
		poll:        poll,
		key:         key,
		account:     crypto.PubkeyToAddress(key.PublicKey),
		chainIDs:    make(map[string]*big.Int),
	}, nil
}

// Account 返回资金账户地址。
func (s *Service) Account() common.Address {
	return s.account
}

// Burn 在源链上先授权再销毁指定数量的 USDC，返回销毁交易哈希。
func (s *Service) Burn(ctx context.Context, amountUsdc float64, sourceChain string) (string, error) {
	client, err := s.chains.Client(sourceChain)
	if err != nil {
		return "", err
	}
	def, err := s.chains.Definition(sourceChain)
	if err != nil {
		return "", err
	}
	destDef, err := s.chains.Definition(s.destChain)
	if err != nil {
		return "", err
	}
	auth, err := s.transactor(ctx, sourceChain, client)
	if err != nil {
		return "", err
	}

	amount := usdcUnits(amountUsdc)
	usdc := common.HexToAddress(def.USDC)
	messenger := common.HexToAddress(def.TokenMessenger)

	// 余额不足时提前失败，避免授权后销毁被回滚。
	var balanceOut []any
	if err := client.Call(ctx, usdc, erc20ABI, "balanceOf", &balanceOut, s.account); err != nil {
		return "", err
	}
	if len(balanceOut) == 1 {
		if balance, ok := balanceOut[0].(*big.Int); ok && balance.Cmp(amount) < 0 {
			return "", fmt.Errorf("源链 %s 余额不足: 需要 %s，持有 %s", sourceChain, amount, balance)
		}
	}

	// approve → depositForBurn 作为一个整体串行提交，不与其他机会
	// 在同一账户上的交易交错。
	s.accountMu.Lock()
	defer s.accountMu.Unlock()

	approveTx, err := client.Transact(ctx, auth, usdc, erc20ABI, "approve", messenger, amount)
	if err != nil {
		return "", err
	}
	if _, err := client.WaitMined(ctx, approveTx); err != nil {
		return "", err
	}

	var recipient [32]byte
	copy(recipient[12:], s.account.Bytes())
	burnTx, err := client.Transact(ctx, auth, messenger, tokenMessengerABI, "depositForBurn",
		amount, destDef.Domain, recipient, usdc)
	if err != nil {
		return "", err
	}
	if _, err := client.WaitMined(ctx, burnTx); err != nil {
		return "", err
	}
	return burnTx.Hash().Hex(), nil
}

// AwaitAttestationAndMint 等待销毁交易的跨链证明，然后在目标链提交
// receiveMessage 完成铸造，返回铸造交易哈希。
func (s *Service) AwaitAttestationAndMint(ctx context.Context, burnRef, destChain string) (string, error) {
	if destChain != s.destChain {
		return "", fmt.Errorf("目标链 %s 与适配器配置的 %s 不一致", destChain, s.destChain)
	}
	_, message, err := s.findBurnMessage(ctx, burnRef)
	if err != nil {
		return "", err
	}

	attestation, err := s.pollAttestation(ctx, crypto.Keccak256Hash(message))
	if err != nil {
		return "", err
	}

	client, err := s.chains.Client(destChain)
	if err != nil {
		return "", err
	}
	def, err := s.chains.Definition(destChain)
	if err != nil {
		return "", err
	}
	auth, err := s.transactor(ctx, destChain, client)
	if err != nil {
		return "", err
	}

	s.accountMu.Lock()
	defer s.accountMu.Unlock()

	mintTx, err := client.Transact(ctx, auth, common.HexToAddress(def.MessageTransmitter),
		messageTransmitterABI, "receiveMessage", message, attestation)
	if err != nil {
		return "", err
	}
	if _, err := client.WaitMined(ctx, mintTx); err != nil {
		return "", err
	}
	return mintTx.Hash().Hex(), nil
}

// PlaceBet 使用铸入的资金向目标链的下注合约提交交易，返回下注交易哈希。
func (s *Service) PlaceBet(ctx context.Context, marketID, mintRef string) (string, error) {
	if strings.TrimSpace(mintRef) == "" {
		return "", errors.New("缺少铸造交易引用")
	}
	client, err := s.chains.Client(s.destChain)
	if err != nil {
		return "", err
	}
	def, err := s.chains.Definition(s.destChain)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(def.BetContract) == "" {
		return "", fmt.Errorf("链 %s 未配置下注合约", s.destChain)
	}
	auth, err := s.transactor(ctx, s.destChain, client)
	if err != nil {
		return "", err
	}

	// 下注金额取铸入后的全部余额，读取余额到提交下注之间
	// 不允许同一账户的其他交易插入。
	s.accountMu.Lock()
	defer s.accountMu.Unlock()

	// 铸造交易必须已成功上链。
	mintReceipt, err := client.Receipt(ctx, common.HexToHash(mintRef))
	if err != nil {
		return "", err
	}
	if mintReceipt.Status != coretypes.ReceiptStatusSuccessful {
		return "", fmt.Errorf("铸造交易 %s 未成功上链", mintRef)
	}

	var balanceOut []any
	usdc := common.HexToAddress(def.USDC)
	if err := client.Call(ctx, usdc, erc20ABI, "balanceOf", &balanceOut, s.account); err != nil {
		return "", err
	}
	amount := big.NewInt(0)
	if len(balanceOut) == 1 {
		if balance, ok := balanceOut[0].(*big.Int); ok {
			amount = balance
		}
	}

	betContract := common.HexToAddress(def.BetContract)
	approveTx, err := client.Transact(ctx, auth, usdc, erc20ABI, "approve", betContract, amount)
	if err != nil {
		return "", err
	}
	if _, err := client.WaitMined(ctx, approveTx); err != nil {
		return "", err
	}

	betTx, err := client.Transact(ctx, auth, betContract, betABI, "placeBet", marketID, amount)
	if err != nil {
		return "", err
	}
	if _, err := client.WaitMined(ctx, betTx); err != nil {
		return "", err
	}
	return betTx.Hash().Hex(), nil
}

// findBurnMessage 在已知链中定位销毁交易并提取 MessageSent 事件携带的消息体。
func (s *Service) findBurnMessage(ctx context.Context, burnRef string) (string, []byte, error) {
	topic := crypto.Keccak256Hash([]byte("MessageSent(bytes)"))
	txHash := common.HexToHash(burnRef)

	for _, name := range s.chains.Names() {
		client, err := s.chains.Client(name)
		if err != nil {
			continue
		}
		receipt, err := client.Receipt(ctx, txHash)
		if err != nil {
			continue
		}
		for _, entry := range receipt.Logs {
			if len(entry.Topics) == 0 || entry.Topics[0] != topic {
				continue
			}
			message, err := unpackMessageSent(entry.Data)
			if err != nil {
				return "", nil, err
			}
			return name, message, nil
		}
		return "", nil, fmt.Errorf("销毁交易 %s 中未找到 MessageSent 事件", burnRef)
	}
	return "", nil, fmt.Errorf("未在任何已配置链上找到销毁交易 %s", burnRef)
}

// pollAttestation 轮询证明服务直到证明就绪或 context 结束。
func (s *Service) pollAttestation(ctx context.Context, messageHash common.Hash) ([]byte, error) {
	url := fmt.Sprintf("%s/v1/attestations/%s", s.attestation, messageHash.Hex())
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		attestation, ready, err := s.fetchAttestation(ctx, url)
		if err != nil {
			return nil, err
		}
		if ready {
			return attestation, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("等待跨链证明超时: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Service) fetchAttestation(ctx context.Context, url string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("请求证明服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("证明服务返回状态码 %d", resp.StatusCode)
	}

	var payload struct {
		Status      string `json:"status"`
		Attestation string `json:"attestation"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, false, fmt.Errorf("解析证明响应失败: %w", err)
	}
	if !strings.EqualFold(payload.Status, "complete") {
		return nil, false, nil
	}
	attestation, err := hex.DecodeString(strings.TrimPrefix(payload.Attestation, "0x"))
	if err != nil {
		return nil, false, fmt.Errorf("解析证明内容失败: %w", err)
	}
	return attestation, true, nil
}

// transactor 为指定链构造带链 ID 的签名器。链 ID 查询结果会被缓存，
// 签名器本身每次新建：TransactOpts 可变，不能在并发调用间共享。
func (s *Service) transactor(ctx context.Context, chain string, client web3.Client) (*bind.TransactOpts, error) {
	s.mu.Lock()
	chainID := s.chainIDs[chain]
	s.mu.Unlock()

	if chainID == nil {
		chainIDHex, err := client.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("获取链 %s 的链 ID 失败: %w", chain, err)
		}
		parsed, ok := new(big.Int).SetString(strings.TrimPrefix(chainIDHex, "0x"), 16)
		if !ok {
			return nil, fmt.Errorf("链 %s 返回了非法链 ID %s", chain, chainIDHex)
		}
		chainID = parsed
		s.mu.Lock()
		s.chainIDs[chain] = chainID
		s.mu.Unlock()
	}

	auth, err := bind.NewKeyedTransactorWithChainID(s.key, chainID)
	if err != nil {
		return nil, fmt.Errorf("构造链 %s 的签名器失败: %w", chain, err)
	}
	return auth, nil
}

func unpackMessageSent(data []byte) ([]byte, error) {
	bytesType, err := abi.NewType("bytes", "", nil)
	if err != nil {
		return nil, err
	}
	args := abi.Arguments{{Type: bytesType}}
	values, err := args.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("解码 MessageSent 事件失败: %w", err)
	}
	message, ok := values[0].([]byte)
	if !ok {
		return nil, errors.New("MessageSent 事件载荷类型不符")
	}
	return message, nil
}

func usdcUnits(amount float64) *big.Int {
	units, _ := new(big.Float).Mul(big.NewFloat(amount), big.NewFloat(usdcDecimals)).Int(nil)
	return units
}
