// Package evm registers proof payloads on an EVM chain through a contract
// exposing registerProof(bytes32 hash, uint256 timestamp, string uri).
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"sync"

	"evidencia/internal/domain"
	"evidencia/internal/infra/anchor"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const ProviderName = "polygon"

const registerProofABI = `[{"inputs":[{"internalType":"bytes32","name":"hash","type":"bytes32"},{"internalType":"uint256","name":"timestamp","type":"uint256"},{"internalType":"string","name":"uri","type":"string"}],"name":"registerProof","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}]`

// Backend is the subset of ethclient.Client the ledger needs.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

type Config struct {
	RPCURL          string
	PrivateKeyHex   string
	ContractAddress string
}

type Client struct {
	backend  Backend
	contract *bind.BoundContract
	key      *ecdsa.PrivateKey
	closeFn  func()

	mu      sync.Mutex
	chainID *big.Int
}

// Dial validates the settings and opens the RPC client. Nothing is sent to
// the chain until the first Register.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, badConfig("rpc url is required")
	}
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, &domain.AnchorError{Code: domain.AnchorErrorBadConfig, Err: err}
	}
	client, err := NewClient(eth, cfg.PrivateKeyHex, cfg.ContractAddress)
	if err != nil {
		eth.Close()
		return nil, err
	}
	client.closeFn = eth.Close
	return client, nil
}

// NewClient wires an existing backend, such as a simulated chain in tests.
func NewClient(backend Backend, privateKeyHex, contractAddress string) (*Client, error) {
	if backend == nil {
		return nil, badConfig("backend is required")
	}
	if !common.IsHexAddress(contractAddress) {
		return nil, badConfig("contract address is not a hex address")
	}
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, &domain.AnchorError{Code: domain.AnchorErrorBadConfig, Err: errors.New("wallet private key is invalid")}
	}
	parsed, err := abi.JSON(strings.NewReader(registerProofABI))
	if err != nil {
		return nil, &domain.AnchorError{Code: domain.AnchorErrorBadConfig, Err: err}
	}
	contract := bind.NewBoundContract(common.HexToAddress(contractAddress), parsed, backend, backend, backend)
	return &Client{backend: backend, contract: contract, key: key}, nil
}

func (c *Client) Name() string {
	return ProviderName
}

// From is the wallet address transactions are sent from.
func (c *Client) From() common.Address {
	return ethcrypto.PubkeyToAddress(c.key.PublicKey)
}

func (c *Client) Register(ctx context.Context, payload anchor.Payload) (anchor.LedgerReceipt, error) {
	chainID, err := c.chain(ctx)
	if err != nil {
		return anchor.LedgerReceipt{}, wrapCallError(ctx, err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, chainID)
	if err != nil {
		return anchor.LedgerReceipt{}, &domain.AnchorError{Code: domain.AnchorErrorBadConfig, Err: err}
	}
	opts.Context = ctx

	tx, err := c.contract.Transact(opts, "registerProof", payload.Hash, big.NewInt(payload.Timestamp), payload.URI)
	if err != nil {
		return anchor.LedgerReceipt{}, wrapCallError(ctx, err)
	}
	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return anchor.LedgerReceipt{}, wrapCallError(ctx, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return anchor.LedgerReceipt{}, &domain.AnchorError{
			Code: domain.AnchorErrorRejected,
			Err:  errors.New("transaction " + tx.Hash().Hex() + " reverted"),
		}
	}
	out := anchor.LedgerReceipt{
		TxRef:   tx.Hash().Hex(),
		ChainID: chainID.String(),
	}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return out, nil
}

func (c *Client) Close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}

func (c *Client) chain(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chainID != nil {
		return c.chainID, nil
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	c.chainID = id
	return id, nil
}

var rejectionMarkers = []string{
	"execution reverted",
	"insufficient funds",
	"nonce too low",
	"replacement transaction underpriced",
	"gas required exceeds allowance",
	"intrinsic gas too low",
}

func wrapCallError(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return &domain.AnchorError{Code: domain.AnchorErrorTimeout, Err: err}
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rejectionMarkers {
		if strings.Contains(msg, marker) {
			return &domain.AnchorError{Code: domain.AnchorErrorRejected, Err: err}
		}
	}
	return &domain.AnchorError{Code: domain.AnchorErrorNetwork, Err: err}
}

func badConfig(msg string) error {
	return &domain.AnchorError{Code: domain.AnchorErrorBadConfig, Err: errors.New(msg)}
}
