package services

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Signer submits transactions on one chain. Implementations must be safe
// for concurrent use; nonce assignment is serialized internally.
type Signer interface {
	Address() common.Address
	// SendTransaction signs and submits a transaction carrying data to the
	// given address, returning the transaction hash.
	SendTransaction(ctx context.Context, to common.Address, data []byte) (string, error)
	// WaitMined blocks until the transaction has a receipt, reporting
	// whether execution succeeded (false means reverted).
	WaitMined(ctx context.Context, txHash string) (bool, error)
	// BlockNumber is a connectivity probe against the chain's RPC endpoint.
	BlockNumber(ctx context.Context) (uint64, error)
}

// SignerService hands out one Signer per chain, built from the chain
// registry's RPC endpoint and the configured private key.
type SignerService interface {
	GetSigner(ctx context.Context, chainID uint64) (Signer, error)
}

type signerService struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chains  ChainService

	mu      sync.Mutex
	signers map[uint64]*chainSigner
}

// NewSignerService builds a signer registry from a hex-encoded private key.
// An empty key yields a service whose GetSigner always reports ErrNoSigner.
func NewSignerService(privateKeyHex string, chains ChainService) (SignerService, error) {
	s := &signerService{
		chains:  chains,
		signers: make(map[uint64]*chainSigner),
	}
	if privateKeyHex == "" {
		return s, nil
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signer private key: %w", err)
	}
	s.key = key
	s.address = crypto.PubkeyToAddress(key.PublicKey)
	return s, nil
}

func (s *signerService) GetSigner(ctx context.Context, chainID uint64) (Signer, error) {
	if s.key == nil {
		return nil, fmt.Errorf("chain %d: %w", chainID, ErrNoSigner)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if signer, ok := s.signers[chainID]; ok {
		return signer, nil
	}

	chain, err := s.chains.GetChainByChainID(chainID)
	if err != nil {
		if errors.Is(err, ErrChainNotFound) {
			return nil, fmt.Errorf("chain %d: %w", chainID, ErrNoSigner)
		}
		return nil, err
	}

	client, err := ethclient.DialContext(ctx, chain.RPC)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc for chain %d: %w", chainID, err)
	}

	signer := &chainSigner{
		chainID: new(big.Int).SetUint64(chainID),
		client:  client,
		key:     s.key,
		address: s.address,
	}
	s.signers[chainID] = signer
	return signer, nil
}

type chainSigner struct {
	chainID *big.Int
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	address common.Address

	// mu serializes nonce assignment and submission per chain; the chain
	// client is not safe for concurrent nonce management.
	mu sync.Mutex
}

func (c *chainSigner) Address() common.Address {
	return c.address
}

func (c *chainSigner) SendTransaction(ctx context.Context, to common.Address, data []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nonce, err := c.client.PendingNonceAt(ctx, c.address)
	if err != nil {
		return "", fmt.Errorf("failed to fetch nonce: %w", err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch gas price: %w", err)
	}
	gasLimit, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From: c.address,
		To:   &to,
		Data: data,
	})
	if err != nil {
		return "", fmt.Errorf("failed to estimate gas: %w", err)
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	return signedTx.Hash().Hex(), nil
}

func (c *chainSigner) WaitMined(ctx context.Context, txHash string) (bool, error) {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		receipt, err := c.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt.Status == types.ReceiptStatusSuccessful, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return false, fmt.Errorf("failed to fetch receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *chainSigner) BlockNumber(ctx context.Context) (uint64, error) {
	return c.client.BlockNumber(ctx)
}
