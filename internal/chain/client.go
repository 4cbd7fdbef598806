package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Transfer states reported by Confirm.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// Confirmation is the on-chain state of a transfer transaction.
type Confirmation struct {
	Status      string
	BlockNumber uint64
	BlockTime   time.Time
}

type receiptSource interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Client wraps go-ethereum RPC to look up transfer receipts.
type Client struct {
	rpcClient *rpc.Client
	source    receiptSource

	mu      sync.RWMutex
	tsCache map[uint64]uint64
}

// NewClient creates a new chain client from the RPC URL.
func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	c := newClient(ethclient.NewClient(rpcClient))
	c.rpcClient = rpcClient
	return c, nil
}

func newClient(source receiptSource) *Client {
	return &Client{
		source:  source,
		tsCache: make(map[uint64]uint64),
	}
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// Confirm reports whether the transaction has been mined and succeeded. A
// transaction the node does not know yet is pending.
func (c *Client) Confirm(ctx context.Context, txHash string) (Confirmation, error) {
	receipt, err := c.source.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		return Confirmation{Status: StatusPending}, nil
	}
	if err != nil {
		return Confirmation{}, fmt.Errorf("receipt %s: %w", txHash, err)
	}

	out := Confirmation{Status: StatusConfirmed}
	if receipt.Status != types.ReceiptStatusSuccessful {
		out.Status = StatusFailed
	}
	if receipt.BlockNumber == nil {
		return out, nil
	}

	out.BlockNumber = receipt.BlockNumber.Uint64()
	ts, err := c.blockTimestamp(ctx, out.BlockNumber)
	if err != nil {
		return Confirmation{}, err
	}
	out.BlockTime = time.Unix(int64(ts), 0).UTC()
	return out, nil
}

// blockTimestamp returns the block timestamp, using an in-memory cache.
func (c *Client) blockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	c.mu.RLock()
	ts, ok := c.tsCache[number]
	c.mu.RUnlock()
	if ok {
		return ts, nil
	}

	header, err := c.source.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, fmt.Errorf("header %d: %w", number, err)
	}

	ts = header.Time
	c.mu.Lock()
	c.tsCache[number] = ts
	c.mu.Unlock()

	return ts, nil
}
