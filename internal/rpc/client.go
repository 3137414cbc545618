package rpc

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/goran-ethernal/BlockIndexor/pkg/chain"
	"github.com/goran-ethernal/BlockIndexor/pkg/types"
)

// Compile-time check to ensure Client implements chain.Client interface.
var _ chain.Client = (*Client)(nil)

// Client wraps a single Ethereum JSON-RPC endpoint.
type Client struct {
	eth *ethclient.Client
	rpc *rpc.Client
}

// NewClient creates a new RPC client connected to the given endpoint.
func NewClient(ctx context.Context, endpoint string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	return &Client{
		eth: ethclient.NewClient(rpcClient),
		rpc: rpcClient,
	}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() {
	c.eth.Close()
}

// BlockByHeight retrieves the full block at height.
func (c *Client) BlockByHeight(ctx context.Context, height uint64) (*types.RawBlock, error) {
	block, err := c.eth.BlockByNumber(ctx, new(big.Int).SetUint64(height))
	if err != nil {
		return nil, err
	}

	if block.NumberU64() != height {
		return nil, fmt.Errorf("node returned block %d for height %d", block.NumberU64(), height)
	}

	return types.NewRawBlock(block, nil), nil
}

// HashAt retrieves the canonical hash at height.
func (c *Client) HashAt(ctx context.Context, height uint64) (common.Hash, error) {
	header, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(height))
	if err != nil {
		return common.Hash{}, err
	}

	return header.Hash(), nil
}

// LatestHeight returns the head height at the given finality.
func (c *Client) LatestHeight(ctx context.Context, finality types.BlockFinality) (uint64, error) {
	header, err := c.eth.HeaderByNumber(ctx, finalityTag(finality))
	if err != nil {
		return 0, err
	}

	return header.Number.Uint64(), nil
}

// LogsByHash retrieves the logs of a block emitted by addresses.
func (c *Client) LogsByHash(
	ctx context.Context, blockHash common.Hash, addresses []common.Address,
) ([]gethtypes.Log, error) {
	return c.eth.FilterLogs(ctx, ethereum.FilterQuery{
		BlockHash: &blockHash,
		Addresses: addresses,
	})
}

// ChainID returns the chain identifier of the node.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.eth.ChainID(ctx)
}

// finalityTag maps a finality to the block number tag understood by the node.
func finalityTag(finality types.BlockFinality) *big.Int {
	switch finality {
	case types.FinalityFinalized:
		return big.NewInt(int64(rpc.FinalizedBlockNumber))
	case types.FinalitySafe:
		return big.NewInt(int64(rpc.SafeBlockNumber))
	default:
		return nil
	}
}
