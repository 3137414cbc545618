package handler

import (
	"context"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/BlockIndexor/internal/logger"
	"github.com/goran-ethernal/BlockIndexor/pkg/config"
	"github.com/goran-ethernal/BlockIndexor/pkg/types"
)

const (
	// BlocksHandler records one "block" entity per height.
	BlocksHandler = "blocks"
	// TransactionsHandler records one "transaction" entity per matching transaction.
	TransactionsHandler = "transactions"

	EntityBlock       = "block"
	EntityTransaction = "transaction"
)

func init() {
	Register(BlocksHandler, func(config.DataSourceConfig, *logger.Logger) (Handler, error) {
		return BlockHandler(handleBlock), nil
	})
	Register(TransactionsHandler, func(config.DataSourceConfig, *logger.Logger) (Handler, error) {
		return TransactionHandler(handleTransaction), nil
	})
}

// BlockEntity is the entity written by the blocks handler.
type BlockEntity struct {
	Hash       common.Hash `json:"hash"`
	ParentHash common.Hash `json:"parent_hash"`
	Timestamp  uint64      `json:"timestamp"`
	TxCount    int         `json:"tx_count"`
}

// TransactionEntity is the entity written by the transactions handler.
type TransactionEntity struct {
	BlockHeight uint64          `json:"block_height"`
	Index       int             `json:"index"`
	From        *common.Address `json:"from,omitempty"`
	To          *common.Address `json:"to,omitempty"`
	Value       string          `json:"value"`
	Nonce       uint64          `json:"nonce"`
}

func handleBlock(_ context.Context, block *types.RawBlock) ([]types.EntityOperation, error) {
	op, err := types.SetEntity(EntityBlock, strconv.FormatUint(block.Height, 10), BlockEntity{
		Hash:       block.Hash,
		ParentHash: block.ParentHash,
		Timestamp:  block.Timestamp,
		TxCount:    len(block.Transactions()),
	})
	if err != nil {
		return nil, Fatal(err)
	}

	return []types.EntityOperation{op}, nil
}

func handleTransaction(
	_ context.Context, block *types.RawBlock, tx *gethtypes.Transaction, index int,
) ([]types.EntityOperation, error) {
	entity := TransactionEntity{
		BlockHeight: block.Height,
		Index:       index,
		To:          tx.To(),
		Value:       tx.Value().String(),
		Nonce:       tx.Nonce(),
	}

	if from, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(tx.ChainId()), tx); err == nil {
		entity.From = &from
	}

	op, err := types.SetEntity(EntityTransaction, tx.Hash().Hex(), entity)
	if err != nil {
		return nil, Fatal(err)
	}

	return []types.EntityOperation{op}, nil
}
