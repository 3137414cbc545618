package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	internalcommon "github.com/goran-ethernal/BlockIndexor/internal/common"
	"github.com/goran-ethernal/BlockIndexor/internal/logger"
	"github.com/goran-ethernal/BlockIndexor/pkg/config"
	pkghandler "github.com/goran-ethernal/BlockIndexor/pkg/handler"
	"github.com/goran-ethernal/BlockIndexor/pkg/types"
)

// Compile-time check to ensure Executor implements pkghandler.Executor interface.
var _ pkghandler.Executor = (*Executor)(nil)

// source is a data source bound to its handler.
type source struct {
	name       string
	handler    Handler
	startBlock uint64
	endBlock   uint64
	addresses  map[common.Address]struct{}
	topics     map[common.Hash]struct{}
}

func (s *source) activeAt(height uint64) bool {
	return height >= s.startBlock && (s.endBlock == 0 || height <= s.endBlock)
}

// Executor runs the handlers of the configured data sources in configuration order.
type Executor struct {
	sources []*source
	byName  map[string]*source
	log     *logger.Logger
}

// NewExecutor instantiates the handler of every data source.
func NewExecutor(dataSources []config.DataSourceConfig, log *logger.Logger) (*Executor, error) {
	e := &Executor{
		byName: make(map[string]*source, len(dataSources)),
		log:    log.WithComponent(internalcommon.ComponentIndexer),
	}

	for _, ds := range dataSources {
		if _, dup := e.byName[ds.Name]; dup {
			return nil, fmt.Errorf("duplicate data source name '%s'", ds.Name)
		}

		kind, err := ParseKind(ds.Kind)
		if err != nil {
			return nil, fmt.Errorf("data source %s: %w", ds.Name, err)
		}

		h, err := Create(ds, log)
		if err != nil {
			return nil, fmt.Errorf("data source %s: %w", ds.Name, err)
		}
		if h.Kind() != kind {
			return nil, fmt.Errorf("data source %s: handler %s handles %s, data source kind is %s",
				ds.Name, ds.Handler, h.Kind(), kind)
		}

		s := &source{
			name:       ds.Name,
			handler:    h,
			startBlock: ds.StartBlock,
			endBlock:   ds.EndBlock,
		}
		if len(ds.Addresses) > 0 {
			s.addresses = make(map[common.Address]struct{}, len(ds.Addresses))
			for _, addr := range ds.Addresses {
				s.addresses[common.HexToAddress(addr)] = struct{}{}
			}
		}
		if len(ds.Events) > 0 {
			s.topics = make(map[common.Hash]struct{}, len(ds.Events))
			for _, sig := range ds.Events {
				s.topics[crypto.Keccak256Hash([]byte(sig))] = struct{}{}
			}
		}

		e.sources = append(e.sources, s)
		e.byName[ds.Name] = s
	}

	return e, nil
}

// HandlersAt returns the data sources active at height, in configuration order.
func (e *Executor) HandlersAt(height uint64) []string {
	var names []string
	for _, s := range e.sources {
		if s.activeAt(height) {
			names = append(names, s.name)
		}
	}

	return names
}

// LogFilter reports whether any data source needs logs and which emitters to
// fetch them for. A nil address list means every log of the block.
func (e *Executor) LogFilter() (needed bool, addresses []common.Address) {
	for _, s := range e.sources {
		if s.handler.Kind() != KindLog {
			continue
		}
		if len(s.addresses) == 0 {
			return true, nil
		}

		needed = true
		for addr := range s.addresses {
			addresses = append(addresses, addr)
		}
	}

	return needed, addresses
}

// Execute runs the handler of the named data source against block.
func (e *Executor) Execute(
	ctx context.Context, handlerName string, block *types.RawBlock,
) ([]types.EntityOperation, error) {
	s, ok := e.byName[handlerName]
	if !ok {
		return nil, &types.HandlerError{
			Handler: handlerName,
			Height:  block.Height,
			Fatal:   true,
			Err:     errors.New("no such handler"),
		}
	}

	start := time.Now()
	ops, err := e.run(ctx, s, block)
	HandlerDurationLog(s.name, time.Since(start))

	if err != nil {
		HandlerErrorInc(s.name)
		e.log.Debugw("handler failed", "handler", s.name, "height", block.Height, "error", err)

		var handlerErr *types.HandlerError
		if errors.As(err, &handlerErr) {
			return nil, handlerErr
		}

		return nil, &types.HandlerError{
			Handler: s.name,
			Height:  block.Height,
			Fatal:   IsFatal(err),
			Err:     err,
		}
	}

	HandlerOpsAdd(s.name, len(ops))

	return ops, nil
}

func (e *Executor) run(ctx context.Context, s *source, block *types.RawBlock) ([]types.EntityOperation, error) {
	switch h := s.handler.(type) {
	case BlockHandler:
		return h(ctx, block)

	case TransactionHandler:
		var ops []types.EntityOperation
		for i, tx := range block.Transactions() {
			if s.addresses != nil {
				if tx.To() == nil {
					continue
				}
				if _, ok := s.addresses[*tx.To()]; !ok {
					continue
				}
			}

			txOps, err := h(ctx, block, tx, i)
			if err != nil {
				return nil, fmt.Errorf("transaction %s: %w", tx.Hash().Hex(), err)
			}
			ops = append(ops, txOps...)
		}
		return ops, nil

	case LogHandler:
		var ops []types.EntityOperation
		for i := range block.Logs {
			log := &block.Logs[i]
			if log.Removed {
				continue
			}
			if s.addresses != nil {
				if _, ok := s.addresses[log.Address]; !ok {
					continue
				}
			}
			if s.topics != nil {
				if len(log.Topics) == 0 {
					continue
				}
				if _, ok := s.topics[log.Topics[0]]; !ok {
					continue
				}
			}

			logOps, err := h(ctx, block, log)
			if err != nil {
				return nil, fmt.Errorf("log %d of tx %s: %w", log.Index, log.TxHash.Hex(), err)
			}
			ops = append(ops, logOps...)
		}
		return ops, nil

	default:
		return nil, Fatal(fmt.Errorf("unsupported handler type %T", h))
	}
}
