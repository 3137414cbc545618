// Package reorg finds where the indexed chain forked from the canonical one
// and rolls the store and the MMR back to that point.
package reorg

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	internalcommon "github.com/goran-ethernal/BlockIndexor/internal/common"
	"github.com/goran-ethernal/BlockIndexor/internal/logger"
	"github.com/goran-ethernal/BlockIndexor/internal/mmr"
	"github.com/goran-ethernal/BlockIndexor/internal/retry"
	"github.com/goran-ethernal/BlockIndexor/pkg/chain"
	"github.com/goran-ethernal/BlockIndexor/pkg/store"
)

// DefaultMaxDepth is used when no max depth is configured.
const DefaultMaxDepth = 64

// Ancestor is the result of a common ancestor search.
type Ancestor struct {
	// Height is the highest height whose stored hash is canonical. Meaningful only when Found is set.
	Height uint64
	// Found is false when no stored height is canonical, so indexing restarts at the start height.
	Found bool
}

// Controller handles chain reorganizations detected by the dispatcher.
type Controller struct {
	store       store.Store
	client      chain.Client
	mmr         *mmr.MerkleMountainRange
	retry       *retry.Manager
	startHeight uint64
	maxDepth    uint64
	log         *logger.Logger
}

// NewController creates a reorg controller. A zero maxDepth uses DefaultMaxDepth.
func NewController(
	s store.Store,
	client chain.Client,
	accumulator *mmr.MerkleMountainRange,
	retryManager *retry.Manager,
	startHeight, maxDepth uint64,
	log *logger.Logger,
) *Controller {
	if maxDepth == 0 {
		maxDepth = DefaultMaxDepth
	}

	return &Controller{
		store:       s,
		client:      client,
		mmr:         accumulator,
		retry:       retryManager,
		startHeight: startHeight,
		maxDepth:    maxDepth,
		log:         log.WithComponent(internalcommon.ComponentReorgController),
	}
}

// FindCommonAncestor walks back from the processed height from, comparing
// stored hashes with the canonical ones, until they agree. At most maxDepth
// heights may differ, otherwise ErrReorgTooDeep is returned.
func (c *Controller) FindCommonAncestor(ctx context.Context, from uint64) (Ancestor, error) {
	for height := from; ; height-- {
		if height < c.startHeight {
			return Ancestor{}, nil
		}

		if from-height > c.maxDepth {
			ReorgTooDeepInc()
			return Ancestor{}, fmt.Errorf("%w: no common ancestor within %d blocks below %d",
				ErrReorgTooDeep, c.maxDepth, from)
		}

		stored, ok, err := c.store.HashAt(height)
		if err != nil {
			return Ancestor{}, fmt.Errorf("failed to get stored hash at %d: %w", height, err)
		}
		if !ok {
			// nothing stored below this height
			return Ancestor{}, nil
		}

		var canonical common.Hash
		err = c.retry.Do(ctx, "hash_at", func() error {
			h, err := c.client.HashAt(ctx, height)
			if err != nil {
				return err
			}
			canonical = h
			return nil
		})
		if err != nil {
			return Ancestor{}, fmt.Errorf("failed to get canonical hash at %d: %w", height, err)
		}

		if stored == canonical {
			return Ancestor{Height: height, Found: true}, nil
		}

		c.log.Debugw("stored hash is not canonical",
			"height", height,
			"stored", stored.Hex(),
			"canonical", canonical.Hex(),
		)

		if height == 0 {
			return Ancestor{}, nil
		}
	}
}

// Rollback removes every height above the ancestor from the store and the
// MMR and returns the height to resume indexing at.
func (c *Controller) Rollback(ctx context.Context, ancestor Ancestor) (uint64, error) {
	resume := c.startHeight
	if ancestor.Found {
		resume = ancestor.Height + 1
	}

	if err := c.store.Truncate(ctx, resume); err != nil {
		return 0, fmt.Errorf("failed to truncate store from %d: %w", resume, err)
	}

	if err := c.mmr.Truncate(resume - c.startHeight); err != nil {
		return 0, fmt.Errorf("failed to truncate mmr to %d leaves: %w", resume-c.startHeight, err)
	}

	return resume, nil
}

// Handle resolves a detected reorg: it finds the common ancestor below the
// watermark, rolls back and returns the resume height.
func (c *Controller) Handle(ctx context.Context, detected *ReorgDetectedError) (uint64, error) {
	watermark, err := c.store.Watermark()
	if err != nil {
		return 0, fmt.Errorf("failed to read watermark: %w", err)
	}

	c.log.Warnw("reorg detected",
		"height", detected.Height,
		"watermark", watermark.Height,
		"details", detected.Details,
	)

	if !watermark.Processed {
		return c.startHeight, nil
	}

	ancestor, err := c.FindCommonAncestor(ctx, watermark.Height)
	if err != nil {
		return 0, err
	}

	resume, err := c.Rollback(ctx, ancestor)
	if err != nil {
		return 0, err
	}

	depth := watermark.Height + 1 - resume
	ReorgDetectedLog(depth, resume)

	c.log.Infow("rolled back reorganized blocks",
		"common_ancestor", ancestor.Height,
		"ancestor_found", ancestor.Found,
		"depth", depth,
		"resume_height", resume,
	)

	return resume, nil
}
