package indexer

import (
	"errors"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	internalcommon "github.com/goran-ethernal/BlockIndexor/internal/common"
	"github.com/goran-ethernal/BlockIndexor/internal/logger"
	"github.com/goran-ethernal/BlockIndexor/internal/mmr"
	"github.com/goran-ethernal/BlockIndexor/pkg/config"
)

// ErrNotIndexed is returned when a proof is requested for a height that is
// outside the committed range.
var ErrNotIndexed = errors.New("height is not indexed")

// ProvenBlock is a committed block covered by a proof.
type ProvenBlock struct {
	Height    uint64      `json:"height"`
	LeafIndex uint64      `json:"leaf_index"`
	Hash      common.Hash `json:"hash"`
}

// BlockProof proves that Blocks were committed under Root, the MMR root at
// the watermark Height.
type BlockProof struct {
	Height uint64        `json:"height"`
	Root   common.Hash   `json:"root"`
	Blocks []ProvenBlock `json:"blocks"`
	Proof  *mmr.Proof    `json:"proof"`
}

// OpenStorage opens the store and the MMR of cfg without connecting to the
// chain. The result only serves reads and proofs.
func OpenStorage(cfg *config.Config, log *logger.Logger) (*Indexer, error) {
	cfg.ApplyDefaults()

	idx := &Indexer{
		cfg:         cfg,
		log:         log.WithComponent(internalcommon.ComponentIndexer),
		startHeight: cfg.StartHeight(),
	}
	idx.endHeight, idx.bounded = cfg.EndHeight()

	if err := idx.open(log); err != nil {
		idx.closeStorage()
		return nil, err
	}

	return idx, nil
}

// Prove builds an inclusion proof for the given committed heights against
// the root recorded at the watermark.
func (i *Indexer) Prove(heights []uint64) (*BlockProof, error) {
	if len(heights) == 0 {
		return nil, errors.New("no heights to prove")
	}

	watermark, err := i.store.Watermark()
	if err != nil {
		return nil, fmt.Errorf("failed to read watermark: %w", err)
	}
	if !watermark.Processed {
		return nil, fmt.Errorf("%w: nothing committed yet", ErrNotIndexed)
	}

	heights = slices.Clone(heights)
	slices.Sort(heights)
	heights = slices.Compact(heights)

	leafCount := watermark.Height - i.startHeight + 1
	result := &BlockProof{Height: watermark.Height}
	indexes := make([]uint64, 0, len(heights))

	for _, h := range heights {
		if h < i.startHeight || h > watermark.Height {
			return nil, fmt.Errorf("%w: %d is outside [%d, %d]", ErrNotIndexed, h, i.startHeight, watermark.Height)
		}

		hash, ok, err := i.store.HashAt(h)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: no stored hash for %d", ErrNotIndexed, h)
		}

		indexes = append(indexes, h-i.startHeight)
		result.Blocks = append(result.Blocks, ProvenBlock{Height: h, LeafIndex: h - i.startHeight, Hash: hash})
	}

	if result.Root, err = i.mmr.RootAt(leafCount); err != nil {
		return nil, err
	}

	if result.Proof, err = i.mmr.Proof(indexes, leafCount); err != nil {
		return nil, err
	}

	return result, nil
}

// Verify checks p against its own root.
func (p *BlockProof) Verify() error {
	leaves := make(map[uint64]common.Hash, len(p.Blocks))
	for _, b := range p.Blocks {
		leaves[b.LeafIndex] = b.Hash
	}

	return mmr.VerifyProof(p.Root, p.Proof, leaves)
}
