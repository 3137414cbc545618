package indexer

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/BlockIndexor/internal/mmr"
	pkgstore "github.com/goran-ethernal/BlockIndexor/pkg/store"
)

// ErrMetadataMismatch is returned when the database was indexed with a
// different start height or on a different chain.
var ErrMetadataMismatch = errors.New("stored metadata does not match")

// checkMetadata records start height, chain id and genesis hash on the first
// run and refuses to continue when any of them changed since.
func (i *Indexer) checkMetadata(ctx context.Context) error {
	var (
		chainID string
		genesis common.Hash
	)

	err := i.retry.Do(ctx, "chain_id", func() error {
		id, err := i.client.ChainID(ctx)
		if err != nil {
			return err
		}
		chainID = id.String()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to get chain id: %w", err)
	}

	err = i.retry.Do(ctx, "genesis_hash", func() error {
		h, err := i.client.HashAt(ctx, 0)
		if err != nil {
			return err
		}
		genesis = h
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to get genesis hash: %w", err)
	}

	expected := map[string]string{
		pkgstore.MetaStartHeight: strconv.FormatUint(i.startHeight, 10),
		pkgstore.MetaChainID:     chainID,
		pkgstore.MetaGenesisHash: genesis.Hex(),
	}

	for _, key := range []string{pkgstore.MetaStartHeight, pkgstore.MetaChainID, pkgstore.MetaGenesisHash} {
		stored, ok, err := i.store.GetMetadata(key)
		if err != nil {
			return err
		}

		if !ok {
			if err := i.store.SetMetadata(key, expected[key]); err != nil {
				return err
			}
			continue
		}

		if stored != expected[key] {
			return fmt.Errorf("%w: %s is %s in the database but %s now", ErrMetadataMismatch, key, stored, expected[key])
		}
	}

	i.log.Infow("metadata verified", "chain_id", chainID, "start_height", i.startHeight, "genesis", genesis.Hex())

	return nil
}

// reconcile brings the MMR in line with the watermark. A crash between a
// commit and its MMR append leaves the MMR short, so missing leaves are
// appended from the stored block hashes. An MMR ahead of the watermark is
// truncated. Finally the current root is checked against the recorded root.
func (i *Indexer) reconcile(ctx context.Context) error {
	watermark, err := i.store.Watermark()
	if err != nil {
		return fmt.Errorf("failed to read watermark: %w", err)
	}

	var expected uint64
	if watermark.Processed {
		expected = watermark.Height - i.startHeight + 1
	}

	leaves := i.mmr.LeafCount()
	switch {
	case leaves > expected:
		i.log.Warnw("mmr ahead of watermark, truncating", "leaves", leaves, "expected", expected)
		if err := i.mmr.Truncate(expected); err != nil {
			return fmt.Errorf("failed to truncate mmr: %w", err)
		}

	case leaves < expected:
		from := i.startHeight + leaves
		i.log.Warnw("mmr behind watermark, appending stored blocks",
			"leaves", leaves,
			"expected", expected,
			"from_height", from,
			"to_height", watermark.Height,
		)

		records, err := i.store.Blocks(from, watermark.Height)
		if err != nil {
			return err
		}
		if uint64(len(records)) != expected-leaves {
			return fmt.Errorf("store holds %d of the %d blocks between %d and %d",
				len(records), expected-leaves, from, watermark.Height)
		}

		for _, record := range records {
			if _, err := i.mmr.Append(record.Hash); err != nil {
				return fmt.Errorf("failed to append block %d: %w", record.Height, err)
			}

			root, err := i.mmr.Root()
			if err != nil {
				return err
			}
			if err := i.store.SetMMRRoot(record.Height, root); err != nil {
				return err
			}
		}
	}

	if i.cfg.MMR.VerifyOnStartup {
		if err := i.mmr.CheckIntegrity(ctx); err != nil {
			return fmt.Errorf("mmr integrity check failed: %w", err)
		}
	}

	if !watermark.Processed {
		return nil
	}

	recorded, ok, err := i.store.MMRRootAt(watermark.Height)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	root, err := i.mmr.Root()
	if err != nil {
		return err
	}

	if root != recorded {
		return &mmr.IntegrityError{
			Expected: recorded,
			Actual:   root,
			Details:  fmt.Sprintf("root does not match the root recorded at height %d", watermark.Height),
		}
	}

	i.log.Infow("mmr reconciled", "leaves", expected, "root", root.Hex())

	return nil
}
