package mmr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

const (
	fileHeaderSize = 8
	nodeSize       = common.HashLength
)

// FileDb stores nodes in a flat file: an 8 byte big endian leaf length
// followed by fixed size digests indexed by position.
type FileDb struct {
	mu   sync.Mutex
	file *os.File
}

var (
	_ Db     = (*FileDb)(nil)
	_ Pruner = (*FileDb)(nil)
)

// OpenFileDb opens or creates the node file at path.
func OpenFileDb(path string) (*FileDb, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644) //nolint:mnd
	if err != nil {
		return nil, fmt.Errorf("failed to open mmr file %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat mmr file %s: %w", path, err)
	}

	if info.Size() < fileHeaderSize {
		var header [fileHeaderSize]byte
		if _, err := f.WriteAt(header[:], 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write mmr file header: %w", err)
		}
	}

	return &FileDb{file: f}, nil
}

func (f *FileDb) GetLeafLength() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var header [fileHeaderSize]byte
	if _, err := f.file.ReadAt(header[:], 0); err != nil {
		return 0, fmt.Errorf("failed to read mmr file header: %w", err)
	}

	return binary.BigEndian.Uint64(header[:]), nil
}

func (f *FileDb) SetLeafLength(leafLength uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var header [fileHeaderSize]byte
	binary.BigEndian.PutUint64(header[:], leafLength)
	if _, err := f.file.WriteAt(header[:], 0); err != nil {
		return fmt.Errorf("failed to write mmr file header: %w", err)
	}

	return f.file.Sync()
}

func (f *FileDb) GetNodes(positions []uint64) (map[uint64]common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[uint64]common.Hash, len(positions))
	var buf [nodeSize]byte
	for _, pos := range positions {
		_, err := f.file.ReadAt(buf[:], nodeOffset(pos))
		if errors.Is(err, io.EOF) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read mmr node %d: %w", pos, err)
		}
		out[pos] = common.BytesToHash(buf[:])
	}

	return out, nil
}

func (f *FileDb) SetNodes(nodes map[uint64]common.Hash) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for pos, digest := range nodes {
		if _, err := f.file.WriteAt(digest[:], nodeOffset(pos)); err != nil {
			return fmt.Errorf("failed to write mmr node %d: %w", pos, err)
		}
	}

	return nil
}

func (f *FileDb) DeleteFrom(pos uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := f.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat mmr file: %w", err)
	}

	if info.Size() <= nodeOffset(pos) {
		return nil
	}

	if err := f.file.Truncate(nodeOffset(pos)); err != nil {
		return fmt.Errorf("failed to truncate mmr file: %w", err)
	}

	return f.file.Sync()
}

func (f *FileDb) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.file.Close()
}

func nodeOffset(pos uint64) int64 {
	return int64(fileHeaderSize + pos*nodeSize)
}
