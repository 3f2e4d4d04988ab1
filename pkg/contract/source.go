package contract

import (
	"context"
	"fmt"
	"io"
	"os"
)

// maxMetadataSize caps how much of a metadata document is read.
const maxMetadataSize = 32 << 20

// Source supplies a raw metadata document.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
	String() string
}

// FileSource reads metadata from the local filesystem.
type FileSource struct {
	Path string
}

// Fetch reads the file.
func (s FileSource) Fetch(ctx context.Context) ([]byte, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readLimited(f)
}

func (s FileSource) String() string {
	return "file:" + s.Path
}

// Load fetches and parses metadata from src.
func Load(ctx context.Context, src Source) (*Schema, error) {
	data, err := src.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %w", ErrSchema, src, err)
	}
	s, err := ParseMetadata(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", src, err)
	}
	return s, nil
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxMetadataSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxMetadataSize {
		return nil, fmt.Errorf("metadata exceeds %d bytes", maxMetadataSize)
	}
	return data, nil
}
