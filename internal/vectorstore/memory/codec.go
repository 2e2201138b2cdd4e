package memory

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
)

const (
	formatVersion  = 1
	flagNormalized = 1 << 0

	// Sanity bounds for headers read from disk.
	maxDimension = 1 << 16
	maxRows      = 1 << 26
	preallocRows = 1024
)

var (
	magic      = [4]byte{'L', 'R', 'I', 'X'}
	crc32Table = crc32.MakeTable(crc32.IEEE)

	ErrCorrupt = errors.New("memory: corrupt index data")
)

type header struct {
	Magic     [4]byte
	Version   uint16
	Flags     uint16
	Dimension uint32
	Rows      uint32
}

// Save writes the index as: header, rows of little-endian float32, then a
// CRC32 of everything before it.
func (s *Index) Save(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	crc := crc32.New(crc32Table)
	bw := bufio.NewWriter(io.MultiWriter(w, crc))
	h := header{Magic: magic, Version: formatVersion, Dimension: uint32(s.dimension), Rows: uint32(len(s.vectors))}
	if s.normalize {
		h.Flags |= flagNormalized
	}
	if err := binary.Write(bw, binary.LittleEndian, h); err != nil {
		return err
	}
	row := make([]byte, 4*s.dimension)
	for _, v := range s.vectors {
		for j, x := range v {
			binary.LittleEndian.PutUint32(row[4*j:], math.Float32bits(x))
		}
		if _, err := bw.Write(row); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, crc.Sum32())
}

// Load reads an index written by Save. Stored rows are taken as-is; they were
// already prepared under the recorded normalization policy.
func Load(r io.Reader) (*Index, error) {
	crc := crc32.New(crc32Table)
	tr := io.TeeReader(r, crc)

	var h header
	if err := binary.Read(tr, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	if h.Magic != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, h.Magic[:])
	}
	if h.Version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, h.Version)
	}
	if h.Dimension == 0 || h.Dimension > maxDimension || h.Rows > maxRows {
		return nil, fmt.Errorf("%w: implausible shape %dx%d", ErrCorrupt, h.Rows, h.Dimension)
	}

	// The row table grows as rows arrive; a header alone never sizes memory.
	dim := int(h.Dimension)
	rows := int(h.Rows)
	vectors := make([][]float32, 0, min(rows, preallocRows))
	row := make([]byte, 4*dim)
	for i := range rows {
		if _, err := io.ReadFull(tr, row); err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrCorrupt, i, err)
		}
		v := make([]float32, dim)
		for j := range v {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(row[4*j:]))
		}
		vectors = append(vectors, v)
	}

	var sum uint32
	if err := binary.Read(r, binary.LittleEndian, &sum); err != nil {
		return nil, fmt.Errorf("%w: checksum: %v", ErrCorrupt, err)
	}
	if sum != crc.Sum32() {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	return &Index{
		normalize: h.Flags&flagNormalized != 0,
		dimension: dim,
		vectors:   vectors,
		loaded:    len(vectors) > 0,
	}, nil
}
