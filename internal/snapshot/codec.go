package snapshot

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how the index file payload is stored.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZSTD Compression = 2
)

// ParseCompression maps a config value to a Compression. An empty string
// selects zstd.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "zstd":
		return CompressionZSTD, nil
	case "lz4":
		return CompressionLZ4, nil
	case "none", "raw":
		return CompressionNone, nil
	default:
		return 0, fmt.Errorf("snapshot: unknown compression %q", s)
	}
}

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// writeCompressed writes the codec byte followed by the payload produced by
// writeFunc, compressed with c.
func writeCompressed(w io.Writer, c Compression, writeFunc func(io.Writer) error) error {
	if _, err := w.Write([]byte{byte(c)}); err != nil {
		return err
	}
	switch c {
	case CompressionNone:
		return writeFunc(w)
	case CompressionLZ4:
		zw := lz4.NewWriter(w)
		if err := writeFunc(zw); err != nil {
			_ = zw.Close()
			return err
		}
		return zw.Close()
	case CompressionZSTD:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		if err := writeFunc(zw); err != nil {
			_ = zw.Close()
			return err
		}
		return zw.Close()
	default:
		return fmt.Errorf("snapshot: unknown compression %d", c)
	}
}

// readCompressed reads the codec byte and hands a decompressing reader to
// readFunc.
func readCompressed(r io.Reader, readFunc func(io.Reader) error) error {
	br := bufio.NewReader(r)
	b, err := br.ReadByte()
	if err != nil {
		return fmt.Errorf("%w: codec header: %v", ErrCorrupt, err)
	}
	switch Compression(b) {
	case CompressionNone:
		return readFunc(br)
	case CompressionLZ4:
		return readFunc(lz4.NewReader(br))
	case CompressionZSTD:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
		}
		defer zr.Close()
		return readFunc(zr)
	default:
		return fmt.Errorf("%w: unknown codec %d", ErrCorrupt, b)
	}
}
