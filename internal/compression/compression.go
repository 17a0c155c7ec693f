// Package compression selects and applies a message-body compression
// codec for the Kafka sink. Sarama's own built-in codecs are left
// disabled (Producer.Compression = CompressionNone) so the sink can
// choose the concrete implementation itself, rather than have the
// driver compress frames it never hands back as plain bytes.
package compression

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

type Algorithm string

const (
	AlgorithmNone   Algorithm = "none"
	AlgorithmGzip   Algorithm = "gzip"
	AlgorithmZstd   Algorithm = "zstd"
	AlgorithmSnappy Algorithm = "snappy"
	AlgorithmLZ4    Algorithm = "lz4"
)

// ParseAlgorithm maps a config string to an Algorithm, defaulting to
// AlgorithmNone for anything unrecognized.
func ParseAlgorithm(name string) Algorithm {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "gzip":
		return AlgorithmGzip
	case "zstd":
		return AlgorithmZstd
	case "snappy":
		return AlgorithmSnappy
	case "lz4":
		return AlgorithmLZ4
	default:
		return AlgorithmNone
	}
}

// Compressor compresses a single message payload.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Algorithm() Algorithm
}

func New(alg Algorithm) Compressor {
	switch alg {
	case AlgorithmGzip:
		return gzipCompressor{}
	case AlgorithmZstd:
		return zstdCompressor{}
	case AlgorithmSnappy:
		return snappyCompressor{}
	case AlgorithmLZ4:
		return lz4Compressor{}
	default:
		return noneCompressor{}
	}
}

type noneCompressor struct{}

func (noneCompressor) Compress(data []byte) ([]byte, error) { return data, nil }
func (noneCompressor) Algorithm() Algorithm                 { return AlgorithmNone }

type gzipCompressor struct{}

func (gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("compression: gzip writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compression: gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compression: gzip close: %w", err)
	}
	return buf.Bytes(), nil
}
func (gzipCompressor) Algorithm() Algorithm { return AlgorithmGzip }

type zstdCompressor struct{}

func (zstdCompressor) Compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("compression: zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}
func (zstdCompressor) Algorithm() Algorithm { return AlgorithmZstd }

type snappyCompressor struct{}

func (snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}
func (snappyCompressor) Algorithm() Algorithm { return AlgorithmSnappy }

type lz4Compressor struct{}

func (lz4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("compression: lz4 write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compression: lz4 close: %w", err)
	}
	return buf.Bytes(), nil
}
func (lz4Compressor) Algorithm() Algorithm { return AlgorithmLZ4 }
