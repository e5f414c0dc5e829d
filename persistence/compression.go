package persistence

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionType defines the compression algorithm for bulk byte payloads
// (PQ code chunks inside index containers).
type CompressionType uint8

const (
	// CompressionNone stores blocks uncompressed.
	CompressionNone CompressionType = 0
	// CompressionLZ4 uses LZ4 block compression (fast, good for hot data).
	CompressionLZ4 CompressionType = 1
	// CompressionZSTD uses ZSTD block compression (better ratio, good for cold data).
	CompressionZSTD CompressionType = 2
)

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Block layout: [UncompressedSize uint32][CompressedSize uint32][Data...].
// CompressedSize == 0 means the data is stored uncompressed.
const blockHeaderSize = 8

// CompressBlock compresses data with the given algorithm. If compression does
// not pay (ratio > 0.9), the block is stored uncompressed.
func CompressBlock(data []byte, ct CompressionType) ([]byte, error) {
	var compressed []byte
	var err error

	switch ct {
	case CompressionNone:
		compressed = nil
	case CompressionLZ4:
		compressed, err = compressLZ4(data)
	case CompressionZSTD:
		compressed = getZstdEncoderCompress(data)
	default:
		return nil, fmt.Errorf("persistence: unknown compression type %d", ct)
	}
	if err != nil {
		return nil, err
	}

	if compressed == nil || len(compressed) > len(data)*9/10 {
		out := make([]byte, blockHeaderSize+len(data))
		binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
		binary.LittleEndian.PutUint32(out[4:], 0)
		copy(out[blockHeaderSize:], data)
		return out, nil
	}

	out := make([]byte, blockHeaderSize+len(compressed))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
	copy(out[blockHeaderSize:], compressed)
	return out, nil
}

// DecompressBlock reverses CompressBlock. The compression type must match the
// one the block was written with (it is not stored in the block).
func DecompressBlock(block []byte, ct CompressionType) ([]byte, error) {
	if len(block) < blockHeaderSize {
		return nil, errors.New("persistence: short block")
	}
	uncompressedSize := binary.LittleEndian.Uint32(block[0:])
	compressedSize := binary.LittleEndian.Uint32(block[4:])
	payload := block[blockHeaderSize:]

	if compressedSize == 0 {
		if uint32(len(payload)) < uncompressedSize {
			return nil, errors.New("persistence: truncated uncompressed block")
		}
		out := make([]byte, uncompressedSize)
		copy(out, payload)
		return out, nil
	}

	if uint32(len(payload)) < compressedSize {
		return nil, errors.New("persistence: truncated compressed block")
	}
	payload = payload[:compressedSize]

	switch ct {
	case CompressionLZ4:
		out := make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("persistence: lz4 decompress: %w", err)
		}
		return out[:n], nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(payload, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("persistence: zstd decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("persistence: unknown compression type %d", ct)
	}
}

// BlockSize returns the total encoded size of the block starting at data,
// including its header, or an error if the header is truncated.
func BlockSize(data []byte) (int, error) {
	if len(data) < blockHeaderSize {
		return 0, errors.New("persistence: short block header")
	}
	uncompressedSize := binary.LittleEndian.Uint32(data[0:])
	compressedSize := binary.LittleEndian.Uint32(data[4:])
	if compressedSize == 0 {
		return blockHeaderSize + int(uncompressedSize), nil
	}
	return blockHeaderSize + int(compressedSize), nil
}

func compressLZ4(data []byte) ([]byte, error) {
	buf := make([]byte, lz4.CompressBlockBound(len(data)))
	var c lz4.Compressor
	n, err := c.CompressBlock(data, buf)
	if err != nil {
		return nil, fmt.Errorf("persistence: lz4 compress: %w", err)
	}
	if n == 0 {
		// Incompressible input.
		return nil, nil
	}
	return buf[:n], nil
}

func getZstdEncoderCompress(data []byte) []byte {
	enc := getZstdEncoder()
	defer zstdEncoderPool.Put(enc)
	return enc.EncodeAll(data, nil)
}
