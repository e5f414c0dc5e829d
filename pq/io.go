package pq

import (
	"fmt"
	"io"

	"github.com/hupe1980/annex/persistence"
)

// CurrentVersion is the version written by Write.
// Version 0 carries no anisotropic threshold (implicitly Unweighted).
const CurrentVersion = 1

// Write serializes the ProductQuantization at the current version.
func (pq *ProductQuantization) Write(w io.Writer) error {
	return pq.WriteVersion(w, CurrentVersion)
}

// WriteVersion serializes at a specific container version. Re-saving a
// version-0 blob at version 0 is byte-identical to the original.
func (pq *ProductQuantization) WriteVersion(w io.Writer, version int) error {
	if version < 0 || version > CurrentVersion {
		return fmt.Errorf("pq: unsupported version %d", version)
	}
	if version == 0 && pq.AnisotropicThreshold != Unweighted {
		return fmt.Errorf("pq: version 0 cannot carry an anisotropic threshold")
	}

	bw := persistence.NewWriter(w)
	if err := bw.WriteInt(version); err != nil {
		return err
	}
	if err := bw.WriteInt(pq.OriginalDimension); err != nil {
		return err
	}
	if err := bw.WriteInt(len(pq.GlobalCentroid)); err != nil {
		return err
	}
	if err := bw.WriteFloat32Slice(pq.GlobalCentroid); err != nil {
		return err
	}
	if err := bw.WriteInt(pq.M); err != nil {
		return err
	}
	if version >= 1 {
		if err := bw.WriteFloat32(pq.AnisotropicThreshold); err != nil {
			return err
		}
	}
	for _, so := range pq.SubvectorSizesAndOffsets {
		if err := bw.WriteInt(so[0]); err != nil {
			return err
		}
	}
	if err := bw.WriteInt(pq.ClusterCount); err != nil {
		return err
	}
	for m := range pq.Codebooks {
		if err := bw.WriteFloat32Slice(pq.Codebooks[m]); err != nil {
			return err
		}
	}
	return nil
}

// Load deserializes a ProductQuantization written by Write.
func Load(r io.Reader) (*ProductQuantization, error) {
	br := persistence.NewReader(r)

	version, err := br.ReadInt()
	if err != nil {
		return nil, err
	}
	if version < 0 || version > CurrentVersion {
		return nil, fmt.Errorf("pq: unsupported version %d", version)
	}

	dim, err := br.ReadInt()
	if err != nil {
		return nil, err
	}
	centroidLen, err := br.ReadInt()
	if err != nil {
		return nil, err
	}
	var globalCentroid []float32
	if centroidLen > 0 {
		globalCentroid = make([]float32, centroidLen)
		if err := br.ReadFloat32Slice(globalCentroid); err != nil {
			return nil, err
		}
	}

	m, err := br.ReadInt()
	if err != nil {
		return nil, err
	}
	if m <= 0 || m > dim {
		return nil, fmt.Errorf("pq: invalid subspace count %d", m)
	}

	threshold := Unweighted
	if version >= 1 {
		if threshold, err = br.ReadFloat32(); err != nil {
			return nil, err
		}
	}

	sizesAndOffsets := make([][2]int, m)
	offset := 0
	for i := range sizesAndOffsets {
		size, err := br.ReadInt()
		if err != nil {
			return nil, err
		}
		sizesAndOffsets[i] = [2]int{size, offset}
		offset += size
	}
	if offset != dim {
		return nil, fmt.Errorf("pq: subspace sizes sum to %d, expected %d", offset, dim)
	}

	k, err := br.ReadInt()
	if err != nil {
		return nil, err
	}
	if k <= 0 || k > MaxClusters {
		return nil, fmt.Errorf("pq: invalid cluster count %d", k)
	}

	codebooks := make([][]float32, m)
	for i := range codebooks {
		codebooks[i] = make([]float32, k*sizesAndOffsets[i][0])
		if err := br.ReadFloat32Slice(codebooks[i]); err != nil {
			return nil, err
		}
	}

	return &ProductQuantization{
		M:                        m,
		ClusterCount:             k,
		OriginalDimension:        dim,
		SubvectorSizesAndOffsets: sizesAndOffsets,
		Codebooks:                codebooks,
		GlobalCentroid:           globalCentroid,
		AnisotropicThreshold:     threshold,
	}, nil
}

// WriteCodes serializes the encoded vectors, chunk by chunk, with optional
// block compression.
func (cv *PQVectors) WriteCodes(w io.Writer, ct persistence.CompressionType) error {
	bw := persistence.NewWriter(w)
	if err := bw.WriteInt(cv.layout.VectorCount); err != nil {
		return err
	}
	if err := bw.WriteInt(int(ct)); err != nil {
		return err
	}
	for _, chunk := range cv.chunks {
		block, err := persistence.CompressBlock(chunk, ct)
		if err != nil {
			return err
		}
		if err := bw.WriteInt(len(block)); err != nil {
			return err
		}
		if err := bw.WriteBytes(block); err != nil {
			return err
		}
	}
	return nil
}

// LoadCodes deserializes encoded vectors written by WriteCodes, re-chunked
// per the layout derived from the stored count and pq.M.
func LoadCodes(r io.Reader, pq *ProductQuantization) (*PQVectors, error) {
	br := persistence.NewReader(r)
	count, err := br.ReadInt()
	if err != nil {
		return nil, err
	}
	ctRaw, err := br.ReadInt()
	if err != nil {
		return nil, err
	}
	ct := persistence.CompressionType(ctRaw)

	layout, err := NewLayout(count, pq.M)
	if err != nil {
		return nil, err
	}

	chunks := make([][]byte, layout.TotalChunks)
	for i := range chunks {
		blockLen, err := br.ReadInt()
		if err != nil {
			return nil, err
		}
		block := make([]byte, blockLen)
		if err := br.ReadBytes(block); err != nil {
			return nil, err
		}
		chunk, err := persistence.DecompressBlock(block, ct)
		if err != nil {
			return nil, err
		}
		want := layout.FullChunkBytes
		if i >= layout.FullSizeChunks {
			want = layout.LastChunkBytes
		}
		if len(chunk) != want {
			return nil, fmt.Errorf("pq: chunk %d has %d bytes, expected %d", i, len(chunk), want)
		}
		chunks[i] = chunk
	}

	return NewPQVectors(pq, chunks, layout), nil
}
