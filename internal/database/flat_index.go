package database

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

// Flat index artifact layout (little endian):
//
//	magic   [4]byte "FGFX"
//	version uint16
//	_       uint16
//	dim     uint32
//	count   uint64
//	rows    count*dim float32
//	crc     uint32 IEEE over everything above
const (
	flatMagic       = "FGFX"
	flatVersion     = 1
	flatHeaderSize  = 20
	flatMaxElements = 1 << 31
)

// FlatIndex is an exact inner-product index that scans every stored vector.
type FlatIndex struct {
	dim  int
	data []float32 // row-major, Len()*dim values
}

// NewFlatIndex creates an empty flat index for vectors of width dim.
func NewFlatIndex(dim int) *FlatIndex {
	return &FlatIndex{dim: dim}
}

func (f *FlatIndex) Kind() string { return IndexKindFlat }

func (f *FlatIndex) Dim() int { return f.dim }

func (f *FlatIndex) Len() int { return len(f.data) / f.dim }

// Add appends vec. The caller guarantees it is unit length.
func (f *FlatIndex) Add(vec []float32) (int, error) {
	if len(vec) != f.dim {
		return 0, &DimensionMismatchError{Expected: f.dim, Actual: len(vec)}
	}
	ord := f.Len()
	f.data = append(f.data, vec...)
	return ord, nil
}

// Search scans all rows and keeps the k best by inner product.
func (f *FlatIndex) Search(query []float32, k int) ([]Neighbor, error) {
	if len(query) != f.dim {
		return nil, &DimensionMismatchError{Expected: f.dim, Actual: len(query)}
	}
	n := f.Len()
	if n == 0 {
		return nil, ErrEmptyIndex
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	k = min(k, n)

	top := make([]Neighbor, 0, k)
	for i := range n {
		row := f.data[i*f.dim : (i+1)*f.dim]
		top = insertNeighbor(top, Neighbor{Ordinal: i, Score: InnerProduct(query, row)}, k)
	}
	return top, nil
}

// Vector returns a copy of the row at ordinal.
func (f *FlatIndex) Vector(ordinal int) ([]float32, bool) {
	if ordinal < 0 || ordinal >= f.Len() {
		return nil, false
	}
	out := make([]float32, f.dim)
	copy(out, f.data[ordinal*f.dim:(ordinal+1)*f.dim])
	return out, true
}

// Truncate drops rows at ordinal n and above.
func (f *FlatIndex) Truncate(n int) error {
	if n < 0 || n > f.Len() {
		return fmt.Errorf("truncate to %d out of range [0,%d]", n, f.Len())
	}
	f.data = f.data[:n*f.dim]
	return nil
}

// WriteTo writes the flat artifact with a trailing checksum.
func (f *FlatIndex) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)
	crc := crc32.NewIEEE()
	mw := io.MultiWriter(bw, crc)

	var header [flatHeaderSize]byte
	copy(header[0:4], flatMagic)
	binary.LittleEndian.PutUint16(header[4:6], flatVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(f.dim)) //nolint:gosec // dim is small and positive
	binary.LittleEndian.PutUint64(header[12:20], uint64(f.Len()))
	if _, err := mw.Write(header[:]); err != nil {
		return cw.n, fmt.Errorf("writing header: %w", err)
	}
	if err := binary.Write(mw, binary.LittleEndian, f.data); err != nil {
		return cw.n, fmt.Errorf("writing vectors: %w", err)
	}
	if err := binary.Write(bw, binary.LittleEndian, crc.Sum32()); err != nil {
		return cw.n, fmt.Errorf("writing checksum: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return cw.n, fmt.Errorf("flushing index: %w", err)
	}
	return cw.n, nil
}

func (f *FlatIndex) readFrom(r io.Reader) error {
	br := bufio.NewReader(r)
	crc := crc32.NewIEEE()
	tr := io.TeeReader(br, crc)

	var header [flatHeaderSize]byte
	if _, err := io.ReadFull(tr, header[:]); err != nil {
		return fmt.Errorf("%w: reading header: %w", ErrCorruptIndex, err)
	}
	if string(header[0:4]) != flatMagic {
		return fmt.Errorf("%w: bad magic %q", ErrCorruptIndex, header[0:4])
	}
	if v := binary.LittleEndian.Uint16(header[4:6]); v != flatVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorruptIndex, v)
	}
	dim := int(binary.LittleEndian.Uint32(header[8:12]))
	if dim != f.dim {
		return &DimensionMismatchError{Expected: f.dim, Actual: dim}
	}
	count := binary.LittleEndian.Uint64(header[12:20])
	if count*uint64(dim) > flatMaxElements {
		return fmt.Errorf("%w: implausible vector count %d", ErrCorruptIndex, count)
	}

	data := make([]float32, int(count)*dim) //nolint:gosec // bounded above
	if err := binary.Read(tr, binary.LittleEndian, data); err != nil {
		return fmt.Errorf("%w: reading vectors: %w", ErrCorruptIndex, err)
	}
	want := crc.Sum32()

	var got uint32
	if err := binary.Read(br, binary.LittleEndian, &got); err != nil {
		return fmt.Errorf("%w: reading checksum: %w", ErrCorruptIndex, err)
	}
	if got != want {
		return fmt.Errorf("%w: checksum mismatch", ErrCorruptIndex)
	}

	f.data = data
	return nil
}
