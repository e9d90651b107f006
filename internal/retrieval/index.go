package retrieval

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

const (
	indexMagic   = "FRIX"
	indexVersion = uint16(1)
)

// ErrCorruptIndex is returned when a serialized index cannot be decoded.
var ErrCorruptIndex = errors.New("corrupt index")

// Header identifies how an index was built. An index is only reusable when
// both the embedding model and the corpus hash match.
type Header struct {
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
	CorpusHash string    `json:"corpus_hash"`
	BuiltAt    time.Time `json:"built_at"`
	Count      int       `json:"count"`
}

// Index is an immutable set of chunks and their embedding vectors.
// Vectors[i] is the embedding of Chunks[i].
type Index struct {
	Header  Header
	Chunks  []string
	Vectors [][]float32
}

// Build embeds every chunk and returns the resulting index. An empty chunk
// list produces an empty index without calling the embedder.
func Build(ctx context.Context, e *Embedder, chunks []string, corpusHash string) (*Index, error) {
	vecs, err := e.EmbedBatch(ctx, chunks)
	if err != nil {
		return nil, err
	}

	dims := 0
	for i, v := range vecs {
		if i == 0 {
			dims = len(v)
			continue
		}
		if len(v) != dims {
			return nil, fmt.Errorf("chunk %d embedded with %d dimensions, expected %d", i, len(v), dims)
		}
	}

	return &Index{
		Header: Header{
			Model:      e.Model(),
			Dimensions: dims,
			CorpusHash: corpusHash,
			BuiltAt:    time.Now().UTC(),
			Count:      len(chunks),
		},
		Chunks:  append([]string(nil), chunks...),
		Vectors: vecs,
	}, nil
}

// Len returns the number of chunks in the index.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.Chunks)
}

// Compatible reports whether the index was built with the given model over
// the corpus with the given hash.
func (idx *Index) Compatible(model, corpusHash string) bool {
	return idx != nil && idx.Header.Model == model && idx.Header.CorpusHash == corpusHash
}

// MarshalBinary encodes the index as: magic, version, header length, JSON
// header, then each chunk as a length-prefixed string, then all vectors as
// little-endian float32s.
func (idx *Index) MarshalBinary() ([]byte, error) {
	hdr := idx.Header
	hdr.Count = len(idx.Chunks)
	hdrJSON, err := json.Marshal(hdr)
	if err != nil {
		return nil, fmt.Errorf("encoding index header: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(indexMagic)
	binary.Write(&buf, binary.LittleEndian, indexVersion)
	binary.Write(&buf, binary.LittleEndian, uint32(len(hdrJSON)))
	buf.Write(hdrJSON)

	for _, c := range idx.Chunks {
		binary.Write(&buf, binary.LittleEndian, uint32(len(c)))
		buf.WriteString(c)
	}
	for i, v := range idx.Vectors {
		if len(v) != hdr.Dimensions {
			return nil, fmt.Errorf("vector %d has %d dimensions, header says %d", i, len(v), hdr.Dimensions)
		}
		buf.Write(encodeFloat32s(v))
	}
	return buf.Bytes(), nil
}

// UnmarshalIndex decodes an index produced by MarshalBinary.
func UnmarshalIndex(data []byte) (*Index, error) {
	r := bytes.NewReader(data)

	magic := make([]byte, len(indexMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != indexMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptIndex)
	}
	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: reading version: %v", ErrCorruptIndex, err)
	}
	if version != indexVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptIndex, version)
	}

	hdrJSON, err := readChunk(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrCorruptIndex, err)
	}
	var hdr Header
	if err := json.Unmarshal(hdrJSON, &hdr); err != nil {
		return nil, fmt.Errorf("%w: decoding header: %v", ErrCorruptIndex, err)
	}
	if hdr.Count < 0 || hdr.Dimensions < 0 {
		return nil, fmt.Errorf("%w: negative sizes in header", ErrCorruptIndex)
	}

	// Every chunk carries at least a 4-byte length prefix.
	if hdr.Count > r.Len()/4 {
		return nil, fmt.Errorf("%w: header claims %d chunks in %d bytes", ErrCorruptIndex, hdr.Count, r.Len())
	}

	idx := &Index{Header: hdr, Chunks: make([]string, 0, hdr.Count)}
	for i := 0; i < hdr.Count; i++ {
		b, err := readChunk(r)
		if err != nil {
			return nil, fmt.Errorf("%w: reading chunk %d: %v", ErrCorruptIndex, i, err)
		}
		idx.Chunks = append(idx.Chunks, string(b))
	}

	if err := checkVectorBytes(r.Len(), hdr.Count, hdr.Dimensions); err != nil {
		return nil, err
	}
	rest := data[len(data)-r.Len():]
	idx.Vectors = make([][]float32, hdr.Count)
	stride := hdr.Dimensions * 4
	for i := range idx.Vectors {
		v, err := decodeFloat32s(rest[i*stride : (i+1)*stride])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
		}
		idx.Vectors[i] = v
	}
	return idx, nil
}

// checkVectorBytes verifies that n bytes hold exactly count vectors of dims
// float32s without multiplying, so oversized headers cannot overflow.
func checkVectorBytes(n, count, dims int) error {
	if count == 0 {
		if n != 0 {
			return fmt.Errorf("%w: %d trailing bytes after empty index", ErrCorruptIndex, n)
		}
		return nil
	}
	if n%count != 0 || (n/count)%4 != 0 || (n/count)/4 != dims {
		return fmt.Errorf("%w: %d vector bytes do not hold %d vectors of %d dimensions", ErrCorruptIndex, n, count, dims)
	}
	return nil
}

func readChunk(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if int64(n) > int64(r.Len()) {
		return nil, fmt.Errorf("length %d exceeds remaining %d bytes", n, r.Len())
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4 (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
