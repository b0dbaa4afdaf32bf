package voice

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// File layout, all integers little-endian:
//
//	magic  [4]byte  "VPK1"
//	rank   uint32
//	dims   [rank]uint32
//	data   [prod(dims)]float32
const magic = "VPK1"

const (
	maxRank     = 8
	maxElements = 1 << 26
)

// Write serialises emb to w.
func Write(w io.Writer, emb *Embedding) error {
	if err := emb.Validate(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	hdr := make([]byte, 0, 8+4*len(emb.Shape))
	hdr = append(hdr, magic...)
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(len(emb.Shape)))
	for _, d := range emb.Shape {
		hdr = binary.LittleEndian.AppendUint32(hdr, uint32(d))
	}
	if _, err := bw.Write(hdr); err != nil {
		return fmt.Errorf("voice: write header: %w", err)
	}
	if err := binary.Write(bw, binary.LittleEndian, emb.Data); err != nil {
		return fmt.Errorf("voice: write data: %w", err)
	}
	return bw.Flush()
}

// Read parses one embedding from r.
func Read(r io.Reader) (*Embedding, error) {
	br := bufio.NewReader(r)

	var m [4]byte
	if _, err := io.ReadFull(br, m[:]); err != nil {
		return nil, fmt.Errorf("voice: read magic: %w", err)
	}
	if string(m[:]) != magic {
		return nil, fmt.Errorf("voice: bad magic %q", m[:])
	}

	var rank uint32
	if err := binary.Read(br, binary.LittleEndian, &rank); err != nil {
		return nil, fmt.Errorf("voice: read rank: %w", err)
	}
	if rank == 0 || rank > maxRank {
		return nil, fmt.Errorf("voice: unsupported rank %d", rank)
	}
	dims := make([]uint32, rank)
	if err := binary.Read(br, binary.LittleEndian, dims); err != nil {
		return nil, fmt.Errorf("voice: read shape: %w", err)
	}

	shape := make([]int, rank)
	n := 1
	for i, d := range dims {
		if d == 0 {
			return nil, fmt.Errorf("voice: dimension %d is zero", i)
		}
		n *= int(d)
		if n > maxElements {
			return nil, fmt.Errorf("voice: tensor larger than %d elements", maxElements)
		}
		shape[i] = int(d)
	}

	data := make([]float32, n)
	if err := binary.Read(br, binary.LittleEndian, data); err != nil {
		return nil, fmt.Errorf("voice: read data: %w", err)
	}
	return &Embedding{Shape: shape, Data: data}, nil
}

// LoadFile reads the embedding stored at path. A missing file yields an error
// matching [ErrNotFound].
func LoadFile(path string) (*Embedding, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("voice: load %q: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("voice: load %q: %w", path, err)
	}
	defer f.Close()

	emb, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("voice: load %q: %w", path, err)
	}
	return emb, nil
}

// SaveFile writes emb to path atomically: readers see either the previous
// file or the complete new one.
func SaveFile(path string, emb *Embedding) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".voice-*.tmp")
	if err != nil {
		return fmt.Errorf("voice: save %q: %w", path, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = Write(tmp, emb); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("voice: save %q: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("voice: save %q: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("voice: save %q: %w", path, err)
	}
	return nil
}
