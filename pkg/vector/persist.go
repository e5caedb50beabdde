package vector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/coder/hnsw"
)

// Snapshot file layout, all little-endian:
//
//	magic   [6]byte  "KMVEC1"
//	metric  uint8    0 = cosine, 1 = l2
//	dim     uint32
//	count   uint64
//	entries count × { id int64, vec [dim]float32 }
//
// A snapshot with a different dim or metric than the running configuration
// is discarded on Load: the index is a cache of store-held embeddings and a
// stale snapshot must not silently change the deployment's vector space.

var snapshotMagic = [6]byte{'K', 'M', 'V', 'E', 'C', '1'}

func metricByte(m Metric) uint8 {
	if m == MetricL2 {
		return 1
	}
	return 0
}

// Save writes an atomic snapshot of the index to path (write temp file,
// rename over).
func (ix *Index) Save(path string) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create snapshot temp: %w", err)
	}

	if err := ix.writeSnapshot(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close snapshot temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (ix *Index) writeSnapshot(f *os.File) error {
	w := bufio.NewWriter(f)

	if _, err := w.Write(snapshotMagic[:]); err != nil {
		return err
	}
	if err := w.WriteByte(metricByte(ix.metric)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(ix.dim)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(ix.vecs))); err != nil {
		return err
	}
	for id, vec := range ix.vecs {
		if err := binary.Write(w, binary.LittleEndian, id); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, vec); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Load replaces the index contents with the snapshot at path. A missing file
// leaves the index empty and returns nil. A corrupt or mismatched snapshot
// is discarded the same way: the caller rebuilds from the record store.
func (ix *Index) Load(path string) error {
	f, err := os.Open(path) //nolint:gosec // snapshot path is controlled by the application
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer func() { _ = f.Close() }()

	vecs, ok := ix.readSnapshot(bufio.NewReader(f))

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.graph = newGraph(ix.metric)
	ix.vecs = make(map[int64][]float32, len(vecs))
	if !ok {
		return nil
	}
	for id, vec := range vecs {
		ix.graph.Add(hnsw.MakeNode(id, vec))
		ix.vecs[id] = vec
	}
	return nil
}

// readSnapshot parses a snapshot stream. ok is false when the header does
// not match this index's configuration or the stream is truncated.
func (ix *Index) readSnapshot(r io.Reader) (map[int64][]float32, bool) {
	var magic [6]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != snapshotMagic {
		return nil, false
	}

	var metric uint8
	if err := binary.Read(r, binary.LittleEndian, &metric); err != nil || metric != metricByte(ix.metric) {
		return nil, false
	}
	var dim uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil || int(dim) != ix.dim {
		return nil, false
	}
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, false
	}

	vecs := make(map[int64][]float32, count)
	for range count {
		var id int64
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return nil, false
		}
		vec := make([]float32, ix.dim)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return nil, false
		}
		vecs[id] = vec
	}
	return vecs, true
}
