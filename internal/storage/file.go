package storage

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// writeFieldBytes writes a length-prefixed record: a little-endian
// uint32 byte count followed by the bytes themselves. Mirrors the
// framing the corpus's serializer package uses for its on-disk records.
func writeFieldBytes(w io.Writer, b []byte) error {
	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(b)))
	if _, err := w.Write(length[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// readFieldBytes reads one writeFieldBytes record, returning io.EOF when
// the stream is exhausted at a record boundary.
func readFieldBytes(r io.Reader) ([]byte, error) {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(length[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// FileField is a crash-safe single-value Field. Put writes to a temp
// file in the same directory and renames over the target, so a
// concurrent Get (from this or any other process, after restart) never
// observes a partial write.
type FileField struct {
	mu   sync.Mutex
	path string
}

// NewFileField returns a Field persisted at path.
func NewFileField(path string) *FileField {
	return &FileField{path: path}
}

// Get reads the current value, or ErrNotFound if Put has never
// succeeded for this path.
func (f *FileField) Get() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "storage: read field")
	}
	return b, nil
}

// Put atomically overwrites the field's value.
func (f *FileField) Put(value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "storage: create temp field file")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "storage: write temp field file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "storage: sync temp field file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "storage: close temp field file")
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "storage: rename field file")
	}
	return nil
}

// FileQueue is a durable, append-only FIFO: records are length-prefixed
// and appended to a single data file, with a separate persisted
// headIndex field giving O(1) logical Dequeue without physical
// compaction. The full decoded contents are cached in memory and
// rebuilt from the data file on NewFileQueue.
type FileQueue struct {
	mu        sync.Mutex
	dataPath  string
	headField *FileField
	entries   [][]byte // all entries ever written, index headIndex = logical head after trimming
	headIndex int
}

// NewFileQueue opens (or creates) a durable queue rooted at dataPath,
// with its head-trim counter persisted at dataPath+".head".
func NewFileQueue(dataPath string) (*FileQueue, error) {
	q := &FileQueue{
		dataPath:  dataPath,
		headField: NewFileField(dataPath + ".head"),
	}
	if err := q.reload(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *FileQueue) reload() error {
	f, err := os.Open(q.dataPath)
	if errors.Is(err, os.ErrNotExist) {
		q.entries = nil
	} else if err != nil {
		return errors.Wrap(err, "storage: open queue data file")
	} else {
		defer f.Close()
		r := bufio.NewReader(f)
		var entries [][]byte
		for {
			b, err := readFieldBytes(r)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return errors.Wrap(err, "storage: read queue record")
			}
			entries = append(entries, b)
		}
		q.entries = entries
	}

	headBytes, err := q.headField.Get()
	if errors.Is(err, ErrNotFound) {
		q.headIndex = 0
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "storage: read queue head index")
	}
	q.headIndex = int(binary.LittleEndian.Uint32(headBytes))
	return nil
}

// Enqueue appends value durably.
func (q *FileQueue) Enqueue(value []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	f, err := os.OpenFile(q.dataPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "storage: open queue data file for append")
	}
	defer f.Close()
	if err := writeFieldBytes(f, value); err != nil {
		return errors.Wrap(err, "storage: append queue record")
	}
	if err := f.Sync(); err != nil {
		return errors.Wrap(err, "storage: sync queue data file")
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	q.entries = append(q.entries, cp)
	return nil
}

// Dequeue logically removes and returns the head entry by bumping the
// persisted headIndex; the data file itself is never compacted.
func (q *FileQueue) Dequeue() ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.headIndex >= len(q.entries) {
		return nil, ErrNotFound
	}
	head := q.entries[q.headIndex]
	next := q.headIndex + 1
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(next))
	if err := q.headField.Put(buf[:]); err != nil {
		return nil, errors.Wrap(err, "storage: persist queue head index")
	}
	q.headIndex = next
	return head, nil
}

// Last returns the most recently enqueued entry, if any.
func (q *FileQueue) Last() ([]byte, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) <= q.headIndex {
		return nil, false, nil
	}
	return q.entries[len(q.entries)-1], true, nil
}

// All returns every live (not yet dequeued) entry, head to tail.
func (q *FileQueue) All() ([][]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	live := q.entries[q.headIndex:]
	out := make([][]byte, len(live))
	copy(out, live)
	return out, nil
}

// Len returns the number of live entries.
func (q *FileQueue) Len() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries) - q.headIndex, nil
}
