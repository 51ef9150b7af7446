// Package bootstrap supplies the file-transfer collaborator referenced
// by the membership-change apply handler (spec §4.6): when a replica
// adds a new legislator it authored, it transfers its current on-disk
// state to the newcomer over a dedicated stream (conventionally
// port+1) so the new replica can catch up before it starts voting.
// The disk-file formats being transferred are out of this system's
// scope; this package only specifies and implements the framing.
package bootstrap

import (
	"encoding/gob"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

// File is one named record in a bootstrap stream.
type File struct {
	Name    string
	Content []byte
}

// Transferer sends an ordered sequence of Files to addr. Ordering is
// the caller's contract: the membership apply handler that invokes
// Transferer must send the empty membership file first and the true
// membership file last, so the recipient can never believe itself
// caught up — and therefore eligible to participate in quorums — before
// every other file has landed.
type Transferer interface {
	Send(addr string, files []File) error
}

// FileTransferer streams Files to addr over a single connection, one
// gob-encoded frame per File, consecutively — the wire shape spec §6
// describes for the bootstrap port.
type FileTransferer struct {
	// Dial opens the destination connection. Defaults to
	// net.DialTimeout("tcp", addr, DialTimeout) when nil; tests inject an
	// in-memory pipe here.
	Dial func(addr string) (io.ReadWriteCloser, error)

	DialTimeout time.Duration
}

func (t *FileTransferer) dial(addr string) (io.ReadWriteCloser, error) {
	if t.Dial != nil {
		return t.Dial(addr)
	}
	timeout := t.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.Wrap(err, "bootstrap: dial")
	}
	return conn, nil
}

// Send opens a connection to addr and writes files in order, one gob
// frame each.
func (t *FileTransferer) Send(addr string, files []File) error {
	conn, err := t.dial(addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	enc := gob.NewEncoder(conn)
	for _, f := range files {
		if err := enc.Encode(f); err != nil {
			return errors.Wrap(err, "bootstrap: encode file frame")
		}
	}
	return nil
}

// Receive reads consecutive File frames from r until EOF, in the order
// sent. The out-of-scope receiving daemon on a newly added replica uses
// this to materialize the transferred state.
func Receive(r io.Reader) ([]File, error) {
	dec := gob.NewDecoder(r)
	var files []File
	for {
		var f File
		if err := dec.Decode(&f); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, errors.Wrap(err, "bootstrap: decode file frame")
		}
		files = append(files, f)
	}
	return files, nil
}
