// Package recorder appends found keys to the durable match log.
package recorder

import (
	"bytes"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/screa/keyspace-scanner/pkg/types"
)

// Banner is the first line of every record
const Banner = "FOUND ADDRESS WITH BALANCE!"

// Recorder serializes writers to an append-only text file. Each record is
// written with a single Write call while the lock is held.
type Recorder struct {
	path string
	log  *logrus.Entry
	mu   sync.Mutex
}

// New creates a recorder for path. The file is created on first write.
func New(path string, log *logrus.Entry) *Recorder {
	return &Recorder{path: path, log: log}
}

// Path returns the match log location
func (r *Recorder) Path() string {
	return r.path
}

// Record appends one block for rec. Failures are logged and returned; the
// caller is not expected to act on them.
func (r *Recorder) Record(rec types.MatchRecord) error {
	block := Format(rec)

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := appendFile(r.path, block); err != nil {
		if r.log != nil {
			r.log.WithError(err).WithField("address", rec.Address).Error("failed to write match log")
		}
		return err
	}
	return nil
}

// Format renders the record block, ending with a newline after the address
func Format(rec types.MatchRecord) []byte {
	var b bytes.Buffer
	b.Grow(len(Banner) + 160)
	b.WriteString(Banner)
	b.WriteString("\nPrivate Key: ")
	b.WriteString(rec.Key.Hex())
	b.WriteString("\nWIF: ")
	b.WriteString(rec.WIF)
	b.WriteString("\nAddress: ")
	b.WriteString(rec.Address)
	b.WriteByte('\n')
	return b.Bytes()
}

func appendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}
