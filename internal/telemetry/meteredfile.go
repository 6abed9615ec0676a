package telemetry

import (
	"os"
	"sync"
	"time"

	"github.com/umputun/sftpcloud/internal/identity"
)

// now is overridable in tests; production always uses time.Now.
var now = func() time.Time { return time.Now().UTC() }

// MeteredFile wraps an open *os.File so that every successful read
// accumulates a download transfer and every successful write accumulates
// an upload transfer against the owning session's Counters and Log
// (spec.md §4.4). The virtual path recorded is the one canonicalized at
// open time, never the host path.
type MeteredFile struct {
	file        *os.File
	virtualPath string
	counters    *Counters
	log         *Log

	closeOnce sync.Once
	closeErr  error
}

// NewMeteredFile binds an already-opened host file to a session's
// counters and transfer log under the given virtual path.
func NewMeteredFile(file *os.File, virtualPath string, counters *Counters, log *Log) *MeteredFile {
	return &MeteredFile{file: file, virtualPath: virtualPath, counters: counters, log: log}
}

// ReadAt implements io.ReaderAt. A read of n>0 bytes emits a download
// transfer of size n before returning, even when err is also set (e.g. a
// short read followed by io.EOF): the bytes that were delivered did cross
// the wire.
func (m *MeteredFile) ReadAt(p []byte, off int64) (int, error) {
	n, err := m.file.ReadAt(p, off)
	if n > 0 {
		m.counters.AddDownload(int64(n))
		m.log.Append(identity.Transfer{
			Path:      m.virtualPath,
			Direction: identity.DirectionDownload,
			Size:      int64(n),
			Timestamp: now(),
		})
	}
	return n, err
}

// WriteAt implements io.WriterAt.
func (m *MeteredFile) WriteAt(p []byte, off int64) (int, error) {
	n, err := m.file.WriteAt(p, off)
	if n > 0 {
		m.counters.AddUpload(int64(n))
		m.log.Append(identity.Transfer{
			Path:      m.virtualPath,
			Direction: identity.DirectionUpload,
			Size:      int64(n),
			Timestamp: now(),
		})
	}
	return n, err
}

// Close closes the underlying file. It is idempotent and never emits a
// transfer record; repeated calls return the result of the first close.
func (m *MeteredFile) Close() error {
	m.closeOnce.Do(func() {
		m.closeErr = m.file.Close()
	})
	return m.closeErr
}
