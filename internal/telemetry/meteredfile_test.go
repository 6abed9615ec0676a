package telemetry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/sftpcloud/internal/identity"
)

func openTestFile(t *testing.T) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hello.txt")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestMeteredFileWriteEmitsUploadTransfer(t *testing.T) {
	f := openTestFile(t)
	counters := &Counters{}
	log := &Log{}
	mf := NewMeteredFile(f, "/hello.txt", counters, log)

	n, err := mf.WriteAt([]byte("hi\n"), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	uploaded, downloaded := counters.Snapshot()
	assert.Equal(t, int64(3), uploaded)
	assert.Equal(t, int64(0), downloaded)

	entries := log.Drain()
	require.Len(t, entries, 1)
	assert.Equal(t, "/hello.txt", entries[0].Path)
	assert.Equal(t, identity.DirectionUpload, entries[0].Direction)
	assert.Equal(t, int64(3), entries[0].Size)
}

func TestMeteredFileReadEmitsDownloadTransfer(t *testing.T) {
	f := openTestFile(t)
	_, err := f.WriteAt([]byte("payload"), 0)
	require.NoError(t, err)

	counters := &Counters{}
	log := &Log{}
	mf := NewMeteredFile(f, "/payload.txt", counters, log)

	buf := make([]byte, 7)
	n, err := mf.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	uploaded, downloaded := counters.Snapshot()
	assert.Equal(t, int64(0), uploaded)
	assert.Equal(t, int64(7), downloaded)

	entries := log.Drain()
	require.Len(t, entries, 1)
	assert.Equal(t, identity.DirectionDownload, entries[0].Direction)
}

func TestMeteredFileZeroLengthOpsEmitNothing(t *testing.T) {
	f := openTestFile(t)
	counters := &Counters{}
	log := &Log{}
	mf := NewMeteredFile(f, "/empty.txt", counters, log)

	_, err := mf.WriteAt(nil, 0)
	require.NoError(t, err)

	uploaded, downloaded := counters.Snapshot()
	assert.Zero(t, uploaded)
	assert.Zero(t, downloaded)
	assert.Empty(t, log.Drain())
}

func TestMeteredFileCloseIsIdempotent(t *testing.T) {
	f := openTestFile(t)
	mf := NewMeteredFile(f, "/x.txt", &Counters{}, &Log{})

	require.NoError(t, mf.Close())
	require.NoError(t, mf.Close())
}

func TestLogDrainClearsBuffer(t *testing.T) {
	log := &Log{}
	log.Append(identity.Transfer{Path: "/a", Direction: identity.DirectionUpload, Size: 1, Timestamp: time.Now()})

	first := log.Drain()
	assert.Len(t, first, 1)

	second := log.Drain()
	assert.Empty(t, second)
}
