package sources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeInput(t *testing.T, lines int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.txt")
	f, err := os.Create(path)
	require.NoError(t, err)
	for i := 1; i <= lines; i++ {
		fmt.Fprintf(f, "record-%d\n", i)
	}
	require.NoError(t, f.Close())
	return path
}

func newFileSource(t *testing.T, path string) *FileSource {
	t.Helper()
	src, err := NewFileSource(SourceConfig{
		Partition: "p0",
		Config:    map[string]string{"file_path": path},
	})
	require.NoError(t, err)
	t.Cleanup(func() { src.Disconnect() })
	return src
}

func TestFileSourceReadsInOrder(t *testing.T) {
	ctx := context.Background()
	src := newFileSource(t, writeInput(t, 5))
	require.NoError(t, src.Connect(ctx))

	for i := 1; i <= 5; i++ {
		rec, err := src.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(i), rec.Offset)
		require.Equal(t, fmt.Sprintf("record-%d", i), string(rec.Data))
		require.Equal(t, uint64(i), src.CurrentOffset())
	}
}

// Rewind fidelity: after Seek(o), the next record is the first one with
// offset strictly greater than o.
func TestFileSourceSeek(t *testing.T) {
	ctx := context.Background()
	src := newFileSource(t, writeInput(t, 10))
	require.NoError(t, src.Connect(ctx))

	require.NoError(t, src.Seek(7))
	require.Equal(t, uint64(7), src.CurrentOffset())
	rec, err := src.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(8), rec.Offset)
	require.Equal(t, "record-8", string(rec.Data))

	// Seek backwards replays already-seen records.
	require.NoError(t, src.Seek(0))
	rec, err = src.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), rec.Offset)
}

func TestFileSourceBlocksAtEndUntilAppend(t *testing.T) {
	ctx := context.Background()
	path := writeInput(t, 2)
	src := newFileSource(t, path)
	require.NoError(t, src.Connect(ctx))
	_, err := src.Next(ctx)
	require.NoError(t, err)
	_, err = src.Next(ctx)
	require.NoError(t, err)

	// Drained partition: Next blocks until cancelled...
	shortCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	_, err = src.Next(shortCtx)
	cancel()
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// ...and resumes when the writer appends.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	fmt.Fprintln(f, "record-3")
	require.NoError(t, f.Close())

	rec, err := src.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), rec.Offset)
	require.Equal(t, "record-3", string(rec.Data))
}

func TestFileSourceRequiresPath(t *testing.T) {
	_, err := NewFileSource(SourceConfig{Partition: "p0", Config: map[string]string{}})
	require.Error(t, err)
}

func TestSourceFactory(t *testing.T) {
	src, err := New("file", SourceConfig{Partition: "p0", Config: map[string]string{"file_path": "/tmp/x"}})
	require.NoError(t, err)
	require.Equal(t, "p0", src.Partition())

	_, err = New("carrier-pigeon", SourceConfig{})
	require.ErrorIs(t, err, ErrUnknownSourceType)
}
