package sources

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// pollInterval is how long a drained file source waits before re-checking
// for appended data.
const pollInterval = 200 * time.Millisecond

// FileSource reads a newline-delimited file as one partition. The offset of
// a record is its 1-based line number, so the offset space is dense,
// totally ordered, and replayable for the lifetime of the file.
type FileSource struct {
	partition string
	filePath  string

	file    *os.File
	reader  *bufio.Reader
	current uint64
}

// NewFileSource builds a file source from config. Requires file_path.
func NewFileSource(cfg SourceConfig) (*FileSource, error) {
	path := cfg.Config["file_path"]
	if path == "" {
		log.Error().Msg("missing file_path in file source config")
		return nil, fmt.Errorf("missing file_path")
	}
	return &FileSource{partition: cfg.Partition, filePath: path}, nil
}

func (f *FileSource) Partition() string {
	return f.partition
}

func (f *FileSource) Connect(ctx context.Context) error {
	return f.Seek(0)
}

// Seek reopens the file and skips the first offset lines.
func (f *FileSource) Seek(offset uint64) error {
	if f.file != nil {
		f.file.Close()
		f.file = nil
	}
	file, err := os.Open(f.filePath)
	if err != nil {
		return err
	}
	reader := bufio.NewReader(file)
	for skipped := uint64(0); skipped < offset; skipped++ {
		if _, err := reader.ReadBytes('\n'); err != nil {
			file.Close()
			return fmt.Errorf("seek past end of %s at line %d: %w", f.filePath, skipped, err)
		}
	}
	f.file = file
	f.reader = reader
	f.current = offset
	log.Trace().Str("partition", f.partition).Uint64("offset", offset).Msg("file source positioned")
	return nil
}

func (f *FileSource) Next(ctx context.Context) (Record, error) {
	if f.file == nil {
		return Record{}, ErrSourceNotConnected
	}
	for {
		line, err := f.reader.ReadBytes('\n')
		if err == nil {
			f.current++
			// Strip the delimiter; the payload codec frames tuples itself.
			return Record{Offset: f.current, Data: line[:len(line)-1]}, nil
		}
		if err != io.EOF {
			return Record{}, err
		}
		// Partial line at EOF: wait for the writer to finish it. Re-seek to
		// the current position so the partial read is not consumed twice.
		if len(line) > 0 {
			if err := f.Seek(f.current); err != nil {
				return Record{}, err
			}
		}
		select {
		case <-ctx.Done():
			return Record{}, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (f *FileSource) CurrentOffset() uint64 {
	return f.current
}

func (f *FileSource) Disconnect() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	f.reader = nil
	return err
}
