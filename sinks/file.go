package sinks

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/tarungka/monsoon/internal/models"
)

// FileSink appends one tuple per line to a file.
type FileSink struct {
	name     string
	filePath string

	file   *os.File
	writer *bufio.Writer
}

// NewFileSink builds a file sink from config. Requires file_path.
func NewFileSink(cfg SinkConfig) (*FileSink, error) {
	if cfg.Config["file_path"] == "" {
		log.Error().Msg("missing file_path in file sink config")
		return nil, fmt.Errorf("missing file_path")
	}
	return &FileSink{name: cfg.Name, filePath: cfg.Config["file_path"]}, nil
}

func (f *FileSink) Name() string {
	return f.name
}

func (f *FileSink) Connect(ctx context.Context) error {
	log.Trace().Str("file_path", f.filePath).Msg("opening sink file for writing")

	dir := filepath.Dir(f.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Err(err).Str("directory", dir).Msg("creating sink parent directories")
		return fmt.Errorf("failed to create parent directories: %w", err)
	}
	file, err := os.OpenFile(f.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	f.file = file
	f.writer = bufio.NewWriter(file)
	return nil
}

func (f *FileSink) Write(ctx context.Context, p models.Payload) error {
	if f.file == nil {
		return ErrSinkNotConnected
	}
	if _, err := f.writer.Write(p.Tuple); err != nil {
		return err
	}
	if err := f.writer.WriteByte('\n'); err != nil {
		return err
	}
	return f.writer.Flush()
}

func (f *FileSink) Disconnect() error {
	if f.file == nil {
		return nil
	}
	f.writer.Flush()
	err := f.file.Close()
	f.file = nil
	f.writer = nil
	return err
}
