// Package csvsink writes verified batches as CSV exports through a blob store.
package csvsink

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadstream/internal/lead"
)

// ContentType is the media type of every export.
const ContentType = "text/csv"

// Encode writes the header and one row per named record.
func Encode(w io.Writer, batch []lead.Annotated) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(lead.Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	if err := cw.WriteAll(lead.Rows(batch)); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}
	return nil
}

// FileName is the download name of an export produced on the given day stamp.
func FileName(prefix, stamp string) string {
	return fmt.Sprintf("%s_%s.csv", prefix, stamp)
}

// Config controls where exports land.
type Config struct {
	// Prefix is prepended to every object path.
	Prefix string
}

// Writer is a lead.SinkWriter that stores each batch as one CSV object.
// Objects are written whole so concurrent jobs never interleave rows.
type Writer struct {
	store  lead.BlobStore
	clock  lead.Clock
	cfg    Config
	logger *zap.Logger
}

// New builds a Writer.
func New(store lead.BlobStore, clock lead.Clock, cfg Config, logger *zap.Logger) (*Writer, error) {
	if store == nil {
		return nil, errors.New("csv sink: blob store is required")
	}
	if clock == nil {
		return nil, errors.New("csv sink: clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &Writer{store: store, clock: clock, cfg: cfg, logger: logger}, nil
}

// Persist implements lead.SinkWriter.
func (w *Writer) Persist(ctx context.Context, batch []lead.Annotated) error {
	if len(batch) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := Encode(&buf, batch); err != nil {
		return err
	}
	objectPath := w.objectPath(ctx)
	uri, err := w.store.PutObject(ctx, objectPath, ContentType, &buf)
	if err != nil {
		return fmt.Errorf("store csv export: %w", err)
	}
	w.logger.Info("csv export written", zap.String("uri", uri), zap.Int("count", len(batch)))
	return nil
}

func (w *Writer) objectPath(ctx context.Context) string {
	name := FileName("leads", w.clock.Now().UTC().Format("20060102_150405"))
	parts := []string{}
	if w.cfg.Prefix != "" {
		parts = append(parts, w.cfg.Prefix)
	}
	if jobID, ok := lead.JobIDFromContext(ctx); ok {
		parts = append(parts, jobID)
	}
	return path.Join(append(parts, name)...)
}
