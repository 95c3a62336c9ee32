package paste

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/tessera/internal/ir"
)

// ErrNoUploader marks file pastes on an ingestor without an uploader.
var ErrNoUploader = errors.New("file uploads are not available")

// Uploader stores an attachment and returns its final metadata.
type Uploader interface {
	Upload(ctx context.Context, a ir.Attachment) (ir.FileMeta, error)
}

// Sink receives the commands a paste produces.
type Sink interface {
	// CreateBlock creates the block and returns its id.
	CreateBlock(ctx context.Context, t ir.BlockType, pos ir.Position, data ir.BlockData) (string, error)

	// UpdateFile replaces the file payload of block id. It reports false,
	// without error, when the block no longer exists.
	UpdateFile(ctx context.Context, id string, p ir.FilePayload) (bool, error)

	// UploadFailed reports an upload that ended in error, after the
	// placeholder has been marked as failed.
	UploadFailed(ctx context.Context, id string, a ir.Attachment, err error)
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithLogger sets the ingestor logger.
func WithLogger(l *slog.Logger) IngestorOption {
	return func(in *Ingestor) {
		in.logger = l
	}
}

// Ingestor creates one block per paste and completes file uploads
// asynchronously.
type Ingestor struct {
	uploader Uploader
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewIngestor creates an ingestor. A nil uploader turns every file paste
// into a placeholder in the error state.
func NewIngestor(up Uploader, opts ...IngestorOption) *Ingestor {
	in := &Ingestor{uploader: up, logger: slog.Default()}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Paste classifies p and creates its block at pos. For files the block is
// created as an uploading placeholder and the upload runs in the
// background; Paste returns as soon as the placeholder exists.
func (in *Ingestor) Paste(ctx context.Context, p Payload, pos ir.Position, sink Sink) (string, error) {
	cls, err := Classify(p)
	if err != nil {
		return "", err
	}

	id, err := sink.CreateBlock(ctx, cls.Type, pos, cls.Data)
	if err != nil {
		return "", fmt.Errorf("paste %s block: %w", cls.Type, err)
	}
	in.logger.Debug("paste created block",
		"block_id", id,
		"block_type", cls.Type)

	if cls.File != nil {
		placeholder := cls.Data.Payload.(ir.FilePayload)
		in.wg.Add(1)
		go func() {
			defer in.wg.Done()
			in.upload(context.WithoutCancel(ctx), id, *cls.File, placeholder, sink)
		}()
	}
	return id, nil
}

// Wait blocks until every pending upload has been resolved.
func (in *Ingestor) Wait() {
	in.wg.Wait()
}

func (in *Ingestor) upload(ctx context.Context, id string, a ir.Attachment, placeholder ir.FilePayload, sink Sink) {
	final := placeholder
	var meta ir.FileMeta
	var err error
	if in.uploader == nil {
		err = ErrNoUploader
	} else {
		meta, err = in.uploader.Upload(ctx, a)
	}

	if err != nil {
		in.logger.Warn("file upload failed",
			"block_id", id,
			"file_name", a.Name,
			"error", err)
		final.Status = ir.FileError
		final.Error = err.Error()
	} else {
		final = ir.FilePayload{
			Name:     firstNonEmpty(meta.Name, placeholder.Name),
			Size:     meta.Size,
			MimeType: firstNonEmpty(meta.MimeType, placeholder.MimeType),
			URL:      meta.URL,
			Status:   ir.FileReady,
		}
	}

	ok, uerr := sink.UpdateFile(ctx, id, final)
	switch {
	case uerr != nil:
		in.logger.Error("file block update failed",
			"block_id", id,
			"error", uerr)
	case !ok:
		in.logger.Debug("upload finished for deleted block", "block_id", id)
		return
	}
	if err != nil {
		sink.UploadFailed(ctx, id, a, err)
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
