package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"scribe/internal/keylock"
	"scribe/internal/logging"
	"scribe/internal/queue"
	"scribe/internal/services"
	"scribe/internal/storage"
)

// Store is the slice of the job store the renderer needs.
type Store interface {
	Segments(ctx context.Context, jobID int64) ([]queue.Segment, error)
	Artifact(ctx context.Context, jobID int64, format string) (*queue.Artifact, error)
	PutArtifact(ctx context.Context, artifact queue.Artifact) (*queue.Artifact, bool, error)
}

// Blobs stores rendered artifacts.
type Blobs interface {
	PutBytes(ctx context.Context, key string, data []byte) (storage.PutResult, error)
	ReadAll(key string) ([]byte, error)
	Delete(key string) error
}

// Document is a rendered export ready to serve.
type Document struct {
	Data        []byte
	ContentType string
	Filename    string
	Cached      bool
}

type cacheKey struct {
	jobID  int64
	format Format
}

// Renderer materializes transcripts on demand and memoizes the result.
type Renderer struct {
	store  Store
	blobs  Blobs
	locks  *keylock.Map[cacheKey]
	logger *slog.Logger
	now    func() time.Time
}

// NewRenderer builds a Renderer.
func NewRenderer(store Store, blobs Blobs, logger *slog.Logger) *Renderer {
	return &Renderer{
		store:  store,
		blobs:  blobs,
		locks:  keylock.New[cacheKey](),
		logger: logging.NewComponentLogger(logger, "export"),
		now:    time.Now,
	}
}

// Render converts segments into format. Output is a pure function of the
// input.
func Render(format Format, segments []queue.Segment) ([]byte, error) {
	switch format {
	case FormatTXT:
		return renderTXT(segments), nil
	case FormatCSV:
		return renderCSV(segments)
	case FormatSRT:
		return renderSRT(segments), nil
	case FormatVTT:
		return renderVTT(segments), nil
	case FormatDOCX:
		return renderDOCX(segments)
	case FormatPDF:
		return renderPDF(segments)
	default:
		return nil, services.Wrap(services.ErrValidation, "export", "render", fmt.Sprintf("unsupported format %q", format), nil)
	}
}

// Export returns job rendered as format. The job must be completed.
func (r *Renderer) Export(ctx context.Context, job *queue.Job, format Format) (Document, error) {
	if job == nil {
		return Document{}, services.Wrap(services.ErrNotFound, "export", "load job", "job not found", nil)
	}
	if job.IsDeleted() {
		return Document{}, services.Wrap(services.ErrNotFound, "export", "load job", fmt.Sprintf("job %d not found", job.ID), nil)
	}
	if job.Status != queue.StatusCompleted {
		return Document{}, services.Wrap(services.ErrNotReady, "export", "check status",
			fmt.Sprintf("job %d is %s; exports are available once it completes", job.ID, job.Status), nil)
	}
	if _, ok := contentTypes[format]; !ok {
		return Document{}, services.Wrap(services.ErrValidation, "export", "check format", fmt.Sprintf("unsupported format %q", format), nil)
	}

	doc := Document{ContentType: format.ContentType(), Filename: Filename(job.Filename, format)}
	logger := r.logger.With(
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("format", string(format)),
	)

	unlock, err := r.locks.Lock(ctx, cacheKey{jobID: job.ID, format: format})
	if err != nil {
		return Document{}, err
	}
	defer unlock()

	if data, ok := r.cached(ctx, job.ID, format, logger); ok {
		doc.Data = data
		doc.Cached = true
		return doc, nil
	}

	segments, err := r.store.Segments(ctx, job.ID)
	if err != nil {
		return Document{}, services.Wrap(services.ErrUnavailable, "export", "load segments", "transcript could not be read", err)
	}
	data, err := Render(format, segments)
	if err != nil {
		return Document{}, services.Wrap(services.ErrFatal, "export", "render", string(format), err)
	}
	doc.Data = data
	r.remember(ctx, job.ID, format, data, logger)
	return doc, nil
}

// cached returns the stored rendering if both the row and its blob exist.
func (r *Renderer) cached(ctx context.Context, jobID int64, format Format, logger *slog.Logger) ([]byte, bool) {
	artifact, err := r.store.Artifact(ctx, jobID, string(format))
	if err != nil {
		logging.WarnWithContext(logger, "artifact lookup failed", "artifact_lookup_failed",
			logging.String(logging.FieldErrorHint, "check queue database access"),
			logging.String(logging.FieldImpact, "export rendered without cache"),
			logging.Error(err),
		)
		return nil, false
	}
	if artifact == nil {
		return nil, false
	}
	data, err := r.blobs.ReadAll(artifact.BlobKey)
	if err != nil {
		logger.Debug("cached artifact unreadable; re-rendering",
			logging.String("blob_key", artifact.BlobKey),
			logging.Error(err),
		)
		return nil, false
	}
	return data, true
}

// remember stores data and records the artifact. Failures only cost the
// cache; the caller still gets the rendering.
func (r *Renderer) remember(ctx context.Context, jobID int64, format Format, data []byte, logger *slog.Logger) {
	key := storage.ArtifactKey(jobID, string(format))
	put, err := r.blobs.PutBytes(ctx, key, data)
	if err != nil {
		logging.WarnWithContext(logger, "artifact store failed", "artifact_store_failed",
			logging.String(logging.FieldErrorHint, "check storage free space and permissions"),
			logging.String(logging.FieldImpact, "export served uncached"),
			logging.Error(err),
		)
		return
	}
	sum := sha256.Sum256(data)
	stored, inserted, err := r.store.PutArtifact(ctx, queue.Artifact{
		JobID:       jobID,
		Format:      string(format),
		BlobKey:     put.Key,
		ContentType: format.ContentType(),
		SizeBytes:   int64(len(data)),
		SHA256:      hex.EncodeToString(sum[:]),
		CreatedAt:   r.now(),
	})
	if err == nil && inserted {
		logger.Debug("artifact cached", logging.String("blob_key", put.Key), logging.Int64("size_bytes", int64(len(data))))
		return
	}
	if delErr := r.blobs.Delete(put.Key); delErr != nil {
		logger.Debug("discard artifact blob failed", logging.String("blob_key", put.Key), logging.Error(delErr))
	}
	switch {
	case err != nil:
		logging.WarnWithContext(logger, "artifact record failed", "artifact_record_failed",
			logging.String(logging.FieldErrorHint, "check queue database access"),
			logging.String(logging.FieldImpact, "export served uncached"),
			logging.Error(err),
		)
	case stored == nil:
		// The job was deleted while rendering.
		logger.Debug("job no longer exportable; artifact discarded")
	default:
		// A row already exists whose blob went missing. Replacing it is left to purge.
		logger.Debug("stale artifact row kept", logging.String("blob_key", stored.BlobKey))
	}
}

// Filename derives the download name from the uploaded file name.
func Filename(source string, format Format) string {
	base := path.Base(strings.ReplaceAll(source, "\\", "/"))
	base = strings.TrimSuffix(base, path.Ext(base))
	base = strings.Map(func(r rune) rune {
		if r < 0x20 || r == '"' || r == '/' || r == 0x7f {
			return '_'
		}
		return r
	}, base)
	if base == "" || base == "." || base == "/" {
		base = "transcript"
	}
	return base + "." + string(format)
}

// IsNotReady reports whether err means the job has not completed.
func IsNotReady(err error) bool {
	return errors.Is(err, services.ErrNotReady)
}
