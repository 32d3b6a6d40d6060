package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"scribe/internal/config"
	"scribe/internal/entitlement"
	"scribe/internal/language"
	"scribe/internal/logging"
	"scribe/internal/media/ffprobe"
	"scribe/internal/queue"
	"scribe/internal/services"
	"scribe/internal/storage"
)

// SupportedExtensions lists the accepted upload types, without the dot.
var SupportedExtensions = []string{"mp3", "wav", "m4a", "mp4", "flac", "aac", "ogg", "avi", "mov", "mkv"}

// Rejection reasons reported per file.
const (
	ReasonTooLarge      = "too_large"
	ReasonTooLong       = "too_long"
	ReasonUnreadable    = "unreadable_media"
	ReasonQuotaExceeded = "quota_exceeded"
	ReasonUnavailable   = "unavailable"
)

// File is one uploaded file. Size is the declared length, or negative when
// unknown.
type File struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// Options are the per-batch processing choices.
type Options struct {
	Mode               string
	SourceLanguage     string
	TargetLanguage     string
	RestoreAudio       bool
	SpeakerRecognition bool
}

// Rejection explains why one file of a batch did not become a job.
type Rejection struct {
	Filename string
	Reason   string
	Detail   string
}

// Result lists the jobs created by a batch and the files skipped.
type Result struct {
	Jobs     []*queue.Job
	Rejected []Rejection
}

// Ledger admits and charges job creation.
type Ledger interface {
	Admit(ctx context.Context, userID int64) (*entitlement.Ticket, error)
}

// Blobs persists uploaded media.
type Blobs interface {
	Put(ctx context.Context, key string, r io.Reader, limit int64) (storage.PutResult, error)
	Path(key string) (string, error)
	Delete(key string) error
}

// Jobs records new jobs.
type Jobs interface {
	CreateJob(ctx context.Context, spec queue.NewJob) (*queue.Job, error)
	RequestCancel(ctx context.Context, id, ownerID int64, now time.Time) (*queue.Job, error)
}

// Prober measures media duration.
type Prober interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
}

// Waker is nudged when new jobs are queued.
type Waker interface {
	Wake()
}

// HealthChecker reports whether the inference engine can take work.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// engineHealthTTL is how long one engine health result answers for.
const engineHealthTTL = 10 * time.Second

// engineGate caches the engine health result so a burst of uploads costs one
// probe.
type engineGate struct {
	engine HealthChecker
	ttl    time.Duration
	now    func() time.Time

	mu        sync.Mutex
	checkedAt time.Time
	err       error
}

func (g *engineGate) check(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if !g.checkedAt.IsZero() && now.Sub(g.checkedAt) < g.ttl {
		return g.err
	}
	g.err = g.engine.Health(ctx)
	g.checkedAt = now
	return g.err
}

type limits struct {
	maxBytes    int64
	maxDuration time.Duration
}

// Service validates uploads and turns them into queued jobs.
type Service struct {
	ledger Ledger
	blobs  Blobs
	jobs   Jobs
	prober Prober
	waker  Waker
	engine *engineGate
	logger *slog.Logger
	free   limits
	paid   limits
}

// Option customizes a Service.
type Option func(*Service)

// WithProber enables duration checks. Without one, only size is enforced.
func WithProber(p Prober) Option {
	return func(s *Service) {
		s.prober = p
	}
}

// WithWaker notifies the scheduler about new work.
func WithWaker(w Waker) Option {
	return func(s *Service) {
		s.waker = w
	}
}

// WithEngine refuses uploads while the inference engine is unreachable.
// Health results are reused for a few seconds.
func WithEngine(engine HealthChecker) Option {
	return func(s *Service) {
		if engine == nil {
			s.engine = nil
			return
		}
		s.engine = &engineGate{engine: engine, ttl: engineHealthTTL, now: time.Now}
	}
}

// New builds an ingest service from quota configuration.
func New(cfg *config.Config, ledger Ledger, blobs Blobs, jobs Jobs, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		ledger: ledger,
		blobs:  blobs,
		jobs:   jobs,
		logger: logging.NewComponentLogger(logger, "ingest"),
		free: limits{
			maxBytes:    cfg.Quota.FreeMaxFileBytes,
			maxDuration: time.Duration(cfg.Quota.FreeMaxDurationSeconds) * time.Second,
		},
		paid: limits{
			maxBytes:    cfg.Quota.PaidMaxFileBytes,
			maxDuration: time.Duration(cfg.Quota.PaidMaxDurationSeconds) * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewProber returns the ffprobe-backed prober, or nil when the binary is not
// installed.
func NewProber(cfg *config.Config, available bool) Prober {
	if !available {
		return nil
	}
	return ffprobe.Prober{Binary: cfg.Ingest.FFprobeBinary, Timeout: cfg.Ingest.ProbeTimeout()}
}

// Submit validates a batch and creates one queued job per accepted file.
//
// An unsupported type anywhere rejects the whole batch. Size, duration and
// unreadable media skip the file. A quota denial stops the batch: with no job
// created it is returned as the error, otherwise the remaining files are
// rejected with ReasonQuotaExceeded. Infrastructure failures behave the same
// way with ReasonUnavailable.
func (s *Service) Submit(ctx context.Context, ownerID int64, files []File, opts Options) (*Result, error) {
	spec, err := validateOptions(opts)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, services.Wrap(services.ErrValidation, "ingest", "submit", "no files uploaded", nil)
	}
	for _, file := range files {
		if err := ValidateFilename(file.Name); err != nil {
			return nil, err
		}
	}

	logger := logging.WithContext(ctx, s.logger)
	if s.engine != nil {
		if err := s.engine.check(ctx); err != nil {
			logging.WarnWithContext(logger, "upload refused while engine is unreachable", "engine_unavailable",
				logging.Error(err),
				logging.String(logging.FieldImpact, "no jobs were created"),
				logging.String(logging.FieldErrorHint, "check engine.endpoint and the engine service"),
			)
			return nil, services.Wrap(services.ErrUnavailable, "ingest", "engine health", "inference engine unavailable", err)
		}
	}
	result := &Result{}
	for i, file := range files {
		job, rejection, err := s.submitOne(ctx, ownerID, file, spec)
		switch {
		case err == nil && rejection != nil:
			result.Rejected = append(result.Rejected, *rejection)
		case err == nil:
			result.Jobs = append(result.Jobs, job)
			logger.Info("job queued",
				logging.String(logging.FieldEventType, "job_queued"),
				logging.Int64(logging.FieldJobID, job.ID),
				logging.String("filename", job.Filename),
				logging.String("tier", string(job.Tier)),
				logging.Int64("size_bytes", job.SizeBytes),
			)
		default:
			if len(result.Jobs) == 0 {
				return nil, err
			}
			reason := ReasonUnavailable
			if errors.Is(err, services.ErrQuotaExceeded) {
				reason = ReasonQuotaExceeded
			} else {
				logging.WarnWithContext(logger, "batch stopped after partial success", "ingest_partial",
					logging.Error(err),
					logging.Int("created", len(result.Jobs)),
					logging.String(logging.FieldImpact, "remaining files were not queued"),
				)
			}
			for _, rest := range files[i:] {
				result.Rejected = append(result.Rejected, Rejection{
					Filename: displayName(rest.Name),
					Reason:   reason,
					Detail:   err.Error(),
				})
			}
			s.wake()
			return result, nil
		}
	}
	if len(result.Jobs) > 0 {
		s.wake()
	}
	return result, nil
}

// submitOne runs admit, persist, create and commit for a single file. A
// non-nil rejection skips the file; an error stops the batch.
func (s *Service) submitOne(ctx context.Context, ownerID int64, file File, spec queue.NewJob) (*queue.Job, *Rejection, error) {
	name := displayName(file.Name)
	ticket, err := s.ledger.Admit(ctx, ownerID)
	if err != nil {
		if errors.Is(err, services.ErrQuotaExceeded) || errors.Is(err, context.Canceled) {
			return nil, nil, err
		}
		return nil, nil, services.Wrap(services.ErrUnavailable, "ingest", "admit", "check entitlement", err)
	}
	defer ticket.Release()

	user := ticket.User()
	lim := s.limitsFor(user.Plan)
	if lim.maxBytes > 0 && file.Size > lim.maxBytes {
		return nil, tooLarge(name, lim.maxBytes), nil
	}

	key := storage.UploadKey(ownerID, name)
	stored, err := s.store(ctx, key, file, lim.maxBytes)
	if errors.Is(err, storage.ErrTooLarge) {
		return nil, tooLarge(name, lim.maxBytes), nil
	}
	if err != nil {
		return nil, nil, err
	}
	keep := false
	defer func() {
		if !keep {
			_ = s.blobs.Delete(key)
		}
	}()

	duration, rejection := s.probe(ctx, key, name, lim.maxDuration)
	if rejection != nil {
		return nil, rejection, nil
	}

	spec.OwnerID = ownerID
	spec.Filename = name
	spec.SourceKey = key
	spec.SizeBytes = stored.Size
	spec.DurationMS = duration.Milliseconds()
	spec.Tier = user.Plan
	job, err := s.jobs.CreateJob(ctx, spec)
	if err != nil {
		return nil, nil, services.Wrap(services.ErrUnavailable, "ingest", "create job", "record job", err)
	}
	if err := ticket.Commit(ctx); err != nil {
		return nil, nil, s.withdraw(ctx, job, &keep, err)
	}
	keep = true
	return job, nil, nil
}

// withdraw cancels a job whose admission could not be charged, so a usage
// write failure never yields a free job. The source blob stays only when a
// worker already holds the job; cancellation cleans it up from there.
func (s *Service) withdraw(ctx context.Context, job *queue.Job, keep *bool, cause error) error {
	logger := logging.WithContext(ctx, s.logger)
	cancelled, err := s.jobs.RequestCancel(context.WithoutCancel(ctx), job.ID, job.OwnerID, time.Now())
	if err != nil {
		*keep = true
		logging.ErrorWithContext(logger, "failed to withdraw uncharged job", "quota_commit_failed",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "delete the job with DELETE /jobs/{id}"),
			logging.String(logging.FieldImpact, "job queued without consuming quota"),
		)
	} else {
		*keep = cancelled != nil && cancelled.Status != queue.StatusCancelled
		logging.WarnWithContext(logger, "withdrew job after failed quota charge", "quota_commit_failed",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.Error(cause),
			logging.String(logging.FieldImpact, "upload was not accepted"),
		)
	}
	return services.Wrap(services.ErrUnavailable, "ingest", "commit", "charge admission", cause)
}

func (s *Service) store(ctx context.Context, key string, file File, limit int64) (storage.PutResult, error) {
	if file.Open == nil {
		return storage.PutResult{}, services.Wrap(services.ErrValidation, "ingest", "open upload", "file has no content", nil)
	}
	body, err := file.Open()
	if err != nil {
		return storage.PutResult{}, services.Wrap(services.ErrUnavailable, "ingest", "open upload", displayName(file.Name), err)
	}
	defer body.Close()
	stored, err := s.blobs.Put(ctx, key, body, limit)
	if err != nil && !errors.Is(err, storage.ErrTooLarge) && !errors.Is(err, services.ErrUnavailable) {
		err = services.Wrap(services.ErrUnavailable, "ingest", "store upload", displayName(file.Name), err)
	}
	return stored, err
}

func (s *Service) probe(ctx context.Context, key, name string, maxDuration time.Duration) (time.Duration, *Rejection) {
	if s.prober == nil {
		return 0, nil
	}
	mediaPath, err := s.blobs.Path(key)
	if err != nil {
		return 0, &Rejection{Filename: name, Reason: ReasonUnreadable, Detail: err.Error()}
	}
	duration, err := s.prober.Duration(ctx, mediaPath)
	if err != nil {
		detail := "no readable audio stream"
		if !errors.Is(err, ffprobe.ErrNoMedia) {
			detail = err.Error()
		}
		return 0, &Rejection{Filename: name, Reason: ReasonUnreadable, Detail: detail}
	}
	if maxDuration > 0 && duration > maxDuration {
		return 0, &Rejection{
			Filename: name,
			Reason:   ReasonTooLong,
			Detail:   fmt.Sprintf("duration %s exceeds the %s limit", duration.Round(time.Second), maxDuration),
		}
	}
	return duration, nil
}

func (s *Service) limitsFor(plan queue.Plan) limits {
	if plan == queue.PlanPaid {
		return s.paid
	}
	return s.free
}

func (s *Service) wake() {
	if s.waker != nil {
		s.waker.Wake()
	}
}

// ValidateFilename rejects names whose extension is not supported.
func ValidateFilename(name string) error {
	clean := displayName(name)
	if clean == "" || clean == "." {
		return services.Wrap(services.ErrValidation, "ingest", "validate", "file name is required", nil)
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(clean)), ".")
	if !slices.Contains(SupportedExtensions, ext) {
		return services.Wrap(services.ErrValidation, "ingest", "validate",
			fmt.Sprintf("%s: unsupported file type; allowed: %s", clean, strings.Join(SupportedExtensions, ", ")), nil)
	}
	return nil
}

func validateOptions(opts Options) (queue.NewJob, error) {
	mode := queue.ModeDolphin
	if strings.TrimSpace(opts.Mode) != "" {
		parsed, ok := queue.ParseMode(opts.Mode)
		if !ok {
			return queue.NewJob{}, services.Wrap(services.ErrValidation, "ingest", "validate",
				fmt.Sprintf("unknown mode %q; use cheetah, dolphin or whale", opts.Mode), nil)
		}
		mode = parsed
	}
	source, err := language.NormalizeSource(opts.SourceLanguage)
	if err != nil {
		return queue.NewJob{}, err
	}
	target, err := language.NormalizeTarget(opts.TargetLanguage)
	if err != nil {
		return queue.NewJob{}, err
	}
	return queue.NewJob{
		Mode:               mode,
		SourceLanguage:     source,
		TargetLanguage:     target,
		RestoreAudio:       opts.RestoreAudio,
		SpeakerRecognition: opts.SpeakerRecognition,
	}, nil
}

// displayName strips any client-supplied directory from a file name.
func displayName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	return filepath.Base(path.Clean("/" + name))
}

func tooLarge(name string, limit int64) *Rejection {
	return &Rejection{
		Filename: name,
		Reason:   ReasonTooLarge,
		Detail:   fmt.Sprintf("file exceeds the %s limit", humanize.IBytes(uint64(limit))),
	}
}
