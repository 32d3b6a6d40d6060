package queue

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"scribe/internal/services"
)

// Status represents the lifecycle of a transcription job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

var allStatuses = []Status{
	StatusQueued,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

type statusTransition struct {
	from Status
	to   Status
}

// allowedTransitions is the closed set of legal moves. Nothing leaves a
// terminal status.
var allowedTransitions = map[statusTransition]struct{}{
	{from: StatusQueued, to: StatusProcessing}:    {},
	{from: StatusQueued, to: StatusCancelled}:     {},
	{from: StatusProcessing, to: StatusCompleted}: {},
	{from: StatusProcessing, to: StatusFailed}:    {},
	{from: StatusProcessing, to: StatusCancelled}: {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether no further transition can leave the status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	_, ok := allowedTransitions[statusTransition{from: from, to: to}]
	return ok
}

// TransitionError reports an illegal status change.
type TransitionError struct {
	JobID int64
	From  Status
	To    Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %d: illegal transition %s -> %s", e.JobID, e.From, e.To)
}

// Is lets errors.Is match a TransitionError against services.ErrConflict.
func (e *TransitionError) Is(target error) bool {
	return target == services.ErrConflict
}

var (
	// ErrLeaseLost is returned when a worker no longer holds the lease on a job.
	ErrLeaseLost = errors.New("job lease lost")
	// ErrCancelRequested is returned when a lease-guarded write finds the job
	// marked for cancellation.
	ErrCancelRequested = errors.New("job cancellation requested")
	// ErrEmailTaken is returned when registering an email that already exists.
	ErrEmailTaken = fmt.Errorf("%w: email already registered", services.ErrConflict)
)

// Plan is a user's billing tier.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPaid Plan = "paid"
)

// ParsePlan converts a string into a known Plan.
func ParsePlan(value string) (Plan, bool) {
	switch Plan(strings.ToLower(strings.TrimSpace(value))) {
	case PlanFree:
		return PlanFree, true
	case PlanPaid:
		return PlanPaid, true
	default:
		return "", false
	}
}

// Mode selects the transcription engine profile.
type Mode string

const (
	ModeCheetah Mode = "cheetah"
	ModeDolphin Mode = "dolphin"
	ModeWhale   Mode = "whale"
)

// ParseMode converts a string into a known Mode.
func ParseMode(value string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case ModeCheetah:
		return ModeCheetah, true
	case ModeDolphin:
		return ModeDolphin, true
	case ModeWhale:
		return ModeWhale, true
	default:
		return "", false
	}
}

// AutoLanguage requests language detection before transcription.
const AutoLanguage = "auto"

// User is an account with a plan and a rolling usage window.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Plan         Plan
	UsageCount   int
	UsageResetAt time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Job is one uploaded file moving through the pipeline.
type Job struct {
	ID                 int64
	OwnerID            int64
	Filename           string
	SourceKey          string
	SizeBytes          int64
	DurationMS         int64
	Mode               Mode
	SourceLanguage     string
	DetectedLanguage   string
	TargetLanguage     string
	RestoreAudio       bool
	SpeakerRecognition bool
	Tier               Plan
	Status             Status
	Error              string
	FailedStage        string
	ProgressStage      string
	ProgressPercent    float64
	Attempts           int
	LeaseOwner         string
	LeaseExpiresAt     *time.Time
	CancelRequested    bool
	DeletedAt          *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsDeleted reports whether the owner has deleted the job.
func (j Job) IsDeleted() bool {
	return j.DeletedAt != nil
}

// NewJob carries the immutable fields of a job at creation.
type NewJob struct {
	OwnerID            int64
	Filename           string
	SourceKey          string
	SizeBytes          int64
	DurationMS         int64
	Mode               Mode
	SourceLanguage     string
	TargetLanguage     string
	RestoreAudio       bool
	SpeakerRecognition bool
	Tier               Plan
}

// Segment is one timed span of transcript text.
type Segment struct {
	Index   int
	Speaker string
	StartMS int64
	EndMS   int64
	Text    string
}

// Artifact is a cached export rendering.
type Artifact struct {
	JobID       int64
	Format      string
	BlobKey     string
	ContentType string
	SizeBytes   int64
	SHA256      string
	CreatedAt   time.Time
}

// JobFilter narrows job listings.
type JobFilter struct {
	OwnerID        int64
	Statuses       []Status
	IncludeDeleted bool
	Limit          int
}

// ReclaimResult describes the outcome of an expired-lease sweep.
type ReclaimResult struct {
	// Released counts processing jobs whose lease owner was cleared so another
	// worker can claim them.
	Released int64
	// Cancelled lists jobs that were awaiting cancellation when their worker
	// vanished; they were moved straight to cancelled.
	Cancelled []int64
}

// DatabaseHealth captures diagnostic information about the job database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	TableExists      bool
	ColumnsPresent   []string
	MissingColumns   []string
	IntegrityCheck   bool
	TotalJobs        int
	Error            string
}

// HealthSummary describes aggregated job counts per lifecycle state.
type HealthSummary struct {
	Total      int
	Queued     int
	Processing int
	Completed  int
	Failed     int
	Cancelled  int
	QueuedPaid int
	QueuedFree int
}
