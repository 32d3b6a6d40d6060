package api

import (
	"time"

	"scribe/internal/deps"
	"scribe/internal/entitlement"
	"scribe/internal/ingest"
	"scribe/internal/queue"
)

// FromJob converts a job record to its API representation.
func FromJob(job *queue.Job) Job {
	if job == nil {
		return Job{}
	}
	dto := Job{
		ID:                 job.ID,
		Filename:           job.Filename,
		Status:             string(job.Status),
		Mode:               string(job.Mode),
		Tier:               string(job.Tier),
		SourceLanguage:     job.SourceLanguage,
		DetectedLanguage:   job.DetectedLanguage,
		TargetLanguage:     job.TargetLanguage,
		RestoreAudio:       job.RestoreAudio,
		SpeakerRecognition: job.SpeakerRecognition,
		SizeBytes:          job.SizeBytes,
		DurationMS:         job.DurationMS,
		Progress: JobProgress{
			Stage:   job.ProgressStage,
			Percent: job.ProgressPercent,
		},
		Error:       job.Error,
		FailedStage: job.FailedStage,
		CreatedAt:   formatTime(job.CreatedAt),
		UpdatedAt:   formatTime(job.UpdatedAt),
	}
	return dto
}

// FromJobs converts a slice of job records. The result is never nil so it
// encodes as an empty array.
func FromJobs(jobs []*queue.Job) []Job {
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// FromUpload converts an ingest result.
func FromUpload(result ingest.Result) UploadResponse {
	resp := UploadResponse{Jobs: FromJobs(result.Jobs)}
	for _, r := range result.Rejected {
		resp.Rejected = append(resp.Rejected, RejectedFile{
			Filename: r.Filename,
			Reason:   r.Reason,
			Detail:   r.Detail,
		})
	}
	return resp
}

// FromUser converts an account and its usage snapshot.
func FromUser(user *queue.User, usage entitlement.Usage) User {
	if user == nil {
		return User{}
	}
	dto := User{
		ID:           user.ID,
		Email:        user.Email,
		IsPaid:       usage.Plan == queue.PlanPaid,
		Plan:         string(usage.Plan),
		UsageCount:   usage.Used,
		Remaining:    usage.Remaining,
		UsageResetAt: formatTime(usage.ResetAt),
		CreatedAt:    formatTime(user.CreatedAt),
	}
	if usage.Remaining != nil {
		limit := usage.Limit
		dto.DailyLimit = &limit
	}
	return dto
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// FormatTime renders a timestamp the way API payloads do.
func FormatTime(t time.Time) string {
	return formatTime(t)
}

// FromDependencies converts binary checks to their API representation.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, DependencyStatus{
			Name:        s.Name,
			Command:     s.Command,
			Description: s.Description,
			Optional:    s.Optional,
			Available:   s.Available,
			Detail:      s.Detail,
		})
	}
	return out
}
