package queue

import (
	"database/sql"
	"errors"
	"time"
)

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const jobColumns = "id, owner_id, filename, source_key, size_bytes, duration_ms, mode, source_language, detected_language, target_language, restore_audio, speaker_recognition, tier, status, error_message, failed_stage, progress_stage, progress_percent, attempts, lease_owner, lease_expires_at, cancel_requested, deleted_at, created_at, updated_at"

const userColumns = "id, email, password_hash, plan, usage_count, usage_reset_at, created_at, updated_at"

const artifactColumns = "job_id, format, blob_key, content_type, size_bytes, sha256, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(scanner rowScanner) (*Job, error) {
	var (
		job              Job
		mode             string
		detectedLanguage sql.NullString
		targetLanguage   sql.NullString
		restoreAudio     int
		speakers         int
		tier             string
		statusStr        string
		errorMessage     sql.NullString
		failedStage      sql.NullString
		progressStage    sql.NullString
		leaseOwner       sql.NullString
		leaseExpiresRaw  sql.NullString
		cancelRequested  int
		deletedRaw       sql.NullString
		createdRaw       string
		updatedRaw       string
	)

	if err := scanner.Scan(
		&job.ID,
		&job.OwnerID,
		&job.Filename,
		&job.SourceKey,
		&job.SizeBytes,
		&job.DurationMS,
		&mode,
		&job.SourceLanguage,
		&detectedLanguage,
		&targetLanguage,
		&restoreAudio,
		&speakers,
		&tier,
		&statusStr,
		&errorMessage,
		&failedStage,
		&progressStage,
		&job.ProgressPercent,
		&job.Attempts,
		&leaseOwner,
		&leaseExpiresRaw,
		&cancelRequested,
		&deletedRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job.Mode = Mode(mode)
	job.DetectedLanguage = detectedLanguage.String
	job.TargetLanguage = targetLanguage.String
	job.RestoreAudio = restoreAudio != 0
	job.SpeakerRecognition = speakers != 0
	job.Tier = Plan(tier)
	job.Status = Status(statusStr)
	job.Error = errorMessage.String
	job.FailedStage = failedStage.String
	job.ProgressStage = progressStage.String
	job.LeaseOwner = leaseOwner.String
	job.CancelRequested = cancelRequested != 0
	job.LeaseExpiresAt = parseNullableTime(leaseExpiresRaw)
	job.DeletedAt = parseNullableTime(deletedRaw)
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	return &job, nil
}

func scanUser(scanner rowScanner) (*User, error) {
	var (
		user       User
		plan       string
		resetRaw   string
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&plan,
		&user.UsageCount,
		&resetRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	user.Plan = Plan(plan)
	if reset, err := parseTimeString(resetRaw); err == nil {
		user.UsageResetAt = reset
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		user.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		user.UpdatedAt = updated
	}
	return &user, nil
}

func scanArtifact(scanner rowScanner) (*Artifact, error) {
	var (
		artifact   Artifact
		createdRaw string
	)
	if err := scanner.Scan(
		&artifact.JobID,
		&artifact.Format,
		&artifact.BlobKey,
		&artifact.ContentType,
		&artifact.SizeBytes,
		&artifact.SHA256,
		&createdRaw,
	); err != nil {
		return nil, err
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		artifact.CreatedAt = created
	}
	return &artifact, nil
}

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	parsed, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func statusArgs(statuses []Status) []any {
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}
	return args
}
