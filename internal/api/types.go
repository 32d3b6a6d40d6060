package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a job in a transport-friendly format.
type Job struct {
	ID                 int64       `json:"id"`
	Filename           string      `json:"filename"`
	Status             string      `json:"status"`
	Mode               string      `json:"mode"`
	Tier               string      `json:"tier"`
	SourceLanguage     string      `json:"language"`
	DetectedLanguage   string      `json:"detected_language,omitempty"`
	TargetLanguage     string      `json:"target_language,omitempty"`
	RestoreAudio       bool        `json:"restore_audio"`
	SpeakerRecognition bool        `json:"speaker_recognition"`
	SizeBytes          int64       `json:"size_bytes"`
	DurationMS         int64       `json:"duration_ms,omitempty"`
	Progress           JobProgress `json:"progress"`
	Error              string      `json:"error,omitempty"`
	FailedStage        string      `json:"failed_stage,omitempty"`
	SegmentCount       *int        `json:"segment_count,omitempty"`
	CreatedAt          string      `json:"created_at,omitempty"`
	UpdatedAt          string      `json:"updated_at,omitempty"`
}

// JobProgress captures the stage a job is in.
type JobProgress struct {
	Stage   string  `json:"stage,omitempty"`
	Percent float64 `json:"percent"`
}

// RejectedFile names an upload that was not queued and why.
type RejectedFile struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
	Detail   string `json:"detail,omitempty"`
}

// UploadResponse is returned by a successful upload.
type UploadResponse struct {
	Jobs     []Job          `json:"jobs"`
	Rejected []RejectedFile `json:"rejected,omitempty"`
}

// User describes the authenticated account and its entitlement.
type User struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	IsPaid       bool   `json:"is_paid"`
	Plan         string `json:"plan"`
	UsageCount   int    `json:"usage_count"`
	DailyLimit   *int   `json:"daily_limit"`
	Remaining    *int   `json:"remaining"`
	UsageResetAt string `json:"usage_reset_at,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
}

// TokenResponse carries an issued bearer token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
	// Quota fields are set only for quota_exceeded.
	Limit     *int   `json:"limit,omitempty"`
	Used      *int   `json:"used,omitempty"`
	Remaining *int   `json:"remaining,omitempty"`
	ResetAt   string `json:"reset_at,omitempty"`
	// Rejected lists skipped files when an upload queued nothing.
	Rejected  []RejectedFile `json:"rejected,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// ActiveJob is a job currently held by a worker.
type ActiveJob struct {
	JobID     int64  `json:"job_id"`
	Worker    string `json:"worker"`
	StartedAt string `json:"started_at"`
}

// QueueDepth counts dispatchable jobs per tier.
type QueueDepth struct {
	Paid int `json:"paid"`
	Free int `json:"free"`
}

// StorageStatus reports blob store capacity.
type StorageStatus struct {
	Root       string `json:"root"`
	FreeBytes  uint64 `json:"free_bytes"`
	TotalBytes uint64 `json:"total_bytes"`
	Error      string `json:"error,omitempty"`
}

// EngineStatus reports inference engine reachability.
type EngineStatus struct {
	Endpoint  string `json:"endpoint"`
	Reachable bool   `json:"reachable"`
	Detail    string `json:"detail,omitempty"`
}

// DependencyStatus captures availability of an external binary.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	Instance     string             `json:"instance,omitempty"`
	Workers      int                `json:"workers"`
	Active       []ActiveJob        `json:"active"`
	Queue        QueueDepth         `json:"queue"`
	JobCounts    map[string]int     `json:"job_counts"`
	Storage      StorageStatus      `json:"storage"`
	Engine       EngineStatus       `json:"engine"`
	Dependencies []DependencyStatus `json:"dependencies"`
	DatabasePath string             `json:"database_path"`
	LockFilePath string             `json:"lock_file_path"`
	LastError    string             `json:"last_error,omitempty"`
}
