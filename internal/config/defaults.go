package config

const (
	gib = int64(1) << 30

	defaultDataDir                  = "~/.local/share/scribe"
	defaultListen                   = "127.0.0.1:8000"
	defaultMaxUploadBytes           = 5*gib + 64<<20
	defaultReadHeaderTimeoutSeconds = 10
	defaultShutdownTimeoutSeconds   = 15
	defaultTokenTTLHours            = 168
	defaultBcryptCost               = 10
	defaultMinPasswordLength        = 8
	defaultFreeDailyJobs            = 3
	defaultQuotaWindowHours         = 24
	defaultMaxFileBytes             = 5 * gib
	defaultMaxDurationSeconds       = 10 * 60 * 60
	defaultMaxConcurrency           = 2
	defaultPollIntervalSeconds      = 5
	defaultLeaseSeconds             = 120
	defaultHeartbeatIntervalSeconds = 15
	defaultReclaimIntervalSeconds   = 30
	defaultFreeAgingSeconds         = 900
	defaultMaxClaims                = 3
	defaultStageTimeoutSeconds      = 1800
	defaultJobTimeoutSeconds        = 3600
	defaultMaxAttempts              = 3
	defaultRetryBaseDelayMS         = 1000
	defaultRetryMaxDelayMS          = 30000
	defaultEngineEndpoint           = "http://127.0.0.1:9000"
	defaultEngineTimeoutSeconds     = 900
	defaultEngineRequestsPerSecond  = 4
	defaultEngineBurst              = 4
	defaultMinFreeBytes             = 1 * gib
	defaultFFprobeBinary            = "ffprobe"
	defaultProbeTimeoutSeconds      = 30
	defaultNotifyRequestTimeout     = 10
	defaultEmailFromName            = "Scribe"
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
	defaultLogRetentionDays         = 30
)

// Default returns a Config populated with repository defaults. Paths derived
// from data_dir are filled in during normalization.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
		},
		Server: Server{
			Listen:                   defaultListen,
			MaxUploadBytes:           defaultMaxUploadBytes,
			ReadHeaderTimeoutSeconds: defaultReadHeaderTimeoutSeconds,
			ShutdownTimeoutSeconds:   defaultShutdownTimeoutSeconds,
			CORSAllowedOrigins:       []string{"*"},
		},
		Auth: Auth{
			TokenTTLHours:     defaultTokenTTLHours,
			BcryptCost:        defaultBcryptCost,
			MinPasswordLength: defaultMinPasswordLength,
		},
		Quota: Quota{
			FreeDailyJobs:          defaultFreeDailyJobs,
			WindowHours:            defaultQuotaWindowHours,
			FreeMaxFileBytes:       defaultMaxFileBytes,
			FreeMaxDurationSeconds: defaultMaxDurationSeconds,
			PaidMaxFileBytes:       defaultMaxFileBytes,
			PaidMaxDurationSeconds: defaultMaxDurationSeconds,
		},
		Scheduler: Scheduler{
			MaxConcurrency:           defaultMaxConcurrency,
			PollIntervalSeconds:      defaultPollIntervalSeconds,
			LeaseSeconds:             defaultLeaseSeconds,
			HeartbeatIntervalSeconds: defaultHeartbeatIntervalSeconds,
			ReclaimIntervalSeconds:   defaultReclaimIntervalSeconds,
			FreeAgingSeconds:         defaultFreeAgingSeconds,
			MaxClaims:                defaultMaxClaims,
		},
		Pipeline: Pipeline{
			StageTimeoutSeconds: defaultStageTimeoutSeconds,
			JobTimeoutSeconds:   defaultJobTimeoutSeconds,
			MaxAttempts:         defaultMaxAttempts,
			RetryBaseDelayMS:    defaultRetryBaseDelayMS,
			RetryMaxDelayMS:     defaultRetryMaxDelayMS,
		},
		Engine: Engine{
			Endpoint:              defaultEngineEndpoint,
			RequestTimeoutSeconds: defaultEngineTimeoutSeconds,
			RequestsPerSecond:     defaultEngineRequestsPerSecond,
			Burst:                 defaultEngineBurst,
		},
		Storage: Storage{
			MinFreeBytes: defaultMinFreeBytes,
		},
		Ingest: Ingest{
			FFprobeBinary:       defaultFFprobeBinary,
			ProbeTimeoutSeconds: defaultProbeTimeoutSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			EmailFromName:  defaultEmailFromName,
			OnCompleted:    true,
			OnFailed:       true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
