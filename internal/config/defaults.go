package config

const (
	// ProviderGroq names the primary transcription backend.
	ProviderGroq = "groq"
	// ProviderOpenAI names the fallback transcription backend.
	ProviderOpenAI = "openai"
)

const (
	defaultWatchDir              = "~/voxpipe/inbox"
	defaultStateDir              = "~/.local/share/voxpipe/state"
	defaultCacheDir              = "~/.local/share/voxpipe/cache"
	defaultLogDir                = "~/.local/share/voxpipe/logs"
	defaultLogRetentionDays      = 30
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultQuietPeriodSeconds    = 10
	defaultMinAgeSeconds         = 30
	defaultCheckIntervalSeconds  = 2
	defaultRequiredChecks        = 3
	defaultWatcherPollSeconds    = 5
	defaultMaxProbeAttempts      = 5
	defaultProbeTimeoutSeconds   = 30
	defaultConvertTimeoutSeconds = 300
	defaultExchangeDir           = "~/voxpipe/exchange"
	defaultRequestedBy           = "voxpipe"
	defaultDaemonRoot            = "~/.local/share/voxpipe/daemon"
	defaultMediaPattern          = "*.m4a"
	defaultDaemonPollSeconds     = 1
	defaultMaxAttempts           = 3
	defaultRetryDelaySeconds     = 2
	defaultProviderTimeout       = 120
	defaultBatchLimit            = 10
	defaultMaxBatchLimit         = 50
	defaultCacheRetentionHours   = 24
	defaultGroqBaseURL           = "https://api.groq.com/openai/v1"
	defaultGroqModel             = "whisper-large-v3"
	defaultOpenAIBaseURL         = "https://api.openai.com/v1"
	defaultOpenAIModel           = "whisper-1"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WatchDir: defaultWatchDir,
			StateDir: defaultStateDir,
			CacheDir: defaultCacheDir,
			LogDir:   defaultLogDir,
		},
		Watcher: Watcher{
			Extensions:            []string{".m4a", ".qta"},
			LegacyExtensions:      []string{".qta"},
			QuietPeriodSeconds:    defaultQuietPeriodSeconds,
			MinAgeSeconds:         defaultMinAgeSeconds,
			CheckIntervalSeconds:  defaultCheckIntervalSeconds,
			RequiredChecks:        defaultRequiredChecks,
			PollIntervalSeconds:   defaultWatcherPollSeconds,
			MaxProbeAttempts:      defaultMaxProbeAttempts,
			ProbeTimeoutSeconds:   defaultProbeTimeoutSeconds,
			ConvertTimeoutSeconds: defaultConvertTimeoutSeconds,
		},
		Dispatch: Dispatch{
			RequestsDir:  defaultExchangeDir + "/requests",
			ResultsDir:   defaultExchangeDir + "/results",
			MediaDir:     defaultExchangeDir + "/media",
			RequestedBy:  defaultRequestedBy,
			DefaultLimit: defaultBatchLimit,
		},
		Daemon: Daemon{
			RequestsDir:            defaultExchangeDir + "/requests",
			ResultsDir:             defaultExchangeDir + "/results",
			MediaDir:               defaultExchangeDir + "/media",
			MediaPattern:           defaultMediaPattern,
			CacheDir:               defaultDaemonRoot + "/cache",
			PollIntervalSeconds:    defaultDaemonPollSeconds,
			MaxAttempts:            defaultMaxAttempts,
			RetryDelaySeconds:      defaultRetryDelaySeconds,
			ProviderTimeoutSeconds: defaultProviderTimeout,
			DefaultLimit:           defaultBatchLimit,
			MaxLimit:               defaultMaxBatchLimit,
			CacheRetentionHours:    defaultCacheRetentionHours,
		},
		Providers: Providers{
			Order: []string{ProviderGroq, ProviderOpenAI},
			Groq: Provider{
				BaseURL: defaultGroqBaseURL,
				Model:   defaultGroqModel,
			},
			OpenAI: Provider{
				BaseURL: defaultOpenAIBaseURL,
				Model:   defaultOpenAIModel,
			},
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
