package config

const (
	defaultDataDir                = "~/.local/share/contentflow"
	defaultLogDir                 = "~/.local/share/contentflow/logs"
	defaultAPIBind                = "127.0.0.1:7590"
	defaultRateLimitRPS           = 10
	defaultRateLimitBurst         = 20
	defaultDailyCap               = 50
	defaultConcurrentCap          = 5
	defaultReleaseIntervalSeconds = 15
	defaultRenderTimeoutSeconds   = 30 * 60
	defaultCaptionTimeoutSeconds  = 20 * 60
	defaultDistributeTimeout      = 10 * 60
	defaultRetryBudget            = 3
	defaultSweepIntervalSeconds   = 5 * 60
	defaultLeaseTTLSeconds        = 5 * 60
	defaultHandoffTimeoutSeconds  = 5 * 60
	defaultBackoffBaseSeconds     = 60
	defaultBackoffMaxSeconds      = 30 * 60
	defaultSweepParallelism       = 4
	defaultLockBackend            = "store"
	defaultRedisAddr              = "127.0.0.1:6379"
	defaultVendorKind             = "http"
	defaultVendorStartPath        = "/jobs"
	defaultVendorStatusPath       = "/jobs/{job_id}"
	defaultVendorCancelPath       = "/jobs/{job_id}/cancel"
	defaultVendorTimeoutSeconds   = 30
	defaultSignatureHeader        = "X-Signature"
	defaultWebhookFormat          = "generic"
	defaultSignatureMode          = SignatureHMAC
	defaultNotifyRequestTimeout   = 10
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		API: API{
			Bind:           defaultAPIBind,
			RateLimitRPS:   defaultRateLimitRPS,
			RateLimitBurst: defaultRateLimitBurst,
		},
		Scheduler: Scheduler{
			DefaultDailyCap:        defaultDailyCap,
			DefaultConcurrentCap:   defaultConcurrentCap,
			ReleaseIntervalSeconds: defaultReleaseIntervalSeconds,
		},
		Brands: map[string]Brand{},
		Stages: Stages{
			Render:     Stage{TimeoutSeconds: defaultRenderTimeoutSeconds, RetryBudget: defaultRetryBudget},
			Caption:    Stage{TimeoutSeconds: defaultCaptionTimeoutSeconds, RetryBudget: defaultRetryBudget},
			Distribute: Stage{TimeoutSeconds: defaultDistributeTimeout, RetryBudget: defaultRetryBudget},
		},
		Recovery: Recovery{
			IntervalSeconds:       defaultSweepIntervalSeconds,
			LeaseTTLSeconds:       defaultLeaseTTLSeconds,
			HandoffTimeoutSeconds: defaultHandoffTimeoutSeconds,
			BackoffBaseSeconds:    defaultBackoffBaseSeconds,
			BackoffMaxSeconds:     defaultBackoffMaxSeconds,
			Parallelism:           defaultSweepParallelism,
			LockBackend:           defaultLockBackend,
		},
		Redis: Redis{
			Addr: defaultRedisAddr,
		},
		Vendors: Vendors{
			Render:     defaultVendor(),
			Caption:    defaultVendor(),
			Distribute: defaultVendor(),
		},
		Webhooks: Webhooks{
			Render:     defaultWebhookSource(),
			Caption:    defaultWebhookSource(),
			Distribute: defaultWebhookSource(),
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Completed:      true,
			Failed:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

func defaultVendor() Vendor {
	return Vendor{
		Kind:           defaultVendorKind,
		StartPath:      defaultVendorStartPath,
		StatusPath:     defaultVendorStatusPath,
		CancelPath:     defaultVendorCancelPath,
		TimeoutSeconds: defaultVendorTimeoutSeconds,
	}
}

func defaultWebhookSource() WebhookSource {
	return WebhookSource{
		SignatureHeader: defaultSignatureHeader,
		Signature:       defaultSignatureMode,
		Format:          defaultWebhookFormat,
	}
}
