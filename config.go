package partconsumer

import "time"

// Config is immutable once a Consumer is constructed from it.
type Config struct {
	Client BrokerClient

	Topic     string
	Partition int32

	Processor Processor

	// Group, if non-empty, enables COMMITTED start resolution, manual
	// Commit, and auto-commit.
	Group string
	// CommitMetadata is stored alongside each commit; broker-opaque.
	CommitMetadata string

	// BufferSize is the initial fetch max_bytes; MaxBufferSize bounds
	// how far FetchLoop may grow it on a too-small-buffer response.
	BufferSize    int32
	MaxBufferSize int32

	// FetchMinBytes/FetchMaxWait tune the broker's long-poll.
	FetchMinBytes int32
	FetchMaxWait  time.Duration

	// AutoCommitEveryN triggers a commit after this many processed
	// messages accumulate since the last count-based trigger; 0
	// disables count-based auto-commit.
	AutoCommitEveryN int
	// AutoCommitEvery triggers a commit on this period; 0 disables
	// time-based auto-commit. Requires Group.
	AutoCommitEvery time.Duration

	RetryInitDelay  time.Duration
	RetryMaxDelay   time.Duration
	RetryMaxAttempts int

	// Metrics, if nil, defaults to a private unregistered registry.
	Metrics Registry

	// Logger, if nil, defaults to a log.Logger-backed implementation.
	Logger Logger
}

// validate checks the fields a Consumer cannot run without. Raised
// synchronously: the consumer does not exist if this fails.
func (c *Config) validate() error {
	if c.Client == nil {
		return &ValueError{Field: "Client", Reason: "must not be nil"}
	}
	if c.Topic == "" {
		return &ValueError{Field: "Topic", Reason: "must not be empty"}
	}
	if c.Partition < 0 {
		return &ValueError{Field: "Partition", Reason: "must be non-negative"}
	}
	if c.Processor == nil {
		return &ValueError{Field: "Processor", Reason: "must not be nil"}
	}
	if c.BufferSize <= 0 {
		return &ValueError{Field: "BufferSize", Reason: "must be positive"}
	}
	if c.MaxBufferSize <= 0 {
		return &ValueError{Field: "MaxBufferSize", Reason: "must be positive"}
	}
	if c.BufferSize > c.MaxBufferSize {
		return &ValueError{Field: "BufferSize", Reason: "must not exceed MaxBufferSize"}
	}
	if c.AutoCommitEveryN < 0 {
		return &ValueError{Field: "AutoCommitEveryN", Reason: "must be non-negative"}
	}
	if c.AutoCommitEvery < 0 {
		return &ValueError{Field: "AutoCommitEvery", Reason: "must be non-negative"}
	}
	if c.AutoCommitEvery > 0 && c.Group == "" {
		return &ValueError{Field: "AutoCommitEvery", Reason: "requires a consumer group"}
	}
	if c.RetryMaxAttempts < 0 {
		return &ValueError{Field: "RetryMaxAttempts", Reason: "must be non-negative"}
	}
	if c.RetryInitDelay < 0 {
		return &ValueError{Field: "RetryInitDelay", Reason: "must be non-negative"}
	}
	if c.RetryMaxDelay < 0 {
		return &ValueError{Field: "RetryMaxDelay", Reason: "must be non-negative"}
	}
	return nil
}

func (c *Config) withDefaults() *Config {
	cfg := *c
	if cfg.FetchMinBytes <= 0 {
		cfg.FetchMinBytes = 1
	}
	if cfg.FetchMaxWait <= 0 {
		cfg.FetchMaxWait = 500 * time.Millisecond
	}
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 10
	}
	if cfg.RetryInitDelay <= 0 {
		cfg.RetryInitDelay = 250 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = newStdLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewRegistry()
	}
	return &cfg
}
