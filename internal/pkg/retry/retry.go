package retry

import (
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	defaultAttempts = 3
	defaultDelay    = 200 * time.Millisecond
	defaultMaxDelay = 5 * time.Second
)

type RetryConfig struct {
	Attempts uint          `yaml:"attempts" env:"ATTEMPTS"`
	Delay    time.Duration `yaml:"delay" env:"DELAY"`
	MaxDelay time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
}

// ToRetryOptions converts the config into retry-go options with exponential backoff.
func (rc *RetryConfig) ToRetryOptions() []retry.Option {
	return []retry.Option{
		retry.Attempts(rc.Attempts),
		retry.Delay(rc.Delay),
		retry.MaxDelay(rc.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	}
}

func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		Attempts: defaultAttempts,
		Delay:    defaultDelay,
		MaxDelay: defaultMaxDelay,
	}
}

// WithDefaults fills zero fields from DefaultRetryConfig.
func (rc RetryConfig) WithDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if rc.Attempts == 0 {
		rc.Attempts = d.Attempts
	}
	if rc.Delay == 0 {
		rc.Delay = d.Delay
	}
	if rc.MaxDelay == 0 {
		rc.MaxDelay = d.MaxDelay
	}
	return rc
}
