package circuitbreaker

import "time"

// Settings is the user-facing breaker configuration, loaded from the
// `breaker` block of the openrouter and store config sections.
type Settings struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	SuccessThreshold uint32        `mapstructure:"success_threshold"`
}

// CompletionSettings are the defaults for the completion API breaker.
func CompletionSettings() Settings {
	return Settings{
		MaxRequests:      2,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
	}
}

// StoreSettings are the defaults for task store breakers.
func StoreSettings() Settings {
	return Settings{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	}
}

// ToConfig converts Settings to a breaker Config. Zero fields take the
// matching DefaultConfig value.
func (s Settings) ToConfig() Config {
	c := DefaultConfig()
	if s.MaxRequests > 0 {
		c.MaxRequests = s.MaxRequests
	}
	if s.Interval > 0 {
		c.Interval = s.Interval
	}
	if s.Timeout > 0 {
		c.Timeout = s.Timeout
	}
	if s.FailureThreshold > 0 {
		c.FailureThreshold = s.FailureThreshold
	}
	if s.SuccessThreshold > 0 {
		c.SuccessThreshold = s.SuccessThreshold
	}
	return c
}
