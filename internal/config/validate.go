package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateIndex(); err != nil {
		return err
	}
	if err := c.validateAnalyzer(); err != nil {
		return err
	}
	if err := c.validateMatcher(); err != nil {
		return err
	}
	if err := c.validateRuntime(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateIndex() error {
	if c.Index.HashBits < 8 || c.Index.HashBits > 30 {
		return fmt.Errorf("index.hash_bits must be between 8 and 30, got %d", c.Index.HashBits)
	}
	if c.Index.BucketSize < 1 {
		return errors.New("index.bucket_size must be at least 1")
	}
	if c.Index.MaxTime < 1 {
		return errors.New("index.max_time must be at least 1")
	}
	if c.Index.MaxTimeBits < 0 || c.Index.MaxTimeBits > 31 {
		return fmt.Errorf("index.max_time_bits must be between 0 and 31, got %d", c.Index.MaxTimeBits)
	}
	return nil
}

func (c *Config) validateAnalyzer() error {
	if c.Analyzer.Density <= 0 {
		return errors.New("analyzer.density must be positive")
	}
	if c.Analyzer.PeaksPerFrame < 1 {
		return errors.New("analyzer.peaks_per_frame must be at least 1")
	}
	if c.Analyzer.Fanout < 1 {
		return errors.New("analyzer.fanout must be at least 1")
	}
	if c.Analyzer.FreqSD <= 0 {
		return errors.New("analyzer.freq_sd must be positive")
	}
	if c.Analyzer.Shifts < 0 {
		return errors.New("analyzer.shifts must not be negative")
	}
	if c.Analyzer.SampleRate < 1 {
		return errors.New("analyzer.sample_rate must be at least 1")
	}
	return nil
}

func (c *Config) validateMatcher() error {
	if c.Matcher.MatchWin < 0 {
		return errors.New("matcher.match_win must not be negative")
	}
	if c.Matcher.MinCount < 1 {
		return errors.New("matcher.min_count must be at least 1")
	}
	if c.Matcher.MaxMatches < 1 {
		return errors.New("matcher.max_matches must be at least 1")
	}
	if c.Matcher.SearchDepth < 1 {
		return errors.New("matcher.search_depth must be at least 1")
	}
	if c.Matcher.TimeQuantile < 0 || c.Matcher.TimeQuantile >= 0.5 {
		return fmt.Errorf("matcher.time_quantile must be in [0, 0.5), got %g", c.Matcher.TimeQuantile)
	}
	return nil
}

func (c *Config) validateRuntime() error {
	if c.Runtime.Workers < 1 {
		return errors.New("runtime.workers must be at least 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
