package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Index contains the geometry used when a fresh index is created.
type Index struct {
	HashBits    int `toml:"hash_bits"`
	BucketSize  int `toml:"bucket_size"`
	MaxTime     int `toml:"max_time"`
	MaxTimeBits int `toml:"max_time_bits"`
}

// Analyzer contains the acoustic analysis knobs.
type Analyzer struct {
	Density         float64 `toml:"density"`
	PeaksPerFrame   int     `toml:"peaks_per_frame"`
	Fanout          int     `toml:"fanout"`
	FreqSD          float64 `toml:"freq_sd"`
	Shifts          int     `toml:"shifts"`
	SampleRate      int     `toml:"sample_rate"`
	ContinueOnError bool    `toml:"continue_on_error"`
}

// Matcher contains the query ranking and reporting knobs.
type Matcher struct {
	MatchWin      int     `toml:"match_win"`
	MinCount      int     `toml:"min_count"`
	MaxMatches    int     `toml:"max_matches"`
	SearchDepth   int     `toml:"search_depth"`
	ExactCount    bool    `toml:"exact_count"`
	FindTimeRange bool    `toml:"find_time_range"`
	TimeQuantile  float64 `toml:"time_quantile"`
	SortByTime    bool    `toml:"sort_by_time"`
}

// Runtime contains execution-level settings shared by every command.
type Runtime struct {
	Workers    int    `toml:"workers"`
	WavDir     string `toml:"wav_dir"`
	WavExt     string `toml:"wav_ext"`
	PrecompDir string `toml:"precomp_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for earmark.
type Config struct {
	Index    Index    `toml:"index"`
	Analyzer Analyzer `toml:"analyzer"`
	Matcher  Matcher  `toml:"matcher"`
	Runtime  Runtime  `toml:"runtime"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration
// file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/earmark/config.toml")
}

// SampleConfig returns the annotated sample configuration file contents.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes the sample configuration file to path.
func CreateSample(path string) error {
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}

// ExpandPath resolves a leading tilde and returns an absolute path.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}

// Load locates, parses, and validates a configuration file. A missing file is
// not an error: the defaults apply and exists reports false.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("earmark.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	var err error
	if c.Runtime.WavDir != "" {
		if c.Runtime.WavDir, err = expandPath(c.Runtime.WavDir); err != nil {
			return fmt.Errorf("runtime.wav_dir: %w", err)
		}
	}
	if c.Runtime.PrecompDir != "" {
		if c.Runtime.PrecompDir, err = expandPath(c.Runtime.PrecompDir); err != nil {
			return fmt.Errorf("runtime.precomp_dir: %w", err)
		}
	}
	if ext := strings.TrimSpace(c.Runtime.WavExt); ext != "" && !strings.HasPrefix(ext, ".") {
		c.Runtime.WavExt = "." + ext
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
