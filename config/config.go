package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v2"

	"strokerisk/logging"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "config.yaml"

type Config struct {
	Http struct {
		Port           int           `yaml:"port"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		MaxBodyBytes   int64         `yaml:"max_body_bytes"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"http"`
	Log      logging.Config `yaml:"log"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Model struct {
		Path           string        `yaml:"path"`
		FeaturesPath   string        `yaml:"features_path"`
		Watch          bool          `yaml:"watch"`
		ReloadDebounce time.Duration `yaml:"reload_debounce"`
		CacheSize      int           `yaml:"cache_size"`
	} `yaml:"model"`
	Training Training `yaml:"training"`
}

// Training holds the defaults of the training command.
type Training struct {
	DataPath       string  `yaml:"data_path"`
	Encoding       string  `yaml:"encoding"`
	TestRatio      float64 `yaml:"test_ratio"`
	Seed           int64   `yaml:"seed"`
	Trees          int     `yaml:"trees"`
	MaxDepth       int     `yaml:"max_depth"`
	MinSamplesLeaf int     `yaml:"min_samples_leaf"`
	SMOTE          bool    `yaml:"smote"`
	DropID         bool    `yaml:"drop_id"`
	PlotsDir       string  `yaml:"plots_dir"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	cfg := &Config{}
	cfg.Http.Port = 8080
	cfg.Http.RequestTimeout = 30 * time.Second
	cfg.Http.MaxBodyBytes = 1 << 20
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	cfg.Database.Path = "data/strokerisk.db"
	cfg.Model.Path = "models/stroke_prediction_model.json"
	cfg.Model.FeaturesPath = "models/model_features.json"
	cfg.Model.Watch = true
	cfg.Model.ReloadDebounce = 500 * time.Millisecond
	cfg.Model.CacheSize = 1024
	cfg.Training = Training{
		DataPath:       "healthcare-dataset-stroke-data.csv",
		Encoding:       "utf-8",
		TestRatio:      0.3,
		Seed:           42,
		Trees:          100,
		MinSamplesLeaf: 1,
		SMOTE:          true,
		DropID:         true,
	}
	return cfg
}

// Load decodes path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads the config found by Resolve, or returns the defaults
// when there is no config file at all.
func LoadOrDefault(path string) (*Config, string, error) {
	resolved, err := Resolve(path)
	if errors.Is(err, os.ErrNotExist) && path == "" {
		return Default(), "", nil
	}
	if err != nil {
		return nil, "", err
	}
	cfg, err := Load(resolved)
	if err != nil {
		return nil, "", err
	}
	cfg.rebase(filepath.Dir(resolved))
	return cfg, resolved, nil
}

// Resolve finds the config file. An empty path looks for config.yaml in the
// working directory and then in its parent, so binaries run from cmd/ pick
// up the root config.
func Resolve(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", err
		}
		return path, nil
	}
	for _, candidate := range []string{DefaultPath, filepath.Join("..", DefaultPath)} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s: %w", DefaultPath, os.ErrNotExist)
}

// rebase makes relative paths relative to the config file's directory.
func (c *Config) rebase(dir string) {
	if dir == "." || dir == "" {
		return
	}
	for _, p := range []*string{
		&c.Database.Path, &c.Model.Path, &c.Model.FeaturesPath,
		&c.Training.DataPath, &c.Training.PlotsDir, &c.Log.File,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var err error
	if c.Http.Port <= 0 || c.Http.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("http.port %d out of range", c.Http.Port))
	}
	if c.Http.RequestTimeout < 0 {
		err = multierr.Append(err, errors.New("http.request_timeout must not be negative"))
	}
	if c.Http.MaxBodyBytes <= 0 {
		err = multierr.Append(err, errors.New("http.max_body_bytes must be positive"))
	}
	if c.Model.Path == "" {
		err = multierr.Append(err, errors.New("model.path is required"))
	}
	if c.Model.FeaturesPath == "" {
		err = multierr.Append(err, errors.New("model.features_path is required"))
	}
	if c.Model.Path != "" && c.Model.Path == c.Model.FeaturesPath {
		err = multierr.Append(err, errors.New("model.path and model.features_path must differ"))
	}
	if c.Model.CacheSize < 0 {
		err = multierr.Append(err, errors.New("model.cache_size must not be negative"))
	}
	if r := c.Training.TestRatio; r <= 0 || r >= 1 {
		err = multierr.Append(err, fmt.Errorf("training.test_ratio %.2f must be in (0, 1)", r))
	}
	if c.Training.Trees <= 0 {
		err = multierr.Append(err, errors.New("training.trees must be positive"))
	}
	if c.Training.MaxDepth < 0 {
		err = multierr.Append(err, errors.New("training.max_depth must not be negative"))
	}
	if c.Training.MinSamplesLeaf < 1 {
		err = multierr.Append(err, errors.New("training.min_samples_leaf must be at least 1"))
	}
	return err
}
