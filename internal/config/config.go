// Package config holds the headnod settings: defaults, .env files and
// HEADNOD_* environment variables, checked with struct validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "HEADNOD_"

// Config is the full set of headnod settings.
type Config struct {
	// Paths
	DataDir   string `validate:"required"`
	ModelDir  string `validate:"required"`
	CorpusDir string `validate:"required"`
	HookDir   string
	DBPath    string `validate:"required"`
	StaticDir string

	// Extraction
	SequenceLength int `validate:"gt=0"`
	Stride         int `validate:"gt=0,ltfield=SequenceLength"`
	Workers        int `validate:"gt=0"`

	// Training
	Epochs          int     `validate:"gt=0"`
	BatchSize       int     `validate:"gt=0"`
	LearningRate    float64 `validate:"gt=0"`
	ValidationSplit float64 `validate:"gt=0,lt=1"`
	Seed            uint64

	// Live
	CameraID        int     `validate:"gte=0"`
	Threshold       float64 `validate:"gte=0,lte=1"`
	FPS             int     `validate:"gt=0"`
	ResetOnDecision bool

	// Server
	Addr string `validate:"required"`

	// Logging
	LogLevel string `validate:"oneof=trace debug info warn warning error"`
	LogFile  string
}

// Default returns the built-in settings rooted at ~/.headnod.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	root := filepath.Join(home, ".headnod")

	return Config{
		DataDir:         filepath.Join(root, "data"),
		ModelDir:        filepath.Join(root, "models"),
		CorpusDir:       "dataset",
		HookDir:         filepath.Join(root, "hooks"),
		DBPath:          filepath.Join(root, "headnod.db"),
		SequenceLength:  15,
		Stride:          10,
		Workers:         4,
		Epochs:          50,
		BatchSize:       32,
		LearningRate:    0.001,
		ValidationSplit: 0.2,
		Seed:            42,
		CameraID:        0,
		Threshold:       0.5,
		FPS:             30,
		Addr:            "127.0.0.1:8080",
		LogLevel:        "info",
	}
}

// Load starts from Default, reads envFiles into the environment and applies
// HEADNOD_* variables. Missing env files are ignored.
func Load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := Default()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, v := range c.vars() {
		raw, ok := lookup(EnvPrefix + v.name)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		if err := v.set(strings.TrimSpace(raw)); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, v.name, err)
		}
	}
	return nil
}

type envVar struct {
	name string
	set  func(string) error
}

func (c *Config) vars() []envVar {
	str := func(p *string) func(string) error {
		return func(s string) error { *p = s; return nil }
	}
	integer := func(p *int) func(string) error {
		return func(s string) error {
			n, err := strconv.Atoi(s)
			*p = n
			return err
		}
	}
	float := func(p *float64) func(string) error {
		return func(s string) error {
			f, err := strconv.ParseFloat(s, 64)
			*p = f
			return err
		}
	}

	return []envVar{
		{"DATA_DIR", str(&c.DataDir)},
		{"MODEL_DIR", str(&c.ModelDir)},
		{"CORPUS_DIR", str(&c.CorpusDir)},
		{"HOOK_DIR", str(&c.HookDir)},
		{"DB_PATH", str(&c.DBPath)},
		{"STATIC_DIR", str(&c.StaticDir)},
		{"SEQUENCE_LENGTH", integer(&c.SequenceLength)},
		{"STRIDE", integer(&c.Stride)},
		{"WORKERS", integer(&c.Workers)},
		{"EPOCHS", integer(&c.Epochs)},
		{"BATCH_SIZE", integer(&c.BatchSize)},
		{"LEARNING_RATE", float(&c.LearningRate)},
		{"VALIDATION_SPLIT", float(&c.ValidationSplit)},
		{"SEED", func(s string) error {
			n, err := strconv.ParseUint(s, 10, 64)
			c.Seed = n
			return err
		}},
		{"CAMERA_ID", integer(&c.CameraID)},
		{"THRESHOLD", float(&c.Threshold)},
		{"RESET_ON_DECISION", func(s string) error {
			b, err := strconv.ParseBool(s)
			c.ResetOnDecision = b
			return err
		}},
		{"FPS", integer(&c.FPS)},
		{"ADDR", str(&c.Addr)},
		{"LOG_LEVEL", str(&c.LogLevel)},
		{"LOG_FILE", str(&c.LogFile)},
	}
}

var validate = validator.New()

// Validate checks every field constraint and reports all violations.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s fails %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

