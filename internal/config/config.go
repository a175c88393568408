package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// WorkRail process configuration, loaded from an optional workrail.yaml with
// environment variable overrides.
// =============================================================================

// Config is the full process configuration surface, spec.md §6.1.
type Config struct {
	DataDir  string         `yaml:"dataDir"`
	Token    TokenConfig    `yaml:"token"`
	Resume   ResumeConfig   `yaml:"resume"`
	Recovery RecoveryConfig `yaml:"recovery"`
	Lock     LockConfig     `yaml:"lock"`
}

type TokenConfig struct {
	DefaultTTLSeconds  int `yaml:"defaultTTLSeconds"`
	RotationGraceHours int `yaml:"rotationGraceHours"`
}

type ResumeConfig struct {
	MaxCandidates int `yaml:"maxCandidates"`
}

type RecoveryConfig struct {
	BudgetBytes int `yaml:"budgetBytes"`
}

type LockConfig struct {
	RetryMinMs int `yaml:"retryMinMs"`
	RetryMaxMs int `yaml:"retryMaxMs"`
}

// defaults returns the built-in defaults from spec.md §6.1's sample
// workrail.yaml, applied beneath whatever the yaml file and environment
// supply.
func defaults() Config {
	return Config{
		DataDir: "",
		Token: TokenConfig{
			DefaultTTLSeconds:  300,
			RotationGraceHours: 24,
		},
		Resume: ResumeConfig{
			MaxCandidates: 20,
		},
		Recovery: RecoveryConfig{
			BudgetBytes: 8192,
		},
		Lock: LockConfig{
			RetryMinMs: 250,
			RetryMaxMs: 3000,
		},
	}
}

// Load reads path (if present), falls back to built-in defaults for any
// field the file omits, then applies environment variable overrides.
// Precedence is explicit env var > yaml file > built-in default, matching
// the teacher's getEnvOr* override pattern in what was config.go.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else {
			defer f.Close()
			var fromFile Config
			if err := yaml.NewDecoder(f).Decode(&fromFile); err != nil {
				return nil, err
			}
			mergeNonZero(&cfg, fromFile)
		}
	}

	cfg.applyEnvOverrides()
	return &cfg, nil
}

// mergeNonZero overlays every non-zero field of override onto base. Zero
// values in the yaml file are treated as "not set", matching the teacher's
// applyEnvOverrides's if-non-empty convention.
func mergeNonZero(base *Config, override Config) {
	if override.DataDir != "" {
		base.DataDir = override.DataDir
	}
	if override.Token.DefaultTTLSeconds != 0 {
		base.Token.DefaultTTLSeconds = override.Token.DefaultTTLSeconds
	}
	if override.Token.RotationGraceHours != 0 {
		base.Token.RotationGraceHours = override.Token.RotationGraceHours
	}
	if override.Resume.MaxCandidates != 0 {
		base.Resume.MaxCandidates = override.Resume.MaxCandidates
	}
	if override.Recovery.BudgetBytes != 0 {
		base.Recovery.BudgetBytes = override.Recovery.BudgetBytes
	}
	if override.Lock.RetryMinMs != 0 {
		base.Lock.RetryMinMs = override.Lock.RetryMinMs
	}
	if override.Lock.RetryMaxMs != 0 {
		base.Lock.RetryMaxMs = override.Lock.RetryMaxMs
	}
}

// applyEnvOverrides applies the WORKRAIL_* environment variables over
// whatever the yaml file or built-in defaults supplied.
func (c *Config) applyEnvOverrides() {
	c.DataDir = getEnv("WORKRAIL_DATA_DIR", c.DataDir)

	if v := getEnvInt("WORKRAIL_TOKEN_DEFAULT_TTL_SECONDS", 0); v > 0 {
		c.Token.DefaultTTLSeconds = v
	}
	if v := getEnvInt("WORKRAIL_TOKEN_ROTATION_GRACE_HOURS", 0); v > 0 {
		c.Token.RotationGraceHours = v
	}
	if v := getEnvInt("WORKRAIL_MAX_RESUME_CANDIDATES", -1); v >= 0 {
		c.Resume.MaxCandidates = v
	}
	if v := getEnvInt("WORKRAIL_RECOVERY_BUDGET_BYTES", 0); v > 0 {
		c.Recovery.BudgetBytes = v
	}
	if v := getEnvInt("WORKRAIL_LOCK_RETRY_MIN_MS", 0); v > 0 {
		c.Lock.RetryMinMs = v
	}
	if v := getEnvInt("WORKRAIL_LOCK_RETRY_MAX_MS", 0); v > 0 {
		c.Lock.RetryMaxMs = v
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
