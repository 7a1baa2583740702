package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/scoopsocials/scoop-trust/internal/moderation"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

type Config struct {
	Port           int
	Env            string
	NatsURL        string
	NatsToken      string
	DatabaseURL    string
	RedisURL       string
	LogLevel       string
	SlackBotToken  string
	SlackChannel   string
	APIToken       string
	PolicyFile     string
	NeedInfoExpiry time.Duration
	// CounterFailOpen lets flags through when Redis is unreachable.
	CounterFailOpen bool
}

// LoadDotEnv preloads variables from the given files, or .env when none are
// given. Variables already set in the environment win.
func LoadDotEnv(files ...string) error {
	return godotenv.Load(files...)
}

func Load() Config {
	env := strings.ToLower(envStr("SCOOP_ENV", EnvProduction))
	return Config{
		Port:            envInt("SCOOP_PORT", 8760),
		Env:             env,
		NatsURL:         envStr("NATS_URL", ""),
		NatsToken:       envStr("NATS_TOKEN", ""),
		DatabaseURL:     envStr("DATABASE_URL", ""),
		RedisURL:        envStr("REDIS_URL", ""),
		LogLevel:        envStr("LOG_LEVEL", "info"),
		SlackBotToken:   envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:    envStr("SLACK_MODERATION_CHANNEL", ""),
		APIToken:        envStr("SCOOP_API_TOKEN", ""),
		PolicyFile:      envStr("SCOOP_POLICY_FILE", ""),
		NeedInfoExpiry:  envDuration("SCOOP_NEED_INFO_EXPIRY", 0),
		CounterFailOpen: envBool("SCOOP_COUNTER_FAIL_OPEN", env == EnvDevelopment),
	}
}

// Development reports whether in-memory fallbacks are allowed.
func (c Config) Development() bool {
	return c.Env == EnvDevelopment
}

// Validate rejects configurations that cannot run.
func (c Config) Validate() error {
	if c.Env != EnvProduction && c.Env != EnvDevelopment {
		return fmt.Errorf("SCOOP_ENV must be %q or %q, got %q", EnvProduction, EnvDevelopment, c.Env)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("SCOOP_PORT out of range: %d", c.Port)
	}
	if c.Development() {
		return nil
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required in %s", c.Env)
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required in %s", c.Env)
	}
	return nil
}

// Policy returns the moderation policy: the YAML file when one is set,
// defaults otherwise. A positive NeedInfoExpiry overrides the file.
func (c Config) Policy() (moderation.Policy, error) {
	policy := moderation.DefaultPolicy()
	if c.PolicyFile != "" {
		p, err := moderation.LoadPolicyFile(c.PolicyFile)
		if err != nil {
			return moderation.Policy{}, err
		}
		policy = p
	}
	if c.NeedInfoExpiry > 0 {
		policy.NeedInfoExpiry = c.NeedInfoExpiry
	}
	if err := policy.Validate(); err != nil {
		return moderation.Policy{}, fmt.Errorf("validate policy: %w", err)
	}
	return policy, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
