package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr             string
	DatabaseURL          string
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	JWTSecret string

	SchedulerInterval    time.Duration
	SchedulerConcurrency int
	WorkerPollInterval   time.Duration
	NotifyChannel        string

	Defaults ScheduleDefaults
}

// SlotDefault is the default for one check-in slot on one kind of day.
type SlotDefault struct {
	Enabled bool   `yaml:"enabled"`
	Time    string `yaml:"time"`
}

type SlotPair struct {
	Weekday SlotDefault `yaml:"weekday"`
	Weekend SlotDefault `yaml:"weekend"`
}

// ScheduleDefaults is assigned to users when they register.
type ScheduleDefaults struct {
	Timezone             string   `yaml:"timezone"`
	NotificationsEnabled bool     `yaml:"notifications_enabled"`
	Morning              SlotPair `yaml:"morning"`
	Evening              SlotPair `yaml:"evening"`
}

func BuiltinDefaults() ScheduleDefaults {
	return ScheduleDefaults{
		Timezone:             "UTC",
		NotificationsEnabled: true,
		Morning: SlotPair{
			Weekday: SlotDefault{Enabled: true, Time: "08:00"},
			Weekend: SlotDefault{Enabled: true, Time: "08:00"},
		},
		Evening: SlotPair{
			Weekday: SlotDefault{Enabled: true, Time: "21:00"},
			Weekend: SlotDefault{Enabled: true, Time: "21:00"},
		},
	}
}

// Load reads the environment (and .env when present). DATABASE_URL is always
// required; JWT_SECRET is only required by callers that serve HTTP.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:          getenv("DATABASE_URL", ""),
		CORSAllowCredentials: getenv("CORS_ALLOW_CREDENTIALS", "false") == "true",
		JWTSecret:            getenv("JWT_SECRET", ""),
		NotifyChannel:        getenv("NOTIFY_CHANNEL", "checkin_due"),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("missing env: DATABASE_URL")
	}

	origins := strings.Split(getenv("CORS_ALLOWED_ORIGINS", ""), ",")
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	var err error
	if cfg.SchedulerInterval, err = getduration("SCHEDULER_INTERVAL", time.Minute); err != nil {
		return cfg, err
	}
	if cfg.WorkerPollInterval, err = getduration("WORKER_POLL_INTERVAL", 800*time.Millisecond); err != nil {
		return cfg, err
	}
	cfg.SchedulerConcurrency = 8
	if v := getenv("SCHEDULER_CONCURRENCY", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("invalid SCHEDULER_CONCURRENCY: %q", v)
		}
		cfg.SchedulerConcurrency = n
	}

	cfg.Defaults = BuiltinDefaults()
	if path := getenv("SCHEDULE_DEFAULTS_FILE", ""); path != "" {
		d, err := LoadDefaultsFile(path)
		if err != nil {
			return cfg, err
		}
		cfg.Defaults = d
	}

	return cfg, nil
}

// LoadDefaultsFile overlays a YAML file on the built-in schedule defaults.
func LoadDefaultsFile(path string) (ScheduleDefaults, error) {
	d := BuiltinDefaults()
	b, err := os.ReadFile(path)
	if err != nil {
		return d, fmt.Errorf("read schedule defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &d); err != nil {
		return d, fmt.Errorf("parse schedule defaults %s: %w", path, err)
	}
	if _, err := time.LoadLocation(d.Timezone); err != nil {
		return d, fmt.Errorf("schedule defaults timezone %q: %w", d.Timezone, err)
	}
	return d, nil
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func getduration(key string, def time.Duration) (time.Duration, error) {
	v := getenv(key, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}
