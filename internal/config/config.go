package config

import (
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Mode string `yaml:"mode"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	QuizSets struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quizSets"`
	Scheduler Scheduler `yaml:"scheduler"`
}

// Scheduler holds the spaced-repetition knobs.
type Scheduler struct {
	Offsets  []int  `yaml:"offsets"`
	Timezone string `yaml:"timezone"`
	Missed   struct {
		Enabled bool   `yaml:"enabled"`
		Grace   string `yaml:"grace"`
		Cron    string `yaml:"cron"`
	} `yaml:"missed"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Mode == "" {
		cfg.Log.Mode = "development"
	}
	if cfg.Scheduler.Timezone == "" {
		cfg.Scheduler.Timezone = "UTC"
	}
	if cfg.Scheduler.Missed.Cron == "" {
		cfg.Scheduler.Missed.Cron = "0 * * * *"
	}
}

// Location resolves the scheduler timezone.
func (s Scheduler) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
