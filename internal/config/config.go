// Package config loads the server settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/zsiec/formatreader/internal/session"
)

// Config is the runtime configuration of the formatreader server.
type Config struct {
	APIAddr      string        // HTTPS/TCP API listen address
	H3Addr       string        // HTTP/3 API listen address
	SRTAddr      string        // SRT listener address
	ParseWorkers int           // concurrent byte-consumption slots
	QueryTimeout time.Duration // bound on blocking queries, 0 waits indefinitely
	ContentType  string        // container type parsed by every session
	OTelStdout   bool          // export trace spans to stdout
	SpoolLimit   int64         // bytes buffered per ingest stream
	MediaRoot    string        // directory API file readers are confined to, empty disables them
	Debug        bool
}

// Defaults returns the configuration used when no variables are set.
func Defaults() Config {
	return Config{
		APIAddr:      ":4444",
		H3Addr:       ":4443",
		SRTAddr:      ":6000",
		ParseWorkers: 4,
		ContentType:  session.DefaultContentType,
		SpoolLimit:   1 << 30,
		MediaRoot:    ".",
	}
}

// FromEnv reads the FR_* variables and DEBUG from the process environment.
func FromEnv() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	envOr := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}

	def := Defaults()
	cfg := Config{
		APIAddr:     envOr("FR_API_ADDR", def.APIAddr),
		H3Addr:      envOr("FR_H3_ADDR", def.H3Addr),
		SRTAddr:     envOr("FR_SRT_ADDR", def.SRTAddr),
		ContentType: envOr("FR_CONTENT_TYPE", def.ContentType),
		MediaRoot:   envOr("FR_MEDIA_ROOT", def.MediaRoot),
		OTelStdout:  getenv("FR_OTEL_STDOUT") == "1",
		Debug:       getenv("DEBUG") != "",
	}

	var err error
	if cfg.ParseWorkers, err = strconv.Atoi(envOr("FR_PARSE_WORKERS", strconv.Itoa(def.ParseWorkers))); err != nil {
		return Config{}, fmt.Errorf("config: FR_PARSE_WORKERS: %w", err)
	}
	if cfg.ParseWorkers < 1 {
		return Config{}, fmt.Errorf("config: FR_PARSE_WORKERS must be positive, got %d", cfg.ParseWorkers)
	}
	if cfg.QueryTimeout, err = time.ParseDuration(envOr("FR_QUERY_TIMEOUT", "0s")); err != nil {
		return Config{}, fmt.Errorf("config: FR_QUERY_TIMEOUT: %w", err)
	}
	if cfg.QueryTimeout < 0 {
		return Config{}, fmt.Errorf("config: FR_QUERY_TIMEOUT must not be negative, got %s", cfg.QueryTimeout)
	}
	if cfg.SpoolLimit, err = strconv.ParseInt(envOr("FR_SPOOL_LIMIT", strconv.FormatInt(def.SpoolLimit, 10)), 10, 64); err != nil {
		return Config{}, fmt.Errorf("config: FR_SPOOL_LIMIT: %w", err)
	}
	return cfg, nil
}
