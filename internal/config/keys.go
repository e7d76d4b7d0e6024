package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

// keySpec binds a dotted config key to its env var and Config field.
// check, when set, rejects values the server could not use.
type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	check   func(v any) error
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "MARKD_SERVER_HOST",
		check:   nonEmpty,
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "MARKD_SERVER_PORT",
		check:   intRange(1, 65535),
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "MARKD_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "storage.data_dir", typ: kString, env: "MARKD_STORAGE_DATA_DIR",
		check:   nonEmpty,
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "MARKD_LOG_LEVEL",
		check:   oneOf("debug", "info", "warn", "error"),
		apply:   func(cfg *Config, v any) { cfg.Log.Level = strings.ToLower(v.(string)) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "client.timeout", typ: kString, env: "MARKD_CLIENT_TIMEOUT",
		check:   duration,
		apply:   func(cfg *Config, v any) { cfg.Client.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Client.Timeout },
	},
	{
		key: "import.batch_size", typ: kInt, env: "MARKD_IMPORT_BATCH_SIZE",
		check:   intRange(1, 10000),
		apply:   func(cfg *Config, v any) { cfg.Import.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Import.BatchSize },
	},
	{
		key: "import.concurrency", typ: kInt, env: "MARKD_IMPORT_CONCURRENCY",
		check:   intRange(1, 64),
		apply:   func(cfg *Config, v any) { cfg.Import.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Import.Concurrency },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parse converts raw text into the key's type and runs its check.
func (s keySpec) parse(raw string) (any, error) {
	var v any = raw
	if s.typ == kInt {
		i, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not an integer", s.key, raw)
		}
		v = i
	}
	if s.check != nil {
		if err := s.check(v); err != nil {
			return nil, fmt.Errorf("%s: %w", s.key, err)
		}
	}
	return v, nil
}

func nonEmpty(v any) error {
	if strings.TrimSpace(v.(string)) == "" {
		return fmt.Errorf("must not be empty")
	}
	return nil
}

func intRange(lo, hi int) func(any) error {
	return func(v any) error {
		if i := v.(int); i < lo || i > hi {
			return fmt.Errorf("%d is out of range [%d, %d]", i, lo, hi)
		}
		return nil
	}
}

func oneOf(allowed ...string) func(any) error {
	return func(v any) error {
		s := strings.ToLower(v.(string))
		for _, a := range allowed {
			if s == a {
				return nil
			}
		}
		return fmt.Errorf("%q is not one of %s", v, strings.Join(allowed, ", "))
	}
}

func duration(v any) error {
	d, err := time.ParseDuration(v.(string))
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

// applyBackend copies stored values into cfg. Stored values are checked
// like fresh ones; a bad value is an error rather than a silent default.
func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		var (
			raw string
			ok  bool
			err error
		)
		if s.typ == kInt {
			var i int
			i, ok, err = b.GetInt(s.key)
			raw = strconv.Itoa(i)
		} else {
			raw, ok, err = b.GetString(s.key)
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			return err
		}
		s.apply(cfg, v)
	}
	return nil
}

// applyEnvOverrides lets MARKD_* variables win over stored values. Unusable
// values are logged and ignored.
func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			slog.Warn("ignoring environment override", "env", s.env, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}
