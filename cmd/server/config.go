package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"

	"community/pkg/storage"
	"community/pkg/storage/memdb"
	"community/pkg/storage/mongo"
)

type Config struct {
	ServiceName    string        `toml:"serviceName"`
	HTTPAddr       string        `toml:"httpAddr"`
	LogLevel       string        `toml:"logLevel"`
	StoreTimeout   time.Duration `toml:"storeTimeout"`
	AllowedOrigins []string      `toml:"allowedOrigins"`

	// ForbiddenWordsPath enables moderation when set.
	ForbiddenWordsPath string `toml:"forbiddenWordsPath"`

	// Dev always uses the in-memory store.
	Dev bool `toml:"dev"`
	// FallbackMode serves from the in-memory store when Mongo cannot be
	// reached at startup. Comments are lost on restart in that mode.
	FallbackMode bool `toml:"fallbackMode"`

	KafkaAddr  string `toml:"kafkaAddr"`
	KafkaTopic string `toml:"kafkaTopic"`
	KafkaBatch int    `toml:"kafkaBatch"`
}

func defaultConfig() Config {
	return Config{
		ServiceName:  "community",
		HTTPAddr:     ":8088",
		LogLevel:     "info",
		StoreTimeout: 5 * time.Second,
		KafkaBatch:   1,
	}
}

// loadConfig reads the TOML file at path on top of the defaults. A missing
// path keeps the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}

	return cfg, nil
}

// applyFlags overrides cfg with the flags that were set on the command line.
func applyFlags(fs *flag.FlagSet, cfg *Config) {
	fs.Visit(func(f *flag.Flag) {
		v := f.Value.String()
		switch f.Name {
		case "http":
			cfg.HTTPAddr = v
		case "log":
			cfg.LogLevel = v
		case "dev":
			cfg.Dev = v == "true"
		case "fallback":
			cfg.FallbackMode = v == "true"
		case "kafka":
			cfg.KafkaAddr = v
		case "topic":
			cfg.KafkaTopic = v
		case "words":
			cfg.ForbiddenWordsPath = v
		}
	})
}

func setLogLevel(level string) {
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		log.Warnf("[server] unknown log level %q, using info", level)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

// mongoConnector opens the Mongo store described by the environment.
func mongoConnector(ctx context.Context) (storage.Storage, error) {
	conf, err := mongo.NewConfig()
	if err != nil {
		return nil, err
	}
	log.Infof("[server] connecting to Mongo: %s", conf)

	ctx, cancel := context.WithTimeout(ctx, conf.ConnectTimeout)
	defer cancel()

	db, err := mongo.New(ctx, conf)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// openStorage picks the comment store. It returns the store and its name as
// reported by the health endpoint.
func openStorage(ctx context.Context, cfg Config, connect func(context.Context) (storage.Storage, error)) (storage.Storage, string, error) {
	if cfg.Dev {
		log.Info("[server] development mode, using in-memory store")
		return memdb.New(), "memory", nil
	}

	db, err := connect(ctx)
	if err == nil {
		return db, "mongo", nil
	}

	if cfg.FallbackMode && (errors.Is(err, storage.ErrUnavailable) || errors.Is(err, mongo.ErrConfParamMissing)) {
		log.Warnf("[server] Mongo unavailable (%v), falling back to in-memory store; comments will not survive a restart", err)
		return memdb.New(), "memory-fallback", nil
	}

	return nil, "", fmt.Errorf("open storage: %w", err)
}
