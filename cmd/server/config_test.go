package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"community/pkg/storage"
	"community/pkg/storage/memdb"
	"community/pkg/storage/mongo"
)

func TestMain(m *testing.M) {
	log.SetLevel(log.PanicLevel)
	os.Exit(m.Run())
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("config.toml")
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}

	if cfg.HTTPAddr != ":8088" {
		t.Errorf("want httpAddr %q, got %q", ":8088", cfg.HTTPAddr)
	}
	if cfg.StoreTimeout != 5*time.Second {
		t.Errorf("want storeTimeout 5s, got %v", cfg.StoreTimeout)
	}
	if !cfg.FallbackMode {
		t.Error("want fallbackMode true")
	}
	if len(cfg.AllowedOrigins) == 0 {
		t.Error("want allowed origins")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.toml")
	if err := os.WriteFile(path, []byte(`serviceName = "partial"`), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}

	want := defaultConfig()
	want.ServiceName = "partial"
	if !reflect.DeepEqual(cfg, want) {
		t.Errorf("want config\n%+v\n\ngot config\n%+v\n", want, cfg)
	}

	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("want error for missing config file")
	}
}

func TestApplyFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.String("http", "", "")
	fs.String("log", "", "")
	fs.Bool("dev", false, "")
	fs.Bool("fallback", false, "")
	fs.String("kafka", "", "")
	fs.String("topic", "", "")
	fs.String("words", "", "")

	if err := fs.Parse([]string{"-http", ":9000", "-dev", "-topic", "logs"}); err != nil {
		t.Fatalf("unexpected error parsing flags: %v", err)
	}

	cfg := defaultConfig()
	cfg.LogLevel = "debug"
	cfg.FallbackMode = true
	applyFlags(fs, &cfg)

	if cfg.HTTPAddr != ":9000" || !cfg.Dev || cfg.KafkaTopic != "logs" {
		t.Errorf("want flags applied, got %+v", cfg)
	}
	if cfg.LogLevel != "debug" || !cfg.FallbackMode {
		t.Errorf("want unset flags to keep config values, got %+v", cfg)
	}
}

func TestOpenStorage(t *testing.T) {
	mongoDB := memdb.New()
	unreachable := func(context.Context) (storage.Storage, error) {
		return nil, fmt.Errorf("%w: server selection timeout", storage.ErrUnavailable)
	}
	badCredentials := func(context.Context) (storage.Storage, error) {
		return nil, errors.New("auth failed")
	}
	noEnv := func(context.Context) (storage.Storage, error) {
		return nil, fmt.Errorf("%w: MONGODB_URI or MONGO_HOST", mongo.ErrConfParamMissing)
	}
	reachable := func(context.Context) (storage.Storage, error) {
		return mongoDB, nil
	}

	tests := []struct {
		name     string
		cfg      Config
		connect  func(context.Context) (storage.Storage, error)
		wantName string
		wantErr  bool
	}{
		{name: "Dev", cfg: Config{Dev: true}, connect: unreachable, wantName: "memory"},
		{name: "Mongo reachable", cfg: Config{FallbackMode: true}, connect: reachable, wantName: "mongo"},
		{name: "Fallback", cfg: Config{FallbackMode: true}, connect: unreachable, wantName: "memory-fallback"},
		{name: "Fallback without env", cfg: Config{FallbackMode: true}, connect: noEnv, wantName: "memory-fallback"},
		{name: "No fallback", cfg: Config{}, connect: unreachable, wantErr: true},
		{name: "Fallback ignores other errors", cfg: Config{FallbackMode: true}, connect: badCredentials, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, name, err := openStorage(context.Background(), tt.cfg, tt.connect)
			if tt.wantErr {
				if err == nil {
					t.Errorf("want error, got storage %q", name)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if name != tt.wantName {
				t.Errorf("want storage %q, got %q", tt.wantName, name)
			}
			if db == nil {
				t.Error("want non-nil storage")
			}
		})
	}
}

func TestForbiddenWordsFile(t *testing.T) {
	cfg, err := loadConfig("config.toml")
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}
	// Paths in config.toml are relative to the module root.
	path := filepath.Join("..", "..", cfg.ForbiddenWordsPath)
	if _, err := os.Stat(path); err != nil {
		t.Errorf("want forbidden words file at %s: %v", path, err)
	}
}
