// Command logkeeper reads request log entries from Kafka and indexes them into
// Elasticsearch.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"community/pkg/api"
)

type Config struct {
	LogLevel     string   `toml:"logLevel"`
	KafkaBrokers []string `toml:"kafkaBrokers"`
	KafkaTopic   string   `toml:"kafkaTopic"`
	KafkaGroupID string   `toml:"kafkaGroupID"`

	ElasticSearchIndex string   `toml:"elasticSearchIndex"`
	ElasticSearchNodes []string `toml:"elasticSearchNodes"`

	NumWorkers int `toml:"numWorkers"`
}

var errBadEntry = errors.New("invalid log entry")

func main() {
	var (
		configPath string
		logLevel   string
	)

	flag.StringVar(&configPath, "config", "cmd/logkeeper/config.toml", "Path to TOML config file")
	flag.StringVar(&logLevel, "log", "", "Log level: debug, info, warn, error.")
	flag.Parse()

	var cfg Config
	if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
		log.Fatalf("[logkeeper] failed to load config file %s: %v", configPath, err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if cfg.NumWorkers < 1 {
		cfg.NumWorkers = 1
	}

	if lvl, err := log.ParseLevel(strings.ToLower(cfg.LogLevel)); err == nil {
		log.SetLevel(lvl)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("[logkeeper] shutting down gracefully...")
		cancel()
	}()

	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: cfg.ElasticSearchNodes})
	if err != nil {
		log.Fatalf("[logkeeper] error creating the client: %s", err)
	}
	ix := &indexer{es: es, index: cfg.ElasticSearchIndex}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	defer r.Close()

	jobs := make(chan kafka.Message, cfg.NumWorkers*5)
	var wg sync.WaitGroup
	wg.Add(cfg.NumWorkers)
	for workerID := 0; workerID < cfg.NumWorkers; workerID++ {
		go func(id int) {
			defer wg.Done()
			ix.work(ctx, jobs, id)
		}(workerID)
	}

	log.Infof("[logkeeper] accepting logs from %s...", cfg.KafkaTopic)
	consume(ctx, r, jobs)

	close(jobs)
	wg.Wait()
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// consume feeds messages from r into jobs until ctx is cancelled. A send
// blocked on a full jobs channel gives up on cancellation too.
func consume(ctx context.Context, r messageReader, jobs chan<- kafka.Message) {
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Errorf("[logkeeper] failed to read message from Kafka: %v", err)
			continue
		}

		select {
		case jobs <- msg:
		case <-ctx.Done():
			log.Warnf("[logkeeper] dropped message at offset %d on shutdown", msg.Offset)
			return
		}
	}
}

type indexer struct {
	es    *elasticsearch.Client
	index string
}

func (ix *indexer) work(ctx context.Context, jobs <-chan kafka.Message, workerID int) {
	for {
		select {
		case <-ctx.Done():
			log.Infof("[logkeeper][workerID:%d] context cancelled, exiting worker", workerID)
			return

		case msg, ok := <-jobs:
			if !ok {
				log.Infof("[logkeeper][workerID:%d] jobs channel closed, exiting worker", workerID)
				return
			}

			entry, err := ix.store(ctx, msg.Value)
			if err != nil {
				log.Errorf("[logkeeper][workerID:%d] %v", workerID, err)
				continue
			}
			log.Debugf("[logkeeper][workerID:%d][%s] %s %s %d indexed", workerID, shorten(entry.RequestID), entry.Method, entry.Path, entry.StatusCode)
		}
	}
}

// store indexes one request log entry. Entries are keyed by service and request
// id, so a redelivered message overwrites its earlier copy.
func (ix *indexer) store(ctx context.Context, value []byte) (api.LogEntry, error) {
	var entry api.LogEntry
	if err := json.Unmarshal(value, &entry); err != nil {
		return entry, fmt.Errorf("%w: %v", errBadEntry, err)
	}
	if entry.RequestID == "" {
		return entry, fmt.Errorf("%w: missing request_id", errBadEntry)
	}

	res, err := ix.es.Index(
		ix.index,
		bytes.NewReader(value),
		ix.es.Index.WithDocumentID(entry.Service+entry.RequestID),
		ix.es.Index.WithContext(ctx),
	)
	if err != nil {
		return entry, fmt.Errorf("failed to index document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return entry, fmt.Errorf("failed to index document: %s", res.Status())
	}

	return entry, nil
}

func shorten(s string) string {
	if len(s) > 6 {
		return s[:6] + "..."
	}
	return s
}
