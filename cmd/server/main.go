package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"community/pkg/api"
	"community/pkg/censor"
	"community/pkg/comments"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warnf("[server] failed to load .env file: %v", err)
	}

	flags := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	configPath := flags.String("config", "cmd/server/config.toml", "Path to TOML config file.")
	flags.String("http", "", "HTTP server address in the form 'host:port'.")
	flags.String("log", "", "Log level: debug, info, warn, error.")
	flags.Bool("dev", false, "Run the server with the in-memory store.")
	flags.Bool("fallback", false, "Use the in-memory store when Mongo is unreachable at startup.")
	flags.String("kafka", "", "Kafka server address in the form 'host:port'.")
	flags.String("topic", "", "Kafka topic for request logs.")
	flags.String("words", "", "Path to the forbidden words JSON file.")
	flags.Parse(os.Args[1:])

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("[server] %v", err)
	}
	applyFlags(flags, &cfg)
	setLogLevel(cfg.LogLevel)

	if !strings.Contains(cfg.HTTPAddr, ":") {
		log.Warn("[server] use ':' before port number, e.g. ':8080'")
	}

	ctx := context.Background()
	db, storageName, err := openStorage(ctx, cfg, mongoConnector)
	if err != nil {
		log.Fatalf("[server] %v", err)
	}

	var moderator comments.Moderator
	if cfg.ForbiddenWordsPath != "" {
		c := censor.New()
		if err := c.LoadFromJSON(cfg.ForbiddenWordsPath); err != nil {
			log.Fatalf("[server] failed to load forbidden words %s: %v", cfg.ForbiddenWordsPath, err)
		}
		log.Infof("[server] moderation enabled with %d patterns", c.Len())
		moderator = c
	}

	var kafkaWriter *kafka.Writer
	if cfg.KafkaAddr != "" && cfg.KafkaTopic != "" {
		kafkaWriter = &kafka.Writer{
			Addr:      kafka.TCP(cfg.KafkaAddr),
			Topic:     cfg.KafkaTopic,
			BatchSize: cfg.KafkaBatch,
		}
		if err := createTopic(kafkaWriter.Addr.String(), kafkaWriter.Topic); err != nil {
			log.Warnf("[server] failed to create Kafka topic: %v", err)
		}
	} else {
		log.Warnf("[server] kafka was not configured, request logs will not be sent to Kafka")
	}

	svc := comments.New(db, comments.Config{StoreTimeout: cfg.StoreTimeout, Moderator: moderator})
	a := api.New(api.Config{
		ServiceName:    cfg.ServiceName,
		StorageName:    storageName,
		AllowedOrigins: cfg.AllowedOrigins,
	}, svc, kafkaWriter)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("[server] starting on %v with %s storage", cfg.HTTPAddr, storageName)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[server] failed to start: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownRelease()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("[server] HTTP server shutdown error: %v", err)
	} else {
		log.Info("[server] HTTP server shut down gracefully")
	}

	if kafkaWriter != nil {
		if err := kafkaWriter.Close(); err != nil {
			log.Errorf("[server] failed to close Kafka writer: %v", err)
		}
	}

	if err := db.Close(shutdownCtx); err != nil {
		log.Errorf("[server] failed to close storage: %v", err)
	} else {
		log.Info("[server] storage closed")
	}
}

func createTopic(broker, topic string) error {
	conn, err := kafka.DialContext(context.Background(), "tcp", broker)
	if err != nil {
		return err
	}
	defer conn.Close()

	return conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
}
