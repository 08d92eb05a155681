package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"community/pkg/logger"
)

// AnonymousViewer is the viewer id of requests without a user-id header.
const AnonymousViewer = "anonymous"

const viewerHeader = "user-id"

type ctxKeyRequestID struct{}
type ctxKeyViewerID struct{}

var (
	RequestIDKey = ctxKeyRequestID{}
	ViewerIDKey  = ctxKeyViewerID{}
)

func (api *API) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			id, err := uuid.NewV4()
			if err != nil {
				log.Errorf("[requestIDMiddleware] failed to generate request ID for %v: %v", r.RemoteAddr, err)
				writeError(w, "", err)
				return
			}
			reqID = id.String()
			log.Debugf("[requestIDMiddleware] generated request ID:%s for %v", reqID, r.RemoteAddr)
		}

		w.Header().Set("X-Request-Id", reqID)
		ctx := context.WithValue(r.Context(), RequestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (api *API) headerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if origin := api.allowOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			if origin != "*" {
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, X-Request-Id, "+viewerHeader)
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-Id")
		}

		next.ServeHTTP(w, r)
	})
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or an
// empty string when the origin is not allowed.
func (api *API) allowOrigin(origin string) string {
	switch {
	case api.origins["*"]:
		return "*"
	case origin != "" && api.origins[origin]:
		return origin
	}
	return ""
}

// viewerMiddleware stores the caller's viewer id in the request context.
// Requests without one share the anonymous identity.
func (api *API) viewerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		viewer := strings.TrimSpace(r.Header.Get(viewerHeader))
		if viewer == "" {
			viewer = AnonymousViewer
		}

		ctx := context.WithValue(r.Context(), ViewerIDKey, viewer)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetViewerID(ctx context.Context) string {
	if v, ok := ctx.Value(ViewerIDKey).(string); ok {
		return v
	}
	return AnonymousViewer
}

func (api *API) loggingMiddleware(kWriter *kafka.Writer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lw := logger.New(w)
			defer func() {
				entry := LogEntry{
					Timestamp:  time.Now(),
					IP:         getClientIP(r),
					StatusCode: lw.Status(),
					RequestID:  GetRequestID(r.Context()),
					Method:     r.Method,
					Path:       r.URL.Path,
					Bytes:      lw.Bytes(),
					Duration:   time.Since(start).Seconds(),
					Service:    api.ServiceName,
					Viewer:     GetViewerID(r.Context()),
				}
				go sendLogEntry(kWriter, entry)
			}()

			next.ServeHTTP(lw, r)
		})
	}
}

func sendLogEntry(kWriter *kafka.Writer, entry LogEntry) {
	jsonEntry, err := json.Marshal(entry)
	if err != nil {
		log.Errorf("[loggingMiddleware] failed to marshal log entry for request %s", entry.RequestID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = kWriter.WriteMessages(ctx, kafka.Message{Key: []byte(entry.RequestID), Value: jsonEntry})
	if err != nil {
		log.Errorf("[loggingMiddleware] failed to write log to Kafka: %v", err)
		return
	}
	log.Debugf("[loggingMiddleware] log entry sent to Kafka request_id:%s", entry.RequestID)
}

func getClientIP(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.RemoteAddr
	}

	return ip
}
