// Package api exposes the comment service over REST. Every response is wrapped
// in a Response envelope whose success flag agrees with the status code.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"community/pkg/comments"
	"community/pkg/models"
)

const maxBodyBytes = 64 << 10

// CommentService is what the handlers need from the comment service.
type CommentService interface {
	Create(ctx context.Context, req models.CreateRequest, viewerID string) (models.CommentView, error)
	List(ctx context.Context, pageContext, viewerID string) ([]models.CommentView, error)
	ToggleLike(ctx context.Context, id, viewerID string) (models.CommentView, error)
	Delete(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context, pageContext string) (models.Stats, error)
	Ping(ctx context.Context) error
}

type Config struct {
	ServiceName string
	// StorageName is reported by /health, e.g. "mongo" or "memory".
	StorageName string
	// AllowedOrigins lists CORS origins. "*" allows any origin.
	AllowedOrigins []string
}

type API struct {
	ServiceName string

	r       *mux.Router
	svc     CommentService
	kw      *kafka.Writer
	storage string
	origins map[string]bool
}

func New(conf Config, svc CommentService, kafkaWriter *kafka.Writer) *API {
	api := API{
		ServiceName: conf.ServiceName,
		r:           mux.NewRouter(),
		svc:         svc,
		kw:          kafkaWriter,
		storage:     conf.StorageName,
		origins:     make(map[string]bool),
	}
	for _, o := range conf.AllowedOrigins {
		api.origins[o] = true
	}
	api.endpoints()

	return &api
}

func (api *API) Router() *mux.Router {
	return api.r
}

func (api *API) endpoints() {
	api.r.Use(api.requestIDMiddleware)
	api.r.Use(api.headerMiddleware)
	api.r.Use(api.viewerMiddleware)

	if api.kw != nil {
		api.r.Use(api.loggingMiddleware(api.kw))
	}

	api.r.HandleFunc("/health", api.healthHandler).Methods(http.MethodGet)

	c := api.r.PathPrefix("/api/comments").Subrouter()
	c.HandleFunc("", api.createCommentHandler).Methods(http.MethodPost)
	c.HandleFunc("/{pageContext}", api.commentsHandler).Methods(http.MethodGet)
	c.HandleFunc("/{pageContext}/stats", api.statsHandler).Methods(http.MethodGet)
	c.HandleFunc("/{commentId}/like", api.likeHandler).Methods(http.MethodPost)
	c.HandleFunc("/{commentId}", api.deleteCommentHandler).Methods(http.MethodDelete)

	api.r.NotFoundHandler = api.requestIDMiddleware(api.headerMiddleware(http.HandlerFunc(api.notFoundHandler)))
	api.r.MethodNotAllowedHandler = api.requestIDMiddleware(api.headerMiddleware(http.HandlerFunc(api.methodNotAllowedHandler)))
}

func (api *API) healthHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	health := Health{
		Status:    "OK",
		Timestamp: time.Now().UTC(),
		Service:   api.ServiceName,
		Storage:   api.storage,
	}

	if err := api.svc.Ping(r.Context()); err != nil {
		log.Warnf("[healthHandler][%s] storage ping failed: %v", sID, err)
		writeError(w, sID, err)
		return
	}

	writeJSON(w, sID, http.StatusOK, health)
}

func (api *API) commentsHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))
	pageContext := mux.Vars(r)["pageContext"]

	list, err := api.svc.List(r.Context(), pageContext, GetViewerID(r.Context()))
	if err != nil {
		log.Errorf("[commentsHandler][%s] List() for %q returned error: %v", sID, pageContext, err)
		writeError(w, sID, err)
		return
	}

	writeJSON(w, sID, http.StatusOK, list)
	log.Debugf("[commentsHandler][%s] %d comments sent to: %v", sID, len(list), r.RemoteAddr)
}

func (api *API) createCommentHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	var req models.CreateRequest
	if err := decodeBody(w, r, &req); err != nil {
		log.Debugf("[createCommentHandler][%s] failed to decode request body: %v", sID, err)
		writeError(w, sID, err)
		return
	}

	comment, err := api.svc.Create(r.Context(), req, GetViewerID(r.Context()))
	if err != nil {
		log.Infof("[createCommentHandler][%s] comment rejected: %v", sID, err)
		writeError(w, sID, err)
		return
	}

	writeJSON(w, sID, http.StatusCreated, comment)
	log.Debugf("[createCommentHandler][%s] comment %s created", sID, comment.ID)
}

func (api *API) likeHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))
	id := mux.Vars(r)["commentId"]

	comment, err := api.svc.ToggleLike(r.Context(), id, GetViewerID(r.Context()))
	if err != nil {
		log.Infof("[likeHandler][%s] failed to toggle like on %s: %v", sID, id, err)
		writeError(w, sID, err)
		return
	}

	writeJSON(w, sID, http.StatusOK, comment)
}

func (api *API) deleteCommentHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))
	id := mux.Vars(r)["commentId"]

	deleted, err := api.svc.Delete(r.Context(), id)
	if err != nil {
		log.Errorf("[deleteCommentHandler][%s] Delete() for %s returned error: %v", sID, id, err)
		writeError(w, sID, err)
		return
	}
	if !deleted {
		log.Debugf("[deleteCommentHandler][%s] comment %s not found", sID, id)
		writeError(w, sID, comments.ErrCommentNotFound)
		return
	}

	writeJSON(w, sID, http.StatusOK, Message{Message: "Comment deleted successfully"})
}

func (api *API) statsHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))
	pageContext := mux.Vars(r)["pageContext"]

	stats, err := api.svc.Stats(r.Context(), pageContext)
	if err != nil {
		log.Errorf("[statsHandler][%s] Stats() for %q returned error: %v", sID, pageContext, err)
		writeError(w, sID, err)
		return
	}

	writeJSON(w, sID, http.StatusOK, stats)
}

func (api *API) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))
	log.Debugf("[notFoundHandler][%s] %s %s", sID, r.Method, r.URL.Path)
	writeError(w, sID, errRouteNotFound)
}

// methodNotAllowedHandler also answers CORS preflight requests, which never
// match a route of their own.
func (api *API) methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	sID := shorten(GetRequestID(r.Context()))
	log.Debugf("[methodNotAllowedHandler][%s] %s %s", sID, r.Method, r.URL.Path)
	writeError(w, sID, errMethodNotAllowed)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()

	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err == nil {
		return nil
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return errBodyTooLarge
	}
	return fmt.Errorf("%w: %v", errBadJSON, err)
}

func writeJSON(w http.ResponseWriter, sID string, status int, data any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Response{Success: true, Data: data}); err != nil {
		log.Errorf("[writeJSON][%s] failed to encode response data: %v", sID, err)
	}
}

func writeError(w http.ResponseWriter, sID string, err error) {
	status, msg := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Errorf("[writeError][%s] internal error: %v", sID, err)
	}

	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Response{Success: false, Error: msg}); err != nil {
		log.Errorf("[writeError][%s] failed to encode error response: %v", sID, err)
	}
}

// GetRequestID extracts the request ID from the context.
// It returns the request ID as a string if present, otherwise returns an empty string.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}

// shorten truncates a string to 6 characters if it is longer than 6, appends '...' at the end,
// otherwise it returns the string unchanged.
func shorten(s string) string {
	if len(s) > 6 {
		return s[:6] + "..."
	}
	return s
}
