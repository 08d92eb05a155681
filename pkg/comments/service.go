// Package comments implements threaded page comments with per-viewer likes on
// top of a storage.Storage.
package comments

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid"
	log "github.com/sirupsen/logrus"

	"community/pkg/models"
	"community/pkg/storage"
)

const DefaultStoreTimeout = 5 * time.Second

// Moderator reports whether text must be rejected.
type Moderator interface {
	Check(text string) bool
}

type Config struct {
	// StoreTimeout bounds every store round trip. Zero means DefaultStoreTimeout.
	StoreTimeout time.Duration
	// Moderator is optional.
	Moderator Moderator
}

type Service struct {
	db        storage.Storage
	timeout   time.Duration
	moderator Moderator
	now       func() time.Time
	lastSeq   atomic.Int64
}

func New(db storage.Storage, conf Config) *Service {
	s := &Service{
		db:        db,
		timeout:   conf.StoreTimeout,
		moderator: conf.Moderator,
		now:       time.Now,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultStoreTimeout
	}

	return s
}

// nextSeq returns a sequence number above every one handed out before. It
// follows the wall clock in nanoseconds so numbers keep growing across restarts.
func (s *Service) nextSeq() int64 {
	for {
		last := s.lastSeq.Load()
		next := time.Now().UnixNano()
		if next <= last {
			next = last + 1
		}
		if s.lastSeq.CompareAndSwap(last, next) {
			return next
		}
	}
}

// Create validates and stores a new comment or reply. A reply must point to a
// top-level comment of the same page.
func (s *Service) Create(ctx context.Context, req models.CreateRequest, viewerID string) (models.CommentView, error) {
	req = normalizeRequest(req)
	if err := validateRequest(req); err != nil {
		return models.CommentView{}, err
	}
	if s.moderator != nil && (s.moderator.Check(req.Content) || s.moderator.Check(req.Author)) {
		return models.CommentView{}, &ValidationError{Field: "content", Reason: "contains forbidden words"}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if req.ParentID != "" {
		parent, err := s.db.Comment(ctx, req.ParentID)
		if errors.Is(err, storage.ErrCommentNotFound) {
			return models.CommentView{}, ErrParentNotFound
		}
		if err != nil {
			return models.CommentView{}, storeErr(err)
		}
		if parent.PageContext != req.PageContext {
			return models.CommentView{}, ErrParentNotFound
		}
		if parent.IsReply {
			return models.CommentView{}, &ValidationError{Field: "parentId", Reason: "must reference a top-level comment"}
		}
	}

	id, err := uuid.NewV4()
	if err != nil {
		return models.CommentView{}, err
	}

	now := s.now().UTC()
	comment := models.Comment{
		ID:          id.String(),
		Author:      req.Author,
		Content:     req.Content,
		PageContext: req.PageContext,
		ParentID:    req.ParentID,
		IsReply:     req.ParentID != "",
		LikedBy:     []string{},
		Timestamp:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
		Seq:         s.nextSeq(),
	}

	comment, err = s.db.CreateComment(ctx, comment)
	if err != nil {
		return models.CommentView{}, storeErr(err)
	}
	log.Debugf("[comments] created %s on %s by viewer %s", comment.ID, comment.PageContext, viewerID)

	return comment.View(viewerID), nil
}

// List returns the page thread: top-level comments newest first, each with its
// replies oldest first. Replies whose parent is gone are left out.
func (s *Service) List(ctx context.Context, pageContext, viewerID string) ([]models.CommentView, error) {
	if err := required("pageContext", pageContext); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	records, err := s.db.Comments(ctx, pageContext)
	if err != nil {
		return nil, storeErr(err)
	}

	return thread(records, pageContext, viewerID), nil
}

func thread(records []models.Comment, pageContext, viewerID string) []models.CommentView {
	roots := make([]models.CommentView, 0)
	index := make(map[string]int)

	for i := range records {
		c := &records[i]
		if c.IsReply || c.PageContext != pageContext {
			continue
		}
		v := c.View(viewerID)
		v.Replies = []models.CommentView{}
		index[c.ID] = len(roots)
		roots = append(roots, v)
	}

	for i := range records {
		c := &records[i]
		if !c.IsReply || c.PageContext != pageContext {
			continue
		}
		if j, ok := index[c.ParentID]; ok {
			roots[j].Replies = append(roots[j].Replies, c.View(viewerID))
		}
	}

	slices.Reverse(roots)
	return roots
}

// ToggleLike likes the comment for viewerID, or removes the like if the viewer
// already liked it.
func (s *Service) ToggleLike(ctx context.Context, id, viewerID string) (models.CommentView, error) {
	if err := required("commentId", id); err != nil {
		return models.CommentView{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	c, err := s.db.ToggleLike(ctx, id, viewerID, s.now().UTC())
	if err != nil {
		return models.CommentView{}, storeErr(err)
	}

	return c.View(viewerID), nil
}

// Delete removes the comment with its replies and reports whether it existed.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	if err := required("commentId", id); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	deleted, err := s.db.DeleteComment(ctx, id)
	if err != nil {
		return false, storeErr(err)
	}
	if deleted {
		log.Debugf("[comments] deleted %s", id)
	}

	return deleted, nil
}

func (s *Service) Stats(ctx context.Context, pageContext string) (models.Stats, error) {
	if err := required("pageContext", pageContext); err != nil {
		return models.Stats{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stats, err := s.db.Stats(ctx, pageContext)
	if err != nil {
		return models.Stats{}, storeErr(err)
	}

	return stats, nil
}

// Ping checks that the store answers within the store timeout.
func (s *Service) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		return storeErr(err)
	}
	return nil
}
