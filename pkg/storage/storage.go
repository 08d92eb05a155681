package storage

import (
	"context"
	"errors"
	"time"

	"community/pkg/models"
)

var (
	ErrCommentNotFound = errors.New("comment not found")
	ErrUnavailable     = errors.New("storage unavailable")
)

// Storage persists comments partitioned by page context.
type Storage interface {
	CreateComment(ctx context.Context, comment models.Comment) (models.Comment, error)
	Comment(ctx context.Context, id string) (models.Comment, error)
	// Comments returns every record of the page, oldest first.
	Comments(ctx context.Context, pageContext string) ([]models.Comment, error)
	// ToggleLike adds viewerID to the like set of the comment or removes it if
	// already present, in one atomic step, and returns the updated record.
	ToggleLike(ctx context.Context, id, viewerID string, at time.Time) (models.Comment, error)
	// DeleteComment removes the comment and every reply to it. The result reports
	// whether the comment itself existed.
	DeleteComment(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context, pageContext string) (models.Stats, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
