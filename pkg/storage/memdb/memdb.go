package memdb

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"community/pkg/models"
	"community/pkg/storage"
)

// Store keeps comments in process memory. Nothing survives a restart.
type Store struct {
	mu       sync.Mutex
	comments map[string]models.Comment
	seq      map[string]int
	next     int
}

func New() *Store {
	db := Store{
		comments: make(map[string]models.Comment),
		seq:      make(map[string]int),
	}

	return &db
}

func (db *Store) CreateComment(ctx context.Context, comment models.Comment) (models.Comment, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	comment.LikedBy = slices.Clone(comment.LikedBy)
	if comment.LikedBy == nil {
		comment.LikedBy = []string{}
	}
	comment.Likes = len(comment.LikedBy)

	db.comments[comment.ID] = comment
	db.next++
	db.seq[comment.ID] = db.next

	return copyComment(comment), nil
}

func (db *Store) Comment(ctx context.Context, id string) (models.Comment, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	c, ok := db.comments[id]
	if !ok {
		return models.Comment{}, storage.ErrCommentNotFound
	}

	return copyComment(c), nil
}

func (db *Store) Comments(ctx context.Context, pageContext string) ([]models.Comment, error) {
	db.mu.Lock()
	comments := make([]models.Comment, 0)
	seq := make(map[string]int)
	for id, c := range db.comments {
		if c.PageContext == pageContext {
			comments = append(comments, copyComment(c))
			seq[id] = db.seq[id]
		}
	}
	db.mu.Unlock()

	// Seq, then insertion order, breaks ties between equal timestamps.
	sort.Slice(comments, func(i, j int) bool {
		a, b := comments[i], comments[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return seq[a.ID] < seq[b.ID]
	})

	return comments, nil
}

func (db *Store) ToggleLike(ctx context.Context, id, viewerID string, at time.Time) (models.Comment, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	c, ok := db.comments[id]
	if !ok {
		return models.Comment{}, storage.ErrCommentNotFound
	}

	if i := slices.Index(c.LikedBy, viewerID); i >= 0 {
		c.LikedBy = slices.Delete(slices.Clone(c.LikedBy), i, i+1)
	} else {
		c.LikedBy = append(slices.Clone(c.LikedBy), viewerID)
	}
	c.Likes = len(c.LikedBy)
	c.UpdatedAt = at
	db.comments[id] = c

	return copyComment(c), nil
}

func (db *Store) DeleteComment(ctx context.Context, id string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, ok := db.comments[id]
	delete(db.comments, id)
	delete(db.seq, id)

	for replyID, c := range db.comments {
		if c.ParentID == id {
			delete(db.comments, replyID)
			delete(db.seq, replyID)
		}
	}

	return ok, nil
}

func (db *Store) Stats(ctx context.Context, pageContext string) (models.Stats, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var stats models.Stats
	for _, c := range db.comments {
		if c.PageContext != pageContext {
			continue
		}
		if c.IsReply {
			stats.TotalReplies++
		} else {
			stats.TotalComments++
		}
	}

	return stats, nil
}

func (db *Store) Ping(ctx context.Context) error {
	return nil
}

func (db *Store) Close(ctx context.Context) error {
	return nil
}

func copyComment(c models.Comment) models.Comment {
	c.LikedBy = slices.Clone(c.LikedBy)
	if c.LikedBy == nil {
		c.LikedBy = []string{}
	}
	return c
}
