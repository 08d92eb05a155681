package models

import (
	"encoding/json"
	"time"
)

// AnonymousAuthor is the display name used when a comment is posted without one.
const AnonymousAuthor = "Anonymous User"

// Comment is the persisted comment record. A non-empty ParentID makes it a reply.
type Comment struct {
	ID          string    `bson:"_id" json:"id"`
	Author      string    `bson:"author" json:"author"`
	Content     string    `bson:"content" json:"content"`
	PageContext string    `bson:"page_context" json:"pageContext"`
	ParentID    string    `bson:"parent_id,omitempty" json:"parentId,omitempty"`
	IsReply     bool      `bson:"is_reply" json:"isReply"`
	Likes       int       `bson:"likes" json:"likes"`
	LikedBy     []string  `bson:"liked_by" json:"-"`
	Timestamp   time.Time `bson:"timestamp" json:"timestamp"`
	CreatedAt   time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `bson:"updated_at" json:"updatedAt"`
	// Seq increases with every comment created and orders comments that share
	// a creation time.
	Seq int64 `bson:"seq" json:"-"`
}

// LikedByViewer reports whether viewerID is in the comment's like set.
func (c *Comment) LikedByViewer(viewerID string) bool {
	for _, id := range c.LikedBy {
		if id == viewerID {
			return true
		}
	}
	return false
}

// CommentView is a comment as seen by one viewer.
type CommentView struct {
	ID          string        `json:"id"`
	Author      string        `json:"author"`
	Content     string        `json:"content"`
	Timestamp   time.Time     `json:"timestamp"`
	PageContext string        `json:"pageContext"`
	Likes       int           `json:"likes"`
	IsLiked     bool          `json:"isLiked"`
	ParentID    string        `json:"parentId,omitempty"`
	IsReply     bool          `json:"isReply"`
	Replies     []CommentView `json:"replies,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// MarshalJSON writes replies only for views that carry a reply list, and writes
// an empty list as []. Replies and single comment views leave the key out.
func (v CommentView) MarshalJSON() ([]byte, error) {
	type view CommentView
	if v.Replies == nil {
		return json.Marshal(view(v))
	}

	return json.Marshal(struct {
		view
		Replies []CommentView `json:"replies"`
	}{view: view(v), Replies: v.Replies})
}

// View builds the viewer-relative representation of c without replies.
func (c *Comment) View(viewerID string) CommentView {
	return CommentView{
		ID:          c.ID,
		Author:      c.Author,
		Content:     c.Content,
		Timestamp:   c.Timestamp,
		PageContext: c.PageContext,
		Likes:       c.Likes,
		IsLiked:     c.LikedByViewer(viewerID),
		ParentID:    c.ParentID,
		IsReply:     c.IsReply,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// CreateRequest is the body of a create comment call.
type CreateRequest struct {
	Author      string `json:"author" validate:"max=100"`
	Content     string `json:"content" validate:"required,max=5000"`
	PageContext string `json:"pageContext" validate:"required,max=200"`
	ParentID    string `json:"parentId,omitempty" validate:"omitempty,max=64"`
}

// Stats holds per-page comment counts.
type Stats struct {
	TotalComments int64 `json:"totalComments"`
	TotalReplies  int64 `json:"totalReplies"`
}
