package client

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"community/pkg/models"
)

var (
	ErrEmptyName  = errors.New("name is empty")
	ErrEmptyDraft = errors.New("comment text is empty")
	ErrNoReplyTo  = errors.New("no comment selected to reply to")
	ErrOffline    = errors.New("comments are offline")
)

type LoadState int

const (
	Idle LoadState = iota
	Loading
	Loaded
	Failed
)

func (s LoadState) String() string {
	switch s {
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	}
	return "idle"
}

// Widget holds the thread of one page together with the viewer's compose
// state. Local state only changes after the server has confirmed an action.
type Widget struct {
	api         *Client
	ids         IdentityStore
	pageContext string
	online      atomic.Bool

	mu         sync.Mutex
	identity   Identity
	state      LoadState
	comments   []models.CommentView
	draft      string
	replyTo    string
	replyDraft string
	notice     string
}

// NewWidget restores the viewer identity, minting an anonymous id on first use.
func NewWidget(c *Client, ids IdentityStore, pageContext string) (*Widget, error) {
	id, err := ids.Load()
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	if id.AnonymousID == "" {
		if id.AnonymousID, err = NewAnonymousID(); err != nil {
			return nil, err
		}
		if err := ids.Save(id); err != nil {
			return nil, fmt.Errorf("save identity: %w", err)
		}
	}
	c.SetViewer(id.AnonymousID)

	w := Widget{
		api:         c,
		ids:         ids,
		pageContext: pageContext,
		identity:    id,
		comments:    []models.CommentView{},
	}
	w.online.Store(true)

	return &w, nil
}

func (w *Widget) PageContext() string {
	return w.pageContext
}

func (w *Widget) Identity() Identity {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.identity
}

// SignIn stores the display name used as the author of new comments.
func (w *Widget) SignIn(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.identity
	id.Name = name
	if err := w.ids.Save(id); err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	w.identity = id

	return nil
}

func (w *Widget) SignOut() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ids.Clear(); err != nil {
		return fmt.Errorf("clear identity: %w", err)
	}
	w.identity.Name = ""

	return nil
}

func (w *Widget) State() LoadState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Comments returns a copy of the local thread.
func (w *Widget) Comments() []models.CommentView {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]models.CommentView, len(w.comments))
	for i, c := range w.comments {
		c.Replies = slices.Clone(c.Replies)
		out[i] = c
	}
	return out
}

// Notice is the last user-visible error, empty after a successful action.
func (w *Widget) Notice() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.notice
}

// DismissNotice clears the notice, e.g. once the user has seen it.
func (w *Widget) DismissNotice() {
	w.setNotice("")
}

func (w *Widget) SetDraft(text string) {
	w.mu.Lock()
	w.draft = text
	w.mu.Unlock()
}

func (w *Widget) Draft() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.draft
}

func (w *Widget) StartReply(parentID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.replyTo != parentID {
		w.replyDraft = ""
	}
	w.replyTo = parentID
}

func (w *Widget) CancelReply() {
	w.mu.Lock()
	w.replyTo = ""
	w.replyDraft = ""
	w.mu.Unlock()
}

func (w *Widget) ReplyTo() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.replyTo
}

func (w *Widget) SetReplyDraft(text string) {
	w.mu.Lock()
	w.replyDraft = text
	w.mu.Unlock()
}

func (w *Widget) ReplyDraft() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.replyDraft
}

func (w *Widget) Online() bool {
	return w.online.Load()
}

// CanSubmit reports whether the post button should be enabled.
func (w *Widget) CanSubmit() bool {
	return w.Online() && strings.TrimSpace(w.Draft()) != ""
}

// Load fetches the page thread. A failure leaves the previous thread in place.
func (w *Widget) Load(ctx context.Context) error {
	w.mu.Lock()
	w.state = Loading
	w.mu.Unlock()

	list, err := w.api.Comments(ctx, w.pageContext)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err != nil {
		w.state = Failed
		w.notice = noticeFor(err, "Could not load comments.")
		w.markOffline(err)
		return err
	}
	w.state = Loaded
	w.comments = list
	w.notice = ""

	return nil
}

// SubmitComment posts the draft. On success the comment is put first and the
// draft is cleared; on failure the draft is kept for a retry.
func (w *Widget) SubmitComment(ctx context.Context) error {
	if !w.Online() {
		w.setNotice("You are offline. Comments will be available when the connection is back.")
		return ErrOffline
	}

	w.mu.Lock()
	content := strings.TrimSpace(w.draft)
	author := w.author()
	w.mu.Unlock()

	if content == "" {
		return ErrEmptyDraft
	}

	c, err := w.api.CreateComment(ctx, models.CreateRequest{
		Author:      author,
		Content:     content,
		PageContext: w.pageContext,
	})

	w.mu.Lock()
	defer w.mu.Unlock()

	if err != nil {
		w.notice = noticeFor(err, "Could not post your comment. Please try again.")
		w.markOffline(err)
		return err
	}
	if c.Replies == nil {
		c.Replies = []models.CommentView{}
	}
	w.comments = append([]models.CommentView{c}, w.comments...)
	w.draft = ""
	w.notice = ""

	return nil
}

// SubmitReply posts the reply draft to the selected parent and appends the
// reply to that parent's replies.
func (w *Widget) SubmitReply(ctx context.Context) error {
	if !w.Online() {
		w.setNotice("You are offline. Replies will be available when the connection is back.")
		return ErrOffline
	}

	w.mu.Lock()
	parentID := w.replyTo
	content := strings.TrimSpace(w.replyDraft)
	author := w.author()
	w.mu.Unlock()

	if parentID == "" {
		return ErrNoReplyTo
	}
	if content == "" {
		return ErrEmptyDraft
	}

	reply, err := w.api.CreateComment(ctx, models.CreateRequest{
		Author:      author,
		Content:     content,
		PageContext: w.pageContext,
		ParentID:    parentID,
	})

	w.mu.Lock()
	defer w.mu.Unlock()

	if err != nil {
		w.notice = noticeFor(err, "Could not post your reply. Please try again.")
		w.markOffline(err)
		return err
	}

	// A parent missing locally shows up with its reply on the next Load.
	if i := slices.IndexFunc(w.comments, func(c models.CommentView) bool { return c.ID == parentID }); i >= 0 {
		w.comments[i].Replies = append(w.comments[i].Replies, reply)
	}
	w.replyTo = ""
	w.replyDraft = ""
	w.notice = ""

	return nil
}

// ToggleLike applies the like count and state returned by the server to the
// comment or reply with the given id.
func (w *Widget) ToggleLike(ctx context.Context, id string) error {
	c, err := w.api.ToggleLike(ctx, id)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err != nil {
		w.notice = noticeFor(err, "Could not update the like. Please try again.")
		w.markOffline(err)
		return err
	}

	if v := w.find(id); v != nil {
		v.Likes = c.Likes
		v.IsLiked = c.IsLiked
		v.UpdatedAt = c.UpdatedAt
	}
	w.notice = ""

	return nil
}

// Delete removes a comment, and with it its replies, from the server and the
// local thread.
func (w *Widget) Delete(ctx context.Context, id string) error {
	err := w.api.DeleteComment(ctx, id)

	w.mu.Lock()
	defer w.mu.Unlock()

	var apiErr *APIError
	if err != nil && !(errors.As(err, &apiErr) && apiErr.NotFound()) {
		w.notice = noticeFor(err, "Could not delete the comment. Please try again.")
		w.markOffline(err)
		return err
	}

	w.comments = slices.DeleteFunc(w.comments, func(c models.CommentView) bool { return c.ID == id })
	for i := range w.comments {
		w.comments[i].Replies = slices.DeleteFunc(w.comments[i].Replies, func(c models.CommentView) bool { return c.ID == id })
	}
	if w.replyTo == id {
		w.replyTo = ""
		w.replyDraft = ""
	}
	w.notice = ""

	return nil
}

func (w *Widget) Stats(ctx context.Context) (models.Stats, error) {
	return w.api.Stats(ctx, w.pageContext)
}

// Probe checks the health endpoint and records whether the service is reachable.
func (w *Widget) Probe(ctx context.Context) bool {
	_, err := w.api.Health(ctx)
	online := err == nil
	if was := w.online.Swap(online); was != online {
		log.Debugf("[widget] connectivity changed, online: %v", online)
	}
	return online
}

// WatchConnectivity probes every interval until ctx is done.
func (w *Widget) WatchConnectivity(ctx context.Context, interval time.Duration) {
	w.Probe(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Probe(ctx)
		}
	}
}

func (w *Widget) setNotice(msg string) {
	w.mu.Lock()
	w.notice = msg
	w.mu.Unlock()
}

// author must be called with w.mu held.
func (w *Widget) author() string {
	if w.identity.Name != "" {
		return w.identity.Name
	}
	return models.AnonymousAuthor
}

// find must be called with w.mu held.
func (w *Widget) find(id string) *models.CommentView {
	for i := range w.comments {
		if w.comments[i].ID == id {
			return &w.comments[i]
		}
		for j := range w.comments[i].Replies {
			if w.comments[i].Replies[j].ID == id {
				return &w.comments[i].Replies[j]
			}
		}
	}
	return nil
}

func (w *Widget) markOffline(err error) {
	if errors.Is(err, ErrUnreachable) {
		w.online.Store(false)
	}
}

func noticeFor(err error, fallback string) string {
	var apiErr *APIError
	switch {
	case IsOffline(err):
		return "The comment service is unavailable right now. Please try again later."
	case errors.As(err, &apiErr) && apiErr.Status < 500:
		return apiErr.Message
	}
	return fallback
}

// TimeAgo formats t relative to now the way the thread shows timestamps.
func TimeAgo(t, now time.Time) string {
	minutes := int(now.Sub(t).Minutes())
	switch {
	case minutes < 1:
		return "Just now"
	case minutes < 60:
		return fmt.Sprintf("%dm ago", minutes)
	case minutes < 24*60:
		return fmt.Sprintf("%dh ago", minutes/60)
	}
	return fmt.Sprintf("%dd ago", minutes/(24*60))
}
