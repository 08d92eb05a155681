// Command discuss is a terminal front-end for the page comment thread.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"community/pkg/client"
	"community/pkg/models"
)

const usage = `commands:
  list                  reload and show the thread
  post <text>           post a comment
  reply <n> <text>      reply to comment number n
  like <n>[.m]          toggle like on comment n or its reply m
  delete <n>[.m]        delete comment n or its reply m
  stats                 show comment counts
  signin <name>         comment under a display name
  signout               comment anonymously
  help                  show this help
  quit                  exit`

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warnf("[discuss] failed to load .env file: %v", err)
	}

	defaultURL := os.Getenv("COMMUNITY_API_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8088"
	}

	var (
		apiURL   string
		page     string
		logLevel string
		probe    time.Duration
	)
	flag.StringVar(&apiURL, "api", defaultURL, "Comment API base URL.")
	flag.StringVar(&page, "page", "general", "Page context to discuss, e.g. news-123.")
	flag.StringVar(&logLevel, "log", "warn", "Log level: debug, info, warn, error.")
	flag.DurationVar(&probe, "probe", 30*time.Second, "Connectivity probe interval.")
	flag.Parse()

	if lvl, err := log.ParseLevel(logLevel); err == nil {
		log.SetLevel(lvl)
	}

	ids, err := client.NewFileStore()
	if err != nil {
		log.Fatalf("[discuss] %v", err)
	}
	w, err := client.NewWidget(client.New(apiURL), ids, page)
	if err != nil {
		log.Fatalf("[discuss] %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go w.WatchConnectivity(ctx, probe)

	t := &terminal{w: w, out: os.Stdout, now: time.Now}
	t.refresh(ctx)
	t.run(ctx, os.Stdin)
}

type terminal struct {
	w   *client.Widget
	out io.Writer
	now func() time.Time
}

func (t *terminal) run(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		t.prompt()
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !t.exec(ctx, line) {
				return
			}
		}
	}
}

// exec runs one command line and reports whether to keep going.
func (t *terminal) exec(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	// A notice seen after this point belongs to this command.
	t.w.DismissNotice()

	var err error
	switch cmd {
	case "":
		return true
	case "quit", "exit":
		return false
	case "help":
		fmt.Fprintln(t.out, usage)
		return true
	case "list":
		t.refresh(ctx)
		return true
	case "post":
		t.w.SetDraft(arg)
		err = t.w.SubmitComment(ctx)
	case "reply":
		n, text, _ := strings.Cut(arg, " ")
		var id string
		if id, err = t.resolve(n); err == nil {
			t.w.StartReply(id)
			t.w.SetReplyDraft(text)
			err = t.w.SubmitReply(ctx)
		}
	case "like":
		var id string
		if id, err = t.resolve(arg); err == nil {
			err = t.w.ToggleLike(ctx, id)
		}
	case "delete":
		var id string
		if id, err = t.resolve(arg); err == nil {
			err = t.w.Delete(ctx, id)
		}
	case "stats":
		var s models.Stats
		if s, err = t.w.Stats(ctx); err == nil {
			fmt.Fprintf(t.out, "%d comments, %d replies\n", s.TotalComments, s.TotalReplies)
			return true
		}
	case "signin":
		err = t.w.SignIn(arg)
	case "signout":
		err = t.w.SignOut()
	default:
		fmt.Fprintf(t.out, "unknown command %q, type help\n", cmd)
		return true
	}

	if err != nil {
		t.fail(err)
		return true
	}
	t.render()
	return true
}

// resolve maps "n" or "n.m" as shown by render to a comment id.
func (t *terminal) resolve(ref string) (string, error) {
	list := t.w.Comments()

	top, sub, isReply := strings.Cut(ref, ".")
	i, err := strconv.Atoi(top)
	if err != nil || i < 1 || i > len(list) {
		return "", fmt.Errorf("no comment %q", ref)
	}
	if !isReply {
		return list[i-1].ID, nil
	}

	replies := list[i-1].Replies
	j, err := strconv.Atoi(sub)
	if err != nil || j < 1 || j > len(replies) {
		return "", fmt.Errorf("no reply %q", ref)
	}
	return replies[j-1].ID, nil
}

func (t *terminal) refresh(ctx context.Context) {
	if err := t.w.Load(ctx); err != nil {
		t.fail(err)
		return
	}
	t.render()
}

func (t *terminal) render() {
	list := t.w.Comments()
	now := t.now()

	fmt.Fprintf(t.out, "\n== %s (%d comments) ==\n", t.w.PageContext(), len(list))
	if len(list) == 0 {
		fmt.Fprintln(t.out, "No comments yet. Be the first to share your thoughts!")
	}
	for i, c := range list {
		fmt.Fprintf(t.out, "[%d] %s · %s%s\n    %s\n", i+1, c.Author, client.TimeAgo(c.Timestamp, now), likes(c), c.Content)
		for j, r := range c.Replies {
			fmt.Fprintf(t.out, "    [%d.%d] %s · %s%s\n        %s\n", i+1, j+1, r.Author, client.TimeAgo(r.Timestamp, now), likes(r), r.Content)
		}
	}
}

func (t *terminal) prompt() {
	id := t.w.Identity()
	who := "anonymous"
	if id.Named() {
		who = id.Name
	}
	status := ""
	if !t.w.Online() {
		status = " offline"
	}
	fmt.Fprintf(t.out, "%s%s> ", who, status)
}

// fail prints the widget notice for err, or err itself when the widget did
// not set one.
func (t *terminal) fail(err error) {
	msg := t.w.Notice()
	if msg == "" {
		msg = err.Error()
	}
	fmt.Fprintf(t.out, "! %s\n", msg)
}

func likes(c models.CommentView) string {
	switch {
	case c.IsLiked:
		return fmt.Sprintf(" · ♥ %d", c.Likes)
	case c.Likes > 0:
		return fmt.Sprintf(" · ♡ %d", c.Likes)
	}
	return ""
}
