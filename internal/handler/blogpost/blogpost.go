// Package blogpost auto-publishes blog posts at their scheduled time.
package blogpost

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"schedd/internal/handler"
	"schedd/internal/storage"
	logx "schedd/pkg/logx"
)

const Type = "blog_post"

var ErrPostNotFound = errors.New("blog post not found")

// Posts is the subject store for this handler.
type Posts interface {
	GetPost(ctx context.Context, id int64) (storage.Post, error)
	PublishPost(ctx context.Context, id int64, at time.Time) (storage.Post, error)
}

type Handler struct {
	handler.Base

	posts Posts
	now   func() time.Time
}

func New(posts Posts, now func() time.Time) *Handler {
	if now == nil {
		now = time.Now
	}
	return &Handler{posts: posts, now: now}
}

func (h *Handler) Type() string        { return Type }
func (h *Handler) Name() string        { return "Blog post" }
func (h *Handler) Description() string { return "Publishes a draft blog post when its event comes due." }
func (h *Handler) AutoProcess() bool   { return true }
func (h *Handler) Icon() string        { return "file-text" }
func (h *Handler) Color() string       { return "#2f855a" }

func (h *Handler) Init(ctx context.Context, deps handler.Deps) error {
	_ = ctx
	h.InitBase(deps, Type)
	if h.posts == nil {
		return errors.New("post store is required")
	}
	return nil
}

// ValidateHandlerData accepts an optional positive post_id.
func (h *Handler) ValidateHandlerData(data map[string]any) error {
	raw, ok := data["post_id"]
	if !ok {
		return nil
	}
	if _, err := postID(raw); err != nil {
		return fmt.Errorf("post_id: %w", err)
	}
	return nil
}

// ValidateSubject requires a usable entity_id when handler_data has no
// post_id, since the post is then resolved from the entity.
func (h *Handler) ValidateSubject(_, entityID string, data map[string]any) error {
	if _, ok := data["post_id"]; ok {
		return nil
	}
	if _, err := postID(entityID); err != nil {
		return fmt.Errorf("must be a post id when handler_data.post_id is absent: %w", err)
	}
	return nil
}

func (h *Handler) ProcessScheduled(ctx context.Context, eventID int64) (bool, error) {
	id, err := h.target(ctx, eventID)
	if err != nil {
		return false, err
	}
	post, err := h.posts.GetPost(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("%w: %d", ErrPostNotFound, id)
	}
	if err != nil {
		return false, err
	}
	if post.Published {
		h.Log.Debug("post already published", logx.Int64("post", id), logx.Int64("event", eventID))
		return true, nil
	}
	if _, err := h.posts.PublishPost(ctx, id, h.now().UTC()); err != nil {
		return false, err
	}
	h.Log.Info("post published", logx.Int64("post", id), logx.Int64("event", eventID))
	return true, nil
}

func (h *Handler) OnProcessError(ctx context.Context, eventID int64, cause error) error {
	_ = ctx
	h.Log.Warn("publish attempt failed", logx.Int64("event", eventID), logx.Err(cause))
	return nil
}

// EventData projects the post behind the event.
func (h *Handler) EventData(ctx context.Context, eventID int64) (map[string]any, error) {
	id, err := h.target(ctx, eventID)
	if err != nil {
		return nil, err
	}
	post, err := h.posts.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"post_id":   post.ID,
		"title":     post.Title,
		"published": post.Published,
	}
	if post.PublishedAt != nil {
		out["published_at"] = post.PublishedAt.UTC().Format(time.RFC3339)
	}
	return out, nil
}

// target resolves the post id from handler_data.post_id, else entity_id.
func (h *Handler) target(ctx context.Context, eventID int64) (int64, error) {
	ev, err := h.Event(ctx, eventID)
	if err != nil {
		return 0, err
	}
	if raw, ok := ev.HandlerData["post_id"]; ok {
		return postID(raw)
	}
	return postID(ev.EntityID)
}

func postID(v any) (int64, error) {
	var id int64
	switch t := v.(type) {
	case float64:
		if t != float64(int64(t)) {
			return 0, fmt.Errorf("not an integer: %v", t)
		}
		id = int64(t)
	case int:
		id = int64(t)
	case int64:
		id = t
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", t)
		}
		id = n
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
	if id <= 0 {
		return 0, errors.New("must be positive")
	}
	return id, nil
}
