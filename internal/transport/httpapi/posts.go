package httpapi

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"schedd/internal/model"
	"schedd/internal/storage"
)

func (a *api) listPosts(c *fiber.Ctx) error {
	out, err := a.Posts.ListPosts(c.UserContext())
	if err != nil {
		return err
	}
	if out == nil {
		out = []storage.Post{}
	}
	return ok(c, out)
}

func (a *api) createPost(c *fiber.Ctx) error {
	var in struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if err := decode(c, &in); err != nil {
		return err
	}
	if strings.TrimSpace(in.Title) == "" {
		var verr model.ValidationError
		verr.Add("title", "is required")
		return verr.Err()
	}
	now := a.Now().UTC()
	p, err := a.Posts.CreatePost(c.UserContext(), storage.Post{
		Title:     strings.TrimSpace(in.Title),
		Body:      in.Body,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return err
	}
	return created(c, p)
}

func (a *api) getPost(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	p, err := a.Posts.GetPost(c.UserContext(), id)
	if err != nil {
		return err
	}
	return ok(c, p)
}
