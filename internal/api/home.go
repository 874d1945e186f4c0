package api

import (
	"context"
	"net/http"
	"net/url"
)

// HomeSection is one editable block of the public home page.
type HomeSection struct {
	ID       string `json:"id,omitempty"`
	Kind     string `json:"kind"`
	Title    string `json:"title"`
	Body     string `json:"body,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
	Order    int    `json:"order"`
	Visible  bool   `json:"visible"`
}

type HomeContent struct {
	Sections []HomeSection `json:"sections"`
}

func (c *Client) GetHome(ctx context.Context) (*HomeContent, error) {
	var home HomeContent
	if err := c.doJSON(ctx, http.MethodGet, "/api/home", nil, nil, &home); err != nil {
		return nil, err
	}
	return &home, nil
}

func (c *Client) CreateHomeSection(ctx context.Context, s HomeSection) (*HomeSection, error) {
	var created HomeSection
	if err := c.doJSON(ctx, http.MethodPost, "/api/home/sections", nil, s, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateHomeSection(ctx context.Context, s HomeSection) (*HomeSection, error) {
	var updated HomeSection
	if err := c.doJSON(ctx, http.MethodPut, "/api/home/sections/"+url.PathEscape(s.ID), nil, s, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *Client) DeleteHomeSection(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/home/sections/"+url.PathEscape(id), nil, nil, nil)
}
