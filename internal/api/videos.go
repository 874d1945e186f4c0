package api

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/dustin/go-humanize"
)

type Video struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	CourseID        string    `json:"courseId,omitempty"`
	Status          string    `json:"status"`
	DurationSeconds int       `json:"durationSeconds,omitempty"`
	ThumbnailURL    string    `json:"thumbnailUrl,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// VideoUpload describes a file to upload. Size is only used for logging and
// may be zero when unknown.
type VideoUpload struct {
	Title       string
	Description string
	CourseID    string
	FileName    string
	File        io.Reader
	Size        int64
}

type VideoUpdate struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	CourseID    string `json:"courseId,omitempty"`
}

func (c *Client) ListVideos(ctx context.Context, req PageRequest) (*Page[Video], error) {
	var page Page[Video]
	if err := c.doJSON(ctx, http.MethodGet, "/api/videos", req.values(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) GetVideo(ctx context.Context, id string) (*Video, error) {
	var v Video
	if err := c.doJSON(ctx, http.MethodGet, "/api/videos/"+url.PathEscape(id), nil, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// UploadVideo streams the file as multipart/form-data without buffering it.
// Processing continues server-side and is reported on the video channel.
func (c *Client) UploadVideo(ctx context.Context, up VideoUpload) (*Video, error) {
	if up.File == nil {
		return nil, fmt.Errorf("upload video: no file")
	}
	if up.Title == "" {
		return nil, fmt.Errorf("upload video: title is required")
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeVideoForm(mw, up))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/videos", nil), pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	size := "unknown size"
	if up.Size > 0 {
		size = humanize.Bytes(uint64(up.Size))
	}
	c.logger.Info("uploading video", "title", up.Title, "file", up.FileName, "size", size)

	var v Video
	if err := c.do(req, &v); err != nil {
		pr.Close()
		return nil, err
	}
	return &v, nil
}

func writeVideoForm(mw *multipart.Writer, up VideoUpload) error {
	fields := [][2]string{
		{"title", up.Title},
		{"description", up.Description},
		{"courseId", up.CourseID},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	name := up.FileName
	if name == "" {
		name = "video.mp4"
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, up.File); err != nil {
		return err
	}
	return mw.Close()
}

func (c *Client) UpdateVideo(ctx context.Context, id string, upd VideoUpdate) (*Video, error) {
	var v Video
	if err := c.doJSON(ctx, http.MethodPut, "/api/videos/"+url.PathEscape(id), nil, upd, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) DeleteVideo(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/videos/"+url.PathEscape(id), nil, nil, nil)
}
