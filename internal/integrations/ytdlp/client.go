package ytdlp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"media-relay/internal/domain"
	"media-relay/internal/integrations/command"
)

const (
	defaultBinary = "yt-dlp"
	// Best video plus best audio, falling back to the best single file.
	defaultFormatSelector = "bv*+ba/b"
)

// videoInfo is the subset of the --dump-single-json output the relay reads.
type videoInfo struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Uploader string  `json:"uploader"`
	Channel  string  `json:"channel"`
	Duration float64 `json:"duration"`
}

// Client wraps the yt-dlp CLI.
type Client struct {
	binary   string
	runner   command.Runner
	selector string
}

type Option func(*Client)

func WithRunner(r command.Runner) Option {
	return func(c *Client) {
		if r != nil {
			c.runner = r
		}
	}
}

func WithFormatSelector(selector string) Option {
	return func(c *Client) {
		if s := strings.TrimSpace(selector); s != "" {
			c.selector = s
		}
	}
}

// New returns a Client running binary, or "yt-dlp" from PATH when empty.
func New(binary string, opts ...Option) *Client {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = defaultBinary
	}
	c := &Client{
		binary:   binary,
		runner:   command.ExecRunner{},
		selector: defaultFormatSelector,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Metadata reads the video's metadata without downloading it.
func (c *Client) Metadata(ctx context.Context, url string) (domain.MediaMetadata, error) {
	if strings.TrimSpace(url) == "" {
		return domain.MediaMetadata{}, errors.New("ytdlp: url is required")
	}
	out, err := c.runner.Run(ctx, c.binary,
		"--dump-single-json",
		"--no-download",
		"--no-warnings",
		"--no-playlist",
		"--", url,
	)
	if err != nil {
		return domain.MediaMetadata{}, fmt.Errorf("ytdlp: metadata: %w", err)
	}

	var info videoInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return domain.MediaMetadata{}, fmt.Errorf("ytdlp: decode metadata: %w", err)
	}
	uploader := info.Uploader
	if uploader == "" {
		uploader = info.Channel
	}
	return domain.MediaMetadata{
		ID:       info.ID,
		Title:    info.Title,
		Uploader: uploader,
		Duration: info.Duration,
	}, nil
}

// Download saves the video with audio merged into an mp4 container at dest.
func (c *Client) Download(ctx context.Context, url, dest string) error {
	if strings.TrimSpace(url) == "" {
		return errors.New("ytdlp: url is required")
	}
	if strings.TrimSpace(dest) == "" {
		return errors.New("ytdlp: destination is required")
	}
	if _, err := c.runner.Run(ctx, c.binary,
		"-f", c.selector,
		"--merge-output-format", "mp4",
		"--no-playlist",
		"--no-progress",
		"--no-warnings",
		"-o", dest,
		"--", url,
	); err != nil {
		return fmt.Errorf("ytdlp: download: %w", err)
	}
	if _, err := os.Stat(dest); err != nil {
		return fmt.Errorf("ytdlp: downloaded file missing: %w", err)
	}
	return nil
}
