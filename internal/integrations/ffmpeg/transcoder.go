package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"media-relay/internal/integrations/command"
)

const (
	defaultBinary  = "ffmpeg"
	defaultBitrate = "192k"
)

// Transcoder converts media files with the ffmpeg CLI.
type Transcoder struct {
	binary  string
	bitrate string
	runner  command.Runner
}

// NewTranscoder returns a Transcoder. An empty binary means "ffmpeg" from PATH.
func NewTranscoder(binary, bitrate string, runner command.Runner) *Transcoder {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = defaultBinary
	}
	bitrate = strings.TrimSpace(bitrate)
	if bitrate == "" {
		bitrate = defaultBitrate
	}
	if runner == nil {
		runner = command.ExecRunner{}
	}
	return &Transcoder{binary: binary, bitrate: bitrate, runner: runner}
}

// ToMP3 extracts the audio track of src into an mp3 file at dest, overwriting dest.
func (t *Transcoder) ToMP3(ctx context.Context, src, dest string) error {
	if strings.TrimSpace(src) == "" || strings.TrimSpace(dest) == "" {
		return errors.New("ffmpeg: source and destination are required")
	}
	if src == dest {
		return errors.New("ffmpeg: source and destination must differ")
	}
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("ffmpeg: stat source: %w", err)
	}

	if _, err := t.runner.Run(ctx, t.binary,
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", src,
		"-vn",
		"-acodec", "libmp3lame",
		"-b:a", t.bitrate,
		dest,
	); err != nil {
		return fmt.Errorf("ffmpeg: transcode: %w", err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return fmt.Errorf("ffmpeg: output missing: %w", err)
	}
	if info.Size() == 0 {
		return errors.New("ffmpeg: output is empty")
	}
	return nil
}
