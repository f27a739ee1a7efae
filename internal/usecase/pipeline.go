package usecase

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"media-relay/internal/domain"
)

const (
	defaultLinkExpiry = 30 * time.Minute
	maxTitleRunes     = 120
)

// Extractor reads metadata for and downloads a source video.
type Extractor interface {
	Metadata(ctx context.Context, url string) (domain.MediaMetadata, error)
	Download(ctx context.Context, url, dest string) error
}

// Transcoder converts a downloaded container into an audio file.
type Transcoder interface {
	ToMP3(ctx context.Context, src, dest string) error
}

// CredentialBroker issues short-lived storage credentials.
type CredentialBroker interface {
	AssumeRole(ctx context.Context) (domain.Credentials, error)
}

// Storage uploads artifacts and signs time-limited download links.
type Storage interface {
	Upload(ctx context.Context, creds domain.Credentials, key, path string) error
	PresignGet(ctx context.Context, creds domain.Credentials, key string, expiry time.Duration) (string, error)
}

// LinkShortener is an optional post-processing step on the signed link.
type LinkShortener interface {
	Shorten(ctx context.Context, longURL string) (string, error)
}

// StageTimeouts bounds each pipeline stage. Zero means no stage-level limit.
type StageTimeouts struct {
	Metadata  time.Duration
	Download  time.Duration
	Transcode time.Duration
	Upload    time.Duration
	Notify    time.Duration
}

type PipelineConfig struct {
	WorkDir    string
	LinkExpiry time.Duration
	Timeouts   StageTimeouts
}

// Pipeline fetches, converts, stores and delivers the media for one job.
type Pipeline struct {
	extractor  Extractor
	transcoder Transcoder
	broker     CredentialBroker
	storage    Storage
	messenger  Messenger
	shortener  LinkShortener
	cfg        PipelineConfig
	logger     *slog.Logger
}

type PipelineOption func(*Pipeline)

// WithShortener enables link shortening. Without it the signed link is sent as is.
func WithShortener(s LinkShortener) PipelineOption {
	return func(p *Pipeline) {
		p.shortener = s
	}
}

func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewPipeline(extractor Extractor, transcoder Transcoder, broker CredentialBroker, storage Storage, messenger Messenger, cfg PipelineConfig, opts ...PipelineOption) (*Pipeline, error) {
	if extractor == nil {
		return nil, errors.New("usecase: extractor must not be nil")
	}
	if transcoder == nil {
		return nil, errors.New("usecase: transcoder must not be nil")
	}
	if broker == nil {
		return nil, errors.New("usecase: credential broker must not be nil")
	}
	if storage == nil {
		return nil, errors.New("usecase: storage must not be nil")
	}
	if messenger == nil {
		return nil, errors.New("usecase: messenger must not be nil")
	}
	cfg.WorkDir = strings.TrimSpace(cfg.WorkDir)
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "media-relay")
	}
	if cfg.LinkExpiry <= 0 {
		cfg.LinkExpiry = defaultLinkExpiry
	}
	p := &Pipeline{
		extractor:  extractor,
		transcoder: transcoder,
		broker:     broker,
		storage:    storage,
		messenger:  messenger,
		cfg:        cfg,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Process runs every stage for job in order. On any stage failure the sender
// gets one generic failure message. Files created by the run are removed on
// every exit path.
func (p *Pipeline) Process(ctx context.Context, job domain.Job) error {
	logger := p.logger.With("job_id", job.ID, "sender", job.Sender, "format", string(job.Format))
	start := time.Now()

	var created artifacts
	defer created.cleanup(logger)

	link, err := p.produceLink(ctx, job, &created, logger)
	if err != nil {
		logger.Error("pipeline failed", "err", err)
		if notifyErr := p.notify(ctx, job.Sender, msgFailure); notifyErr != nil {
			logger.Error("failed to send failure notice", "err", notifyErr)
		}
		return err
	}

	if err := p.notify(ctx, job.Sender, link); err != nil {
		logger.Error("failed to deliver link", "err", err)
		return newError(ErrorUpstream, "notify_error", err)
	}
	logger.Info("pipeline completed", "duration", time.Since(start))
	return nil
}

func (p *Pipeline) produceLink(ctx context.Context, job domain.Job, created *artifacts, logger *slog.Logger) (string, error) {
	if !IsSupportedURL(job.URL) {
		return "", newError(ErrorInvalidInput, "unsupported_url", nil)
	}
	if job.Format.Token() == "" {
		return "", newError(ErrorInvalidInput, "unknown_format", nil)
	}

	stageCtx, cancel := withStageTimeout(ctx, p.cfg.Timeouts.Metadata)
	meta, err := p.extractor.Metadata(stageCtx, job.URL)
	cancel()
	if err != nil {
		return "", newError(ErrorUpstream, "metadata_error", err)
	}
	title := SanitizeTitle(meta.Title)
	if title == "" {
		title = job.ID
	}
	logger.Debug("metadata fetched", "title", title, "duration_seconds", meta.Duration)

	jobDir := created.track(filepath.Join(p.cfg.WorkDir, job.ID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return "", newError(ErrorInternal, "workdir_error", err)
	}

	container := created.track(filepath.Join(jobDir, title+domain.FormatVideo.Extension()))
	stageCtx, cancel = withStageTimeout(ctx, p.cfg.Timeouts.Download)
	err = p.extractor.Download(stageCtx, job.URL, container)
	cancel()
	if err != nil {
		return "", newError(ErrorUpstream, "download_error", err)
	}

	final := container
	if job.Format.NeedsTranscode() {
		final = created.track(filepath.Join(jobDir, title+job.Format.Extension()))
		stageCtx, cancel = withStageTimeout(ctx, p.cfg.Timeouts.Transcode)
		err = p.transcoder.ToMP3(stageCtx, container, final)
		cancel()
		if err != nil {
			return "", newError(ErrorUpstream, "transcode_error", err)
		}
	}

	stageCtx, cancel = withStageTimeout(ctx, p.cfg.Timeouts.Upload)
	defer cancel()
	creds, err := p.broker.AssumeRole(stageCtx)
	if err != nil {
		return "", newError(ErrorUpstream, "credential_error", err)
	}
	if !creds.Expires.IsZero() && creds.Expires.Before(time.Now().Add(p.cfg.LinkExpiry)) {
		logger.Warn("credentials expire before the signed link", "credentials_expire", creds.Expires, "link_expiry", p.cfg.LinkExpiry)
	}

	key := objectKey(job.ID, final)
	if err := p.storage.Upload(stageCtx, creds, key, final); err != nil {
		return "", newError(ErrorUpstream, "upload_error", err)
	}
	link, err := p.storage.PresignGet(stageCtx, creds, key, p.cfg.LinkExpiry)
	if err != nil {
		return "", newError(ErrorUpstream, "sign_error", err)
	}
	logger.Info("artifact uploaded", "key", key)

	if p.shortener != nil {
		short, err := p.shortener.Shorten(stageCtx, link)
		if err != nil {
			logger.Warn("link shortening failed, sending signed link", "err", err)
		} else if short != "" {
			link = short
		}
	}
	return link, nil
}

func (p *Pipeline) notify(ctx context.Context, to, body string) error {
	stageCtx, cancel := withStageTimeout(ctx, p.cfg.Timeouts.Notify)
	defer cancel()
	return p.messenger.Send(stageCtx, to, body)
}

// objectKey scopes the uploaded file under the job ID so two jobs with the same
// sanitized title never share an object.
func objectKey(jobID, file string) string {
	return jobID + "/" + filepath.Base(file)
}

func withStageTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

var (
	titleDisallowed = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	titleSpaces     = regexp.MustCompile(`\s+`)
)

// SanitizeTitle keeps letters, digits, underscores and spaces so the title is
// safe as a file name and object key.
func SanitizeTitle(title string) string {
	t := titleDisallowed.ReplaceAllString(title, "")
	t = strings.TrimSpace(titleSpaces.ReplaceAllString(t, " "))
	if r := []rune(t); len(r) > maxTitleRunes {
		t = strings.TrimSpace(string(r[:maxTitleRunes]))
	}
	return t
}

// artifacts lists the paths a run may have created. A path is tracked before
// the stage that writes it so a stage failing halfway leaves nothing behind.
type artifacts struct {
	paths []string
}

func (a *artifacts) track(path string) string {
	a.paths = append(a.paths, path)
	return path
}

func (a *artifacts) cleanup(logger *slog.Logger) {
	for i := len(a.paths) - 1; i >= 0; i-- {
		if err := os.RemoveAll(a.paths[i]); err != nil {
			logger.Warn("failed to remove artifact", "path", a.paths[i], "err", err)
		}
	}
	a.paths = nil
}
