package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"media-relay/internal/domain"
)

type fakeExtractor struct {
	meta        domain.MediaMetadata
	metaErr     error
	downloadErr error
	downloaded  string
}

func (e *fakeExtractor) Metadata(_ context.Context, _ string) (domain.MediaMetadata, error) {
	return e.meta, e.metaErr
}

func (e *fakeExtractor) Download(_ context.Context, _ string, dest string) error {
	e.downloaded = dest
	if err := os.WriteFile(dest, []byte("container"), 0o644); err != nil {
		return err
	}
	return e.downloadErr
}

type fakeTranscoder struct {
	err     error
	partial bool
	src     string
	dest    string
}

func (tc *fakeTranscoder) ToMP3(_ context.Context, src, dest string) error {
	tc.src, tc.dest = src, dest
	if tc.err != nil {
		if tc.partial {
			_ = os.WriteFile(dest, []byte("half"), 0o644)
		}
		return tc.err
	}
	return os.WriteFile(dest, []byte("audio"), 0o644)
}

type fakeBroker struct {
	creds domain.Credentials
	err   error
	calls int
}

func (b *fakeBroker) AssumeRole(_ context.Context) (domain.Credentials, error) {
	b.calls++
	return b.creds, b.err
}

type fakeStorage struct {
	uploadErr     error
	presignErr    error
	uploadedKey   string
	uploadedBytes []byte
	expiry        time.Duration
	creds         domain.Credentials
}

func (s *fakeStorage) Upload(_ context.Context, creds domain.Credentials, key, path string) error {
	s.creds = creds
	s.uploadedKey = key
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	s.uploadedBytes = b
	return s.uploadErr
}

func (s *fakeStorage) PresignGet(_ context.Context, _ domain.Credentials, key string, expiry time.Duration) (string, error) {
	s.expiry = expiry
	if s.presignErr != nil {
		return "", s.presignErr
	}
	return "https://bucket.s3.amazonaws.com/" + key + "?X-Amz-Signature=sig", nil
}

type fakeShortener struct {
	link string
	err  error
}

func (s *fakeShortener) Shorten(_ context.Context, _ string) (string, error) {
	return s.link, s.err
}

type pipelineFixture struct {
	pipeline   *Pipeline
	extractor  *fakeExtractor
	transcoder *fakeTranscoder
	broker     *fakeBroker
	storage    *fakeStorage
	messenger  *fakeMessenger
	workDir    string
}

func newPipelineFixture(t *testing.T, opts ...PipelineOption) pipelineFixture {
	t.Helper()
	f := pipelineFixture{
		extractor:  &fakeExtractor{meta: domain.MediaMetadata{ID: "abc", Title: "Lo-fi Beats: Vol. 2!"}},
		transcoder: &fakeTranscoder{},
		broker: &fakeBroker{creds: domain.Credentials{
			AccessKeyID: "AKIA", SecretAccessKey: "secret", SessionToken: "token",
			Expires: time.Now().Add(2 * time.Hour),
		}},
		storage:   &fakeStorage{},
		messenger: &fakeMessenger{},
		workDir:   t.TempDir(),
	}
	opts = append([]PipelineOption{WithPipelineLogger(discardLogger())}, opts...)
	p, err := NewPipeline(f.extractor, f.transcoder, f.broker, f.storage, f.messenger, PipelineConfig{
		WorkDir:    f.workDir,
		LinkExpiry: 30 * time.Minute,
		Timeouts:   StageTimeouts{Metadata: time.Second, Download: time.Second, Transcode: time.Second, Upload: time.Second, Notify: time.Second},
	}, opts...)
	require.NoError(t, err)
	f.pipeline = p
	return f
}

func audioJob() domain.Job {
	return domain.Job{ID: "job-1", Sender: "+1555", URL: "https://www.youtube.com/watch?v=abc", Format: domain.FormatAudio}
}

func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestNewPipeline_ValidatesDependencies(t *testing.T) {
	e, tr, b, s, m := &fakeExtractor{}, &fakeTranscoder{}, &fakeBroker{}, &fakeStorage{}, &fakeMessenger{}
	_, err := NewPipeline(nil, tr, b, s, m, PipelineConfig{})
	require.Error(t, err)
	_, err = NewPipeline(e, nil, b, s, m, PipelineConfig{})
	require.Error(t, err)
	_, err = NewPipeline(e, tr, nil, s, m, PipelineConfig{})
	require.Error(t, err)
	_, err = NewPipeline(e, tr, b, nil, m, PipelineConfig{})
	require.Error(t, err)
	_, err = NewPipeline(e, tr, b, s, nil, PipelineConfig{})
	require.Error(t, err)

	p, err := NewPipeline(e, tr, b, s, m, PipelineConfig{})
	require.NoError(t, err)
	require.Equal(t, defaultLinkExpiry, p.cfg.LinkExpiry)
	require.NotEmpty(t, p.cfg.WorkDir)
}

func TestProcess_AudioHappyPath(t *testing.T) {
	f := newPipelineFixture(t)

	require.NoError(t, f.pipeline.Process(context.Background(), audioJob()))

	require.Equal(t, filepath.Join(f.workDir, "job-1", "Lofi Beats Vol 2.mp4"), f.extractor.downloaded)
	require.Equal(t, f.extractor.downloaded, f.transcoder.src)
	require.Equal(t, "job-1/Lofi Beats Vol 2.mp3", f.storage.uploadedKey)
	require.Equal(t, []byte("audio"), f.storage.uploadedBytes)
	require.Equal(t, "AKIA", f.storage.creds.AccessKeyID)
	require.Equal(t, 30*time.Minute, f.storage.expiry)

	bodies := f.messenger.bodiesTo("+1555")
	require.Len(t, bodies, 1)
	require.Contains(t, bodies[0], "Lofi Beats Vol 2.mp3?X-Amz-Signature")
	requireEmptyDir(t, f.workDir)
}

func TestProcess_SameTitleDifferentJobsGetDistinctKeys(t *testing.T) {
	f := newPipelineFixture(t)

	jobA := audioJob()
	jobA.ID = "job-a"
	require.NoError(t, f.pipeline.Process(context.Background(), jobA))
	keyA := f.storage.uploadedKey

	f.extractor.meta.Title = "Lo-fi Beats Vol 2"
	jobB := audioJob()
	jobB.ID = "job-b"
	jobB.Sender = "+1666"
	require.NoError(t, f.pipeline.Process(context.Background(), jobB))
	keyB := f.storage.uploadedKey

	require.Equal(t, "job-a/Lofi Beats Vol 2.mp3", keyA)
	require.Equal(t, "job-b/Lofi Beats Vol 2.mp3", keyB)
	require.NotEqual(t, keyA, keyB)
	require.Contains(t, f.messenger.bodiesTo("+1555")[0], "job-a/")
	require.Contains(t, f.messenger.bodiesTo("+1666")[0], "job-b/")
}

func TestProcess_VideoSkipsTranscode(t *testing.T) {
	f := newPipelineFixture(t)
	job := audioJob()
	job.Format = domain.FormatVideo

	require.NoError(t, f.pipeline.Process(context.Background(), job))

	require.Empty(t, f.transcoder.src)
	require.Equal(t, "job-1/Lofi Beats Vol 2.mp4", f.storage.uploadedKey)
	require.Equal(t, []byte("container"), f.storage.uploadedBytes)
	requireEmptyDir(t, f.workDir)
}

func TestProcess_TranscodeFailureCleansUp(t *testing.T) {
	f := newPipelineFixture(t)
	f.transcoder.err = errors.New("ffmpeg exited 1")
	f.transcoder.partial = true

	err := f.pipeline.Process(context.Background(), audioJob())
	expectUsecaseError(t, err, ErrorUpstream, "transcode_error")

	require.Equal(t, []string{msgFailure}, f.messenger.bodiesTo("+1555"))
	require.Zero(t, f.broker.calls)
	require.Empty(t, f.storage.uploadedKey)

	_, statErr := os.Stat(f.extractor.downloaded)
	require.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(f.transcoder.dest)
	require.True(t, os.IsNotExist(statErr))
	requireEmptyDir(t, f.workDir)
}

func TestProcess_StageFailures(t *testing.T) {
	cases := []struct {
		name   string
		setup  func(f pipelineFixture)
		code   ErrorCode
		reason string
	}{
		{"metadata", func(f pipelineFixture) { f.extractor.metaErr = errors.New("private video") }, ErrorUpstream, "metadata_error"},
		{"download", func(f pipelineFixture) { f.extractor.downloadErr = errors.New("403") }, ErrorUpstream, "download_error"},
		{"credentials", func(f pipelineFixture) { f.broker.err = errors.New("AccessDenied") }, ErrorUpstream, "credential_error"},
		{"upload", func(f pipelineFixture) { f.storage.uploadErr = errors.New("NoSuchBucket") }, ErrorUpstream, "upload_error"},
		{"sign", func(f pipelineFixture) { f.storage.presignErr = errors.New("bad creds") }, ErrorUpstream, "sign_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newPipelineFixture(t)
			tc.setup(f)

			err := f.pipeline.Process(context.Background(), audioJob())
			expectUsecaseError(t, err, tc.code, tc.reason)
			require.Equal(t, []string{msgFailure}, f.messenger.bodiesTo("+1555"))
			requireEmptyDir(t, f.workDir)
		})
	}
}

func TestProcess_RejectsMalformedJob(t *testing.T) {
	f := newPipelineFixture(t)

	job := audioJob()
	job.URL = "https://vimeo.com/1"
	expectUsecaseError(t, f.pipeline.Process(context.Background(), job), ErrorInvalidInput, "unsupported_url")

	job = audioJob()
	job.Format = "flac"
	expectUsecaseError(t, f.pipeline.Process(context.Background(), job), ErrorInvalidInput, "unknown_format")

	require.Equal(t, []string{msgFailure, msgFailure}, f.messenger.bodiesTo("+1555"))
}

func TestProcess_EmptyTitleFallsBackToJobID(t *testing.T) {
	f := newPipelineFixture(t)
	f.extractor.meta.Title = "???"

	require.NoError(t, f.pipeline.Process(context.Background(), audioJob()))
	require.Equal(t, "job-1/job-1.mp3", f.storage.uploadedKey)
}

func TestProcess_ShortenerUsedWhenConfigured(t *testing.T) {
	f := newPipelineFixture(t, WithShortener(&fakeShortener{link: "https://bit.ly/xyz"}))

	require.NoError(t, f.pipeline.Process(context.Background(), audioJob()))
	require.Equal(t, []string{"https://bit.ly/xyz"}, f.messenger.bodiesTo("+1555"))
}

func TestProcess_ShortenerFailureSendsSignedLink(t *testing.T) {
	f := newPipelineFixture(t, WithShortener(&fakeShortener{err: errors.New("rate limited")}))

	require.NoError(t, f.pipeline.Process(context.Background(), audioJob()))
	bodies := f.messenger.bodiesTo("+1555")
	require.Len(t, bodies, 1)
	require.Contains(t, bodies[0], "X-Amz-Signature")
}

func TestProcess_LinkDeliveryFailure(t *testing.T) {
	f := newPipelineFixture(t)
	f.messenger.err = errors.New("twilio down")

	err := f.pipeline.Process(context.Background(), audioJob())
	expectUsecaseError(t, err, ErrorUpstream, "notify_error")
	require.Len(t, f.messenger.bodiesTo("+1555"), 1)
	requireEmptyDir(t, f.workDir)
}

func TestSanitizeTitle(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Lo-fi Beats: Vol. 2!", "Lofi Beats Vol 2"},
		{"  spaced\tout\n title ", "spaced out title"},
		{"../../etc/passwd", "etcpasswd"},
		{"Café déjà vu", "Café déjà vu"},
		{"snake_case_title", "snake_case_title"},
		{"!!!", ""},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			require.Equal(t, tc.want, SanitizeTitle(tc.in))
		})
	}

	long := SanitizeTitle(strings.Repeat("ab ", 100))
	require.LessOrEqual(t, len([]rune(long)), maxTitleRunes)
	require.NotEqual(t, ' ', []rune(long)[len([]rune(long))-1])
}

func TestArtifactsCleanupReverseOrderAndMissingPaths(t *testing.T) {
	dir := t.TempDir()
	var a artifacts
	sub := a.track(filepath.Join(dir, "job"))
	require.NoError(t, os.MkdirAll(sub, 0o755))
	file := a.track(filepath.Join(sub, "out.mp4"))
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	a.track(filepath.Join(sub, "never-created.mp3"))

	a.cleanup(discardLogger())

	requireEmptyDir(t, dir)
	require.Empty(t, a.paths)
}
