package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	awssts "github.com/aws/aws-sdk-go-v2/service/sts"

	"media-relay/handler"
	"media-relay/internal/config"
	"media-relay/internal/integrations/bitly"
	"media-relay/internal/integrations/command"
	"media-relay/internal/integrations/credentials"
	"media-relay/internal/integrations/ffmpeg"
	"media-relay/internal/integrations/paramstore"
	"media-relay/internal/integrations/s3store"
	"media-relay/internal/integrations/twilio"
	"media-relay/internal/integrations/ytdlp"
	"media-relay/internal/repository"
	"media-relay/internal/usecase"
	"media-relay/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := config.LoadEnvFile(".env"); err != nil {
		fail("failed to load .env file", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fail("failed to load configuration", err)
	}

	ctx := context.Background()

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		fail("failed to load AWS config", err)
	}

	// ---- Clients ----
	var params *paramstore.Client
	if cfg.AWS.ParamPrefix != "" {
		params, err = paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			fail("failed to create SSM client", err)
		}
	}

	messenger, err := newMessenger(cfg, params)
	if err != nil {
		fail("failed to create Twilio client", err)
	}

	pipeline, err := newPipeline(cfg, awsCfg, params, messenger, logger)
	if err != nil {
		fail("failed to create pipeline", err)
	}

	store, err := newStore(cfg, awsCfg)
	if err != nil {
		fail("failed to create conversation store", err)
	}

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		runLambda(cfg, awsCfg, store, messenger, pipeline, logger)
		return
	}
	runServer(cfg, store, messenger, pipeline, logger)
}

func runLambda(cfg *config.Config, awsCfg aws.Config, store repository.ConversationStore, messenger usecase.Messenger, pipeline *usecase.Pipeline, logger *slog.Logger) {
	if err := cfg.ValidateForLambda(); err != nil {
		fail("invalid lambda configuration", err)
	}
	queue, err := worker.NewAsyncInvoker(awslambda.NewFromConfig(awsCfg), cfg.Lambda.JobFunction, logger)
	if err != nil {
		fail("failed to create job queue", err)
	}
	runner, err := worker.NewInline(pipeline.Process, logger)
	if err != nil {
		fail("failed to create job runner", err)
	}
	conversations, err := usecase.NewConversationService(store, messenger, queue, logger)
	if err != nil {
		fail("failed to create conversation service", err)
	}
	h, err := handler.NewHandler(conversations, handler.WithLogger(logger))
	if err != nil {
		fail("failed to create handler", err)
	}
	invocation, err := handler.NewInvocation(h, runner)
	if err != nil {
		fail("failed to create invocation handler", err)
	}

	lambda.Start(invocation.Handle)
}

func runServer(cfg *config.Config, store repository.ConversationStore, messenger usecase.Messenger, pipeline *usecase.Pipeline, logger *slog.Logger) {
	pool, err := worker.NewPool(worker.Config{
		Workers:    cfg.Worker.Count,
		QueueSize:  cfg.Worker.QueueSize,
		JobTimeout: cfg.Worker.JobTimeout,
	}, pipeline.Process, logger)
	if err != nil {
		fail("failed to create worker pool", err)
	}
	pool.Start()

	conversations, err := usecase.NewConversationService(store, messenger, pool, logger)
	if err != nil {
		fail("failed to create conversation service", err)
	}
	h, err := handler.NewHandler(conversations, handler.WithLogger(logger), handler.WithPendingJobs(pool.Pending))
	if err != nil {
		fail("failed to create handler", err)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.NewRouter(h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fail("server error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "err", err)
	}
	if err := pool.Stop(cfg.Server.ShutdownTimeout); err != nil {
		logger.Error("worker pool shutdown error", "err", err, "pending", pool.Pending())
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("store close error", "err", err)
		}
	}

	logger.Info("server stopped")
}

func newMessenger(cfg *config.Config, params *paramstore.Client) (*twilio.Client, error) {
	opts := []twilio.Option{twilio.WithBaseURL(cfg.Twilio.BaseURL)}
	if cfg.Twilio.AuthToken != "" {
		opts = append(opts, twilio.WithAuthToken(cfg.Twilio.AuthToken))
	} else if params != nil {
		opts = append(opts, twilio.WithParamStoreToken(params, paramstore.ParamName(cfg.AWS.ParamPrefix, "twilio-auth-token")))
	}
	return twilio.NewClient(cfg.Twilio.AccountSID, cfg.Twilio.WhatsAppNumber, opts...)
}

func newPipeline(cfg *config.Config, awsCfg aws.Config, params *paramstore.Client, messenger usecase.Messenger, logger *slog.Logger) (*usecase.Pipeline, error) {
	runner := command.ExecRunner{}
	extractor := ytdlp.New(cfg.Media.YtDlpPath, ytdlp.WithRunner(runner))
	transcoder := ffmpeg.NewTranscoder(cfg.Media.FFmpegPath, cfg.Media.AudioBitrate, runner)

	broker, err := credentials.NewBroker(awssts.NewFromConfig(awsCfg), cfg.AWS.RoleARN, cfg.AWS.RoleSessionName, cfg.AWS.RoleSessionDuration)
	if err != nil {
		return nil, err
	}
	storage, err := s3store.New(awsCfg, cfg.AWS.BucketName)
	if err != nil {
		return nil, err
	}

	opts := []usecase.PipelineOption{usecase.WithPipelineLogger(logger)}
	if cfg.Bitly.Enabled {
		shortener, err := newShortener(cfg, params)
		if err != nil {
			return nil, err
		}
		opts = append(opts, usecase.WithShortener(shortener))
	}

	return usecase.NewPipeline(extractor, transcoder, broker, storage, messenger, usecase.PipelineConfig{
		WorkDir:    cfg.Media.WorkDir,
		LinkExpiry: cfg.AWS.LinkExpiry,
		Timeouts: usecase.StageTimeouts{
			Metadata:  cfg.Media.MetadataTimeout,
			Download:  cfg.Media.DownloadTimeout,
			Transcode: cfg.Media.TranscodeTimeout,
			Upload:    cfg.Media.UploadTimeout,
			Notify:    cfg.Media.NotifyTimeout,
		},
	}, opts...)
}

func newShortener(cfg *config.Config, params *paramstore.Client) (*bitly.Client, error) {
	opts := []bitly.Option{bitly.WithBaseURL(cfg.Bitly.BaseURL)}
	if cfg.Bitly.APIKey != "" {
		opts = append(opts, bitly.WithAPIKey(cfg.Bitly.APIKey))
	} else if params != nil {
		opts = append(opts, bitly.WithParamStoreToken(params, paramstore.ParamName(cfg.AWS.ParamPrefix, "bitly-token")))
	}
	return bitly.NewClient(opts...)
}

func newStore(cfg *config.Config, awsCfg aws.Config) (repository.ConversationStore, error) {
	if cfg.State.Table == "" {
		return repository.NewMemoryStore(), nil
	}
	return repository.NewDynamoStore(awsdynamodb.NewFromConfig(awsCfg), cfg.State.Table, cfg.State.TTL)
}

func fail(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
