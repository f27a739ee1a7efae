package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"media-relay/internal/domain"
	"media-relay/internal/repository"
)

// Messenger delivers a text reply to a sender.
type Messenger interface {
	Send(ctx context.Context, to, body string) error
}

// Dispatcher hands a job to whatever runs the pipeline. Dispatch must not
// block on the pipeline itself unless the dispatcher runs jobs inline.
type Dispatcher interface {
	Dispatch(ctx context.Context, job domain.Job) error
}

// ConversationService drives the two-step submit-URL / choose-format exchange
// for each sender.
type ConversationService struct {
	store      repository.ConversationStore
	messenger  Messenger
	dispatcher Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

func NewConversationService(store repository.ConversationStore, messenger Messenger, dispatcher Dispatcher, logger *slog.Logger) (*ConversationService, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if messenger == nil {
		return nil, errors.New("usecase: messenger must not be nil")
	}
	if dispatcher == nil {
		return nil, errors.New("usecase: dispatcher must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationService{
		store:      store,
		messenger:  messenger,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// HandleMessage advances the sender's conversation by one inbound message.
// Returned errors are for logging; rejected input is answered with a reply
// and is not an error.
func (s *ConversationService) HandleMessage(ctx context.Context, msg domain.InboundMessage) error {
	sender := strings.TrimSpace(msg.From)
	if sender == "" {
		return newError(ErrorInvalidInput, "missing_sender", nil)
	}
	text := strings.TrimSpace(msg.Body)

	state, ok, err := s.store.Get(ctx, sender)
	if err != nil {
		return newError(ErrorInternal, "state_read_error", err)
	}
	if ok && state.AwaitingFormat {
		return s.handleFormat(ctx, state, text)
	}
	return s.handleURL(ctx, sender, text)
}

func (s *ConversationService) handleURL(ctx context.Context, sender, text string) error {
	if !IsSupportedURL(text) {
		s.logger.Debug("rejected unsupported url", "sender", sender)
		return s.reply(ctx, sender, msgInvalidURL)
	}
	if err := s.store.Put(ctx, domain.NewPendingConversation(sender, text)); err != nil {
		return newError(ErrorInternal, "state_write_error", err)
	}
	return s.reply(ctx, sender, msgFormatPrompt)
}

func (s *ConversationService) handleFormat(ctx context.Context, state domain.ConversationState, text string) error {
	format, ok := domain.ParseFormat(text)
	if !ok {
		s.logger.Debug("rejected unknown format token", "sender", state.Sender)
		return s.reply(ctx, state.Sender, msgInvalidFormat)
	}
	state.SelectFormat(format)

	job := domain.Job{
		ID:          newJobID(),
		Sender:      state.Sender,
		URL:         state.SubmittedURL,
		Format:      state.SelectedFormat,
		RequestedAt: s.now().UTC(),
	}

	var errs []error
	if err := s.reply(ctx, state.Sender, msgReceived); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.Delete(ctx, state.Sender); err != nil {
		errs = append(errs, newError(ErrorInternal, "state_delete_error", err))
	}
	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		s.logger.Error("dispatch failed", "job_id", job.ID, "sender", job.Sender, "err", err)
		if replyErr := s.reply(ctx, state.Sender, msgFailure); replyErr != nil {
			errs = append(errs, replyErr)
		}
		errs = append(errs, newError(ErrorInternal, "dispatch_error", err))
	} else {
		s.logger.Info("job dispatched", "job_id", job.ID, "sender", job.Sender, "format", string(job.Format))
	}
	return errors.Join(errs...)
}

func (s *ConversationService) reply(ctx context.Context, to, body string) error {
	if err := s.messenger.Send(ctx, to, body); err != nil {
		return newError(ErrorUpstream, "notify_error", err)
	}
	return nil
}

var newJobID = func() string {
	return uuid.NewString()
}
