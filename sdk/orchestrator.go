package parley

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/parley-go/parley-lite/pkg/core/audio"
)

// OrchestratorState is the request pipeline's current phase. Only one request
// may be in flight at a time.
type OrchestratorState int

const (
	StateIdle OrchestratorState = iota
	StateTranscribing
	StateQuerying
	StateSynthesizing
	StateError
)

func (s OrchestratorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTranscribing:
		return "transcribing"
	case StateQuerying:
		return "querying"
	case StateSynthesizing:
		return "synthesizing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

const (
	// historyWindow is the number of trailing turns sent as query context.
	historyWindow = 10

	fallbackReply = "Sorry, I ran into a problem answering that. Please try again."

	// consultationPhrase in a reply opens the contact affordance even when
	// the backend did not tag the response explicitly.
	consultationPhrase = "book a consultation"
)

// Notifications are the orchestrator's side-channel signals to the embedding
// UI. All fields are optional and invoked synchronously from the goroutine
// driving the request.
type Notifications struct {
	// OnStateChange reports every pipeline phase transition.
	OnStateChange func(from, to OrchestratorState)
	// OnConsultation fires when a reply asks the user to book a
	// consultation. It is a notification, not a state transition.
	OnConsultation func()
}

// Orchestrator drives the backend exchange for both typed text and captured
// utterances: transcribe, query, optionally synthesize and play, and start
// the background enhancement poll. It is the only writer of the conversation.
type Orchestrator struct {
	client   *Client
	sessions *SessionManager
	conv     *Conversation
	speaker  audio.Speaker
	userID   string
	logger   *slog.Logger
	notify   Notifications

	backoff func() retry.Backoff

	mu    sync.Mutex
	state OrchestratorState

	enhancements sync.WaitGroup
}

// OrchestratorConfig carries the optional collaborators of an Orchestrator.
type OrchestratorConfig struct {
	// Speaker plays synthesized replies. Nil disables spoken output.
	Speaker audio.Speaker
	// UserID is the stable per-install identifier sent with every query.
	UserID string
	Logger *slog.Logger
	Notify Notifications
}

// NewOrchestrator wires the request pipeline.
func NewOrchestrator(client *Client, sessions *SessionManager, conv *Conversation, cfg OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		client:   client,
		sessions: sessions,
		conv:     conv,
		speaker:  cfg.Speaker,
		userID:   cfg.UserID,
		logger:   logger,
		notify:   cfg.Notify,
		backoff:  newEnhancementBackoff,
	}
}

// SetOnStateChange installs (or replaces) the state-change notification.
// Call it before submitting the first request; it is not synchronized with
// in-flight work.
func (o *Orchestrator) SetOnStateChange(fn func(from, to OrchestratorState)) {
	o.notify.OnStateChange = fn
}

// State returns the current pipeline phase.
func (o *Orchestrator) State() OrchestratorState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Conversation returns the turn log the orchestrator writes to.
func (o *Orchestrator) Conversation() *Conversation {
	return o.conv
}

func (o *Orchestrator) setState(s OrchestratorState) {
	o.mu.Lock()
	from := o.state
	o.state = s
	o.mu.Unlock()
	if from != s && o.notify.OnStateChange != nil {
		o.notify.OnStateChange(from, s)
	}
}

// begin claims the pipeline for a new request or rejects it with ErrBusy.
func (o *Orchestrator) begin(s OrchestratorState) error {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return ErrBusy
	}
	o.state = s
	o.mu.Unlock()
	if o.notify.OnStateChange != nil {
		o.notify.OnStateChange(StateIdle, s)
	}
	return nil
}

// fail surfaces the error phase, then releases the pipeline so the user can
// retry the same action.
func (o *Orchestrator) fail(err error) error {
	o.setState(StateError)
	o.setState(StateIdle)
	return err
}

// SubmitText runs the text path: append the user turn, query, append the
// assistant turn. Returns ErrBusy while another request is in flight.
func (o *Orchestrator) SubmitText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("parley: empty submission")
	}
	if err := o.begin(StateQuerying); err != nil {
		return err
	}
	sessionID, err := o.sessions.EnsureSession(ctx)
	if err != nil {
		return o.fail(err)
	}
	return o.exchange(ctx, sessionID, text, false)
}

// SubmitUtterance runs the audio path: encode the captured samples, upload
// for transcription, then the shared query and spoken-reply flow. A failed or
// empty transcription aborts before any conversation mutation.
func (o *Orchestrator) SubmitUtterance(ctx context.Context, samples []float32, sampleRate int) error {
	if err := o.begin(StateTranscribing); err != nil {
		return err
	}
	wavData, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		return o.fail(fmt.Errorf("parley: encode utterance: %w", err))
	}
	sessionID, err := o.sessions.EnsureSession(ctx)
	if err != nil {
		return o.fail(err)
	}
	text, err := o.client.Transcribe(ctx, wavData, sessionID)
	if err != nil {
		o.logger.Warn("transcription failed", "error", err)
		return o.fail(fmt.Errorf("parley: transcribe: %w", err))
	}
	o.setState(StateQuerying)
	return o.exchange(ctx, sessionID, text, true)
}

// exchange is the downstream logic both entry points converge on. The user
// turn goes in first, then one query, then exactly one assistant turn.
func (o *Orchestrator) exchange(ctx context.Context, sessionID, text string, spoken bool) error {
	history := o.conv.History(historyWindow)
	o.conv.append(Turn{Role: RoleUser, Content: text})

	resp, err := o.client.Query(ctx, &QueryRequest{
		Text:                text,
		SessionID:           sessionID,
		ConversationHistory: history,
		UserID:              o.userID,
	})
	if err != nil {
		o.logger.Error("query failed", "error", err)
		o.conv.append(Turn{Role: RoleAssistant, Content: fallbackReply, IsError: true})
		if spoken {
			o.speak(ctx, sessionID, fallbackReply)
		}
		return o.fail(fmt.Errorf("parley: query: %w", err))
	}

	turn := Turn{Role: RoleAssistant, Content: resp.Response, Structured: resp.structured()}
	pending := resp.LLMEnhancement != nil &&
		resp.LLMEnhancement.Status == EnhancementPending &&
		resp.LLMEnhancement.TaskID != ""
	if pending {
		turn.MessageID = uuid.NewString()
		turn.EnhancementPending = true
	}
	o.conv.append(turn)

	if isConsultation(resp) && o.notify.OnConsultation != nil {
		o.notify.OnConsultation()
	}
	if pending {
		o.startEnhancement(resp.LLMEnhancement.TaskID, turn.MessageID)
	}
	if spoken && resp.Response != "" {
		o.speak(ctx, sessionID, resp.Response)
	}
	o.setState(StateIdle)
	return nil
}

// speak synthesizes text and plays it to completion. Failures are logged
// only: the text turn already answers the user.
func (o *Orchestrator) speak(ctx context.Context, sessionID, text string) {
	if o.speaker == nil {
		return
	}
	o.setState(StateSynthesizing)
	audioData, err := o.client.Synthesize(ctx, text, sessionID)
	if err != nil {
		o.logger.Warn("synthesis failed", "error", err)
		return
	}
	if err := o.speaker.Play(ctx, audioData); err != nil {
		o.logger.Warn("playback failed", "error", err)
	}
}

// startEnhancement launches the fire-and-forget poll for a pending
// enhancement task. The poller is bounded and self-terminating.
func (o *Orchestrator) startEnhancement(taskID, messageID string) {
	o.enhancements.Add(1)
	go func() {
		defer o.enhancements.Done()
		pollEnhancement(context.Background(), o.client, o.conv, taskID, messageID, o.backoff(), o.logger)
	}()
}

// WaitEnhancements blocks until all background enhancement polls have
// terminated. Intended for graceful shutdown.
func (o *Orchestrator) WaitEnhancements() {
	o.enhancements.Wait()
}

// ClearConversation empties the turn log and invalidates the session, so the
// next exchange starts a fresh backend conversation.
func (o *Orchestrator) ClearConversation() error {
	if err := o.conv.Clear(); err != nil {
		return err
	}
	return o.sessions.Clear()
}

func isConsultation(resp *QueryResponse) bool {
	if resp.ItemType == "consultation" {
		return true
	}
	return strings.Contains(strings.ToLower(resp.Response), consultationPhrase)
}
