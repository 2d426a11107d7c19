package parley

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeBackend is a scriptable HTTP stand-in for the inference backend.
type fakeBackend struct {
	t *testing.T

	sessionCalls atomic.Int64
	queryCalls   atomic.Int64

	mu         sync.Mutex
	lastQuery  QueryRequest
	transcript string
	queryResp  QueryResponse

	transcribeStatus  int
	queryStatus       int
	synthesizeStatus  int
	enhancementResult *EnhancementResult
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	t.Helper()
	b := &fakeBackend{t: t, transcript: "hello"}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
	})
	mux.HandleFunc("/session/create", func(w http.ResponseWriter, r *http.Request) {
		b.sessionCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"session_id": "sess-1"})
	})
	mux.HandleFunc("/transcribe", func(w http.ResponseWriter, r *http.Request) {
		if b.transcribeStatus != 0 {
			w.WriteHeader(b.transcribeStatus)
			return
		}
		b.mu.Lock()
		text := b.transcript
		b.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"transcription": text})
	})
	mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
		b.queryCalls.Add(1)
		var req QueryRequest
		json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		b.lastQuery = req
		resp := b.queryResp
		b.mu.Unlock()
		if b.queryStatus != 0 {
			w.WriteHeader(b.queryStatus)
			return
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/synthesize", func(w http.ResponseWriter, r *http.Request) {
		if b.synthesizeStatus != 0 {
			w.WriteHeader(b.synthesizeStatus)
			return
		}
		w.Write([]byte("audio-bytes"))
	})
	mux.HandleFunc("/enhancement/", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		res := b.enhancementResult
		b.mu.Unlock()
		if res == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(res)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return b, srv
}

// fakeSpeaker records every payload it was asked to play.
type fakeSpeaker struct {
	mu      sync.Mutex
	played  [][]byte
	playErr error
}

func (s *fakeSpeaker) Play(ctx context.Context, wavData []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playErr != nil {
		return s.playErr
	}
	s.played = append(s.played, wavData)
	return nil
}

func (s *fakeSpeaker) playedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.played)
}

func newTestOrchestrator(t *testing.T, srv *httptest.Server, cfg OrchestratorConfig) *Orchestrator {
	t.Helper()
	client := NewClient(srv.URL, WithLogger(testLogger()))
	sessions := NewSessionManager(client, &memStore{}, testLogger())
	conv := NewConversation(&memStore{}, testLogger())
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	if cfg.UserID == "" {
		cfg.UserID = "user-1"
	}
	o := NewOrchestrator(client, sessions, conv, cfg)
	o.backoff = fastBackoff
	return o
}

func TestSubmitTextAppendsBothTurns(t *testing.T) {
	backend, srv := newFakeBackend(t)
	backend.queryResp = QueryResponse{Response: "a chess engine and a compiler"}
	o := newTestOrchestrator(t, srv, OrchestratorConfig{})

	err := o.SubmitText(context.Background(), "What projects have you built?")
	if err != nil {
		t.Fatalf("SubmitText: %v", err)
	}

	if got := backend.queryCalls.Load(); got != 1 {
		t.Fatalf("query calls = %d, want 1", got)
	}
	backend.mu.Lock()
	q := backend.lastQuery
	backend.mu.Unlock()
	if q.Text != "What projects have you built?" {
		t.Fatalf("query text = %q", q.Text)
	}
	if q.SessionID != "sess-1" {
		t.Fatalf("query session = %q", q.SessionID)
	}
	if q.UserID != "user-1" {
		t.Fatalf("query user = %q", q.UserID)
	}

	turns := o.Conversation().Turns()
	if len(turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(turns))
	}
	if turns[0].Role != RoleUser || turns[1].Role != RoleAssistant {
		t.Fatalf("turn order = %s, %s", turns[0].Role, turns[1].Role)
	}
	if turns[1].Content != "a chess engine and a compiler" {
		t.Fatalf("assistant content = %q", turns[1].Content)
	}
	if o.State() != StateIdle {
		t.Fatalf("state = %s, want idle", o.State())
	}
}

func TestSubmitTextRejectsWhileBusy(t *testing.T) {
	_, srv := newFakeBackend(t)
	o := newTestOrchestrator(t, srv, OrchestratorConfig{})
	o.state = StateQuerying

	err := o.SubmitText(context.Background(), "hello")
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	if o.Conversation().Len() != 0 {
		t.Fatal("busy submission mutated the conversation")
	}
}

func TestSubmitTextQueryFailure(t *testing.T) {
	backend, srv := newFakeBackend(t)
	backend.queryStatus = http.StatusInternalServerError
	o := newTestOrchestrator(t, srv, OrchestratorConfig{})

	err := o.SubmitText(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected query error")
	}

	turns := o.Conversation().Turns()
	if len(turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(turns))
	}
	if turns[0].Role != RoleUser {
		t.Fatalf("first turn role = %s", turns[0].Role)
	}
	if !turns[1].IsError || turns[1].Role != RoleAssistant {
		t.Fatalf("fallback turn = %+v", turns[1])
	}
	if o.State() != StateIdle {
		t.Fatalf("state = %s, want idle after failure", o.State())
	}
}

func TestSubmitUtteranceFlow(t *testing.T) {
	backend, srv := newFakeBackend(t)
	backend.transcript = "what is this site"
	backend.queryResp = QueryResponse{Response: "my portfolio"}
	speaker := &fakeSpeaker{}

	var states []OrchestratorState
	o := newTestOrchestrator(t, srv, OrchestratorConfig{
		Speaker: speaker,
		Notify: Notifications{
			OnStateChange: func(from, to OrchestratorState) { states = append(states, to) },
		},
	})

	samples := make([]float32, 1600)
	if err := o.SubmitUtterance(context.Background(), samples, 16000); err != nil {
		t.Fatalf("SubmitUtterance: %v", err)
	}

	turns := o.Conversation().Turns()
	if len(turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(turns))
	}
	if turns[0].Content != "what is this site" {
		t.Fatalf("user turn = %q", turns[0].Content)
	}
	if speaker.playedCount() != 1 {
		t.Fatalf("played = %d, want 1", speaker.playedCount())
	}

	want := []OrchestratorState{StateTranscribing, StateQuerying, StateSynthesizing, StateIdle}
	if len(states) != len(want) {
		t.Fatalf("state sequence = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("state sequence = %v, want %v", states, want)
		}
	}
}

func TestSubmitUtteranceTranscriptionFailure(t *testing.T) {
	backend, srv := newFakeBackend(t)
	backend.transcribeStatus = http.StatusInternalServerError
	o := newTestOrchestrator(t, srv, OrchestratorConfig{})

	err := o.SubmitUtterance(context.Background(), make([]float32, 1600), 16000)
	if err == nil {
		t.Fatal("expected transcription error")
	}
	if o.Conversation().Len() != 0 {
		t.Fatal("failed transcription mutated the conversation")
	}
	if backend.queryCalls.Load() != 0 {
		t.Fatal("query issued despite failed transcription")
	}
	if o.State() != StateIdle {
		t.Fatalf("state = %s, want idle", o.State())
	}
}

func TestSubmitUtteranceEmptyBuffer(t *testing.T) {
	_, srv := newFakeBackend(t)
	o := newTestOrchestrator(t, srv, OrchestratorConfig{})

	if err := o.SubmitUtterance(context.Background(), nil, 16000); err == nil {
		t.Fatal("expected error for empty buffer")
	}
	if o.Conversation().Len() != 0 {
		t.Fatal("conversation mutated")
	}
}

func TestSubmitUtteranceSynthesisFailureNonFatal(t *testing.T) {
	backend, srv := newFakeBackend(t)
	backend.queryResp = QueryResponse{Response: "answer"}
	backend.synthesizeStatus = http.StatusInternalServerError
	speaker := &fakeSpeaker{}
	o := newTestOrchestrator(t, srv, OrchestratorConfig{Speaker: speaker})

	if err := o.SubmitUtterance(context.Background(), make([]float32, 1600), 16000); err != nil {
		t.Fatalf("SubmitUtterance: %v", err)
	}
	if speaker.playedCount() != 0 {
		t.Fatal("audio played despite synthesis failure")
	}
	turns := o.Conversation().Turns()
	if len(turns) != 2 || turns[1].Content != "answer" {
		t.Fatalf("turns = %+v", turns)
	}
}

func TestMessageIDOnlyWithPendingEnhancement(t *testing.T) {
	backend, srv := newFakeBackend(t)
	backend.queryResp = QueryResponse{Response: "plain"}
	o := newTestOrchestrator(t, srv, OrchestratorConfig{})

	if err := o.SubmitText(context.Background(), "q1"); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	plain := o.Conversation().Turns()[1]
	if plain.MessageID != "" || plain.EnhancementPending {
		t.Fatalf("plain turn = %+v", plain)
	}

	backend.mu.Lock()
	backend.queryResp = QueryResponse{
		Response:       "fast",
		LLMEnhancement: &LLMEnhancement{Status: EnhancementPending, TaskID: "t1"},
	}
	backend.enhancementResult = &EnhancementResult{
		Status: EnhancementCompleted,
		Result: &QueryResponse{Response: "better"},
	}
	backend.mu.Unlock()

	if err := o.SubmitText(context.Background(), "q2"); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	pending := o.Conversation().Turns()[3]
	if pending.MessageID == "" {
		t.Fatal("pending turn has no message id")
	}

	o.WaitEnhancements()
	enhanced := o.Conversation().Turns()[3]
	if enhanced.Content != "better" || !enhanced.Enhanced || enhanced.EnhancementPending {
		t.Fatalf("enhanced turn = %+v", enhanced)
	}
}

func TestConsultationTrigger(t *testing.T) {
	cases := []struct {
		name string
		resp QueryResponse
		want bool
	}{
		{"item type tag", QueryResponse{Response: "sure", ItemType: "consultation"}, true},
		{"phrase match", QueryResponse{Response: "You can Book a Consultation with me."}, true},
		{"plain reply", QueryResponse{Response: "here are my projects"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			backend, srv := newFakeBackend(t)
			backend.queryResp = tc.resp
			fired := false
			o := newTestOrchestrator(t, srv, OrchestratorConfig{
				Notify: Notifications{OnConsultation: func() { fired = true }},
			})
			if err := o.SubmitText(context.Background(), "hello"); err != nil {
				t.Fatalf("SubmitText: %v", err)
			}
			if fired != tc.want {
				t.Fatalf("consultation fired = %v, want %v", fired, tc.want)
			}
		})
	}
}

func TestClearConversationResetsSession(t *testing.T) {
	backend, srv := newFakeBackend(t)
	backend.queryResp = QueryResponse{Response: "a"}
	o := newTestOrchestrator(t, srv, OrchestratorConfig{})

	if err := o.SubmitText(context.Background(), "q"); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	if err := o.ClearConversation(); err != nil {
		t.Fatalf("ClearConversation: %v", err)
	}
	if o.Conversation().Len() != 0 {
		t.Fatal("turns not cleared")
	}
	if err := o.SubmitText(context.Background(), "q2"); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	if got := backend.sessionCalls.Load(); got != 2 {
		t.Fatalf("session creations = %d, want 2", got)
	}
}
