package parley

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Conversation is the ordered, append-only turn log, restored from and
// mirrored to the state store. Turns are appended only by the orchestrator;
// the single permitted in-place mutation is enhancement resolution, keyed by
// message id.
type Conversation struct {
	store  StateStore
	logger *slog.Logger

	mu    sync.Mutex
	turns []Turn
}

// NewConversation creates a conversation, restoring any persisted turns. A
// nil store keeps the log in memory only.
func NewConversation(store StateStore, logger *slog.Logger) *Conversation {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Conversation{store: store, logger: logger}
	c.restore()
	return c
}

func (c *Conversation) restore() {
	if c.store == nil {
		return
	}
	payloads, err := c.store.LoadTurns()
	if err != nil {
		c.logger.Warn("conversation not restored", "error", err)
		return
	}
	for i, p := range payloads {
		var t Turn
		if err := json.Unmarshal([]byte(p), &t); err != nil {
			c.logger.Warn("skipping unreadable turn", "position", i, "error", err)
			continue
		}
		c.turns = append(c.turns, t)
	}
}

// Turns returns a copy of the log in order.
func (c *Conversation) Turns() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len returns the number of turns.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

// History returns up to n trailing turns trimmed to role and content, the
// shape sent as query context.
func (c *Conversation) History(n int) []HistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := len(c.turns) - n
	if start < 0 {
		start = 0
	}
	out := make([]HistoryEntry, 0, len(c.turns)-start)
	for _, t := range c.turns[start:] {
		out = append(out, HistoryEntry{Role: t.Role, Content: t.Content})
	}
	return out
}

func (c *Conversation) append(t Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, t)
	c.persistLocked()
}

// applyEnhancement replaces the content and card payload of the turn carrying
// messageID and marks it enhanced. No other turn is touched and ordering is
// preserved. Reports whether the turn was found.
func (c *Conversation) applyEnhancement(messageID string, result *QueryResponse) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.turns {
		if c.turns[i].MessageID != messageID {
			continue
		}
		c.turns[i].Content = result.Response
		c.turns[i].Structured = result.structured()
		c.turns[i].Enhanced = true
		c.turns[i].EnhancementPending = false
		c.persistLocked()
		return true
	}
	return false
}

// clearPending drops the pending flag of the turn carrying messageID, leaving
// its content as the answer of record.
func (c *Conversation) clearPending(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.turns {
		if c.turns[i].MessageID == messageID {
			c.turns[i].EnhancementPending = false
			c.persistLocked()
			return
		}
	}
}

// Clear empties the log and its persisted copy. It does not touch the
// backend session; callers resetting a running assistant should use
// Orchestrator.ClearConversation, which also invalidates the session so the
// next exchange starts from a fresh one.
func (c *Conversation) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = nil
	if c.store == nil {
		return nil
	}
	return c.store.ClearTurns()
}

func (c *Conversation) persistLocked() {
	if c.store == nil {
		return
	}
	payloads := make([]string, len(c.turns))
	for i, t := range c.turns {
		b, err := json.Marshal(t)
		if err != nil {
			c.logger.Warn("turn not serialized", "position", i, "error", err)
			return
		}
		payloads[i] = string(b)
	}
	if err := c.store.SaveTurns(payloads); err != nil {
		c.logger.Warn("conversation not persisted", "error", err)
	}
}
