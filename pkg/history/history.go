// Package history keeps the ordered conversation log that is replayed into
// every model query.
package history

import (
	"sync"

	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Entry is an immutable record of one utterance.
type Entry struct {
	Role Role   `json:"role" yaml:"role"`
	Text string `json:"text" yaml:"text"`
}

// Bound limits how much history is kept. Zero values disable a limit.
type Bound struct {
	// MaxEntries keeps a sliding window of the most recent entries.
	MaxEntries int
	// MaxTokens caps the summed token count of all entry texts.
	MaxTokens int
	// Encoding is the tokenizer used for MaxTokens, cl100k_base by default.
	Encoding tokenizer.Encoding
}

// History is append-only during a session. Eviction removes the oldest
// user/model pair first so the replayed sequence still opens with a user entry.
type History struct {
	bound Bound
	codec tokenizer.Codec

	mu      sync.RWMutex
	entries []Entry
	tokens  []int
}

type Option func(*History) error

func WithBound(b Bound) Option {
	return func(h *History) error {
		h.bound = b
		if b.MaxTokens <= 0 {
			return nil
		}
		enc := b.Encoding
		if enc == "" {
			enc = tokenizer.Cl100kBase
		}
		codec, err := tokenizer.Get(enc)
		if err != nil {
			return errors.Wrapf(err, "failed to load tokenizer %s", enc)
		}
		h.codec = codec
		return nil
	}
}

func New(options ...Option) (*History, error) {
	h := &History{}
	for _, o := range options {
		if err := o(h); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *History) Append(role Role, text string) {
	tokens := h.countTokens(text)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, Entry{Role: role, Text: text})
	h.tokens = append(h.tokens, tokens)
	h.evictLocked()
}

// Snapshot returns a copy of the entries in insertion order. The copy is not
// affected by later appends.
func (h *History) Snapshot() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.entries) == 0 {
		return []Entry{}
	}
	return clone.Clone(h.entries).([]Entry)
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// RetractPending removes a trailing user entry that never got a model reply.
// It reports whether an entry was removed.
func (h *History) RetractPending() (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.entries)
	if n == 0 || h.entries[n-1].Role != RoleUser {
		return Entry{}, false
	}
	last := h.entries[n-1]
	h.entries = h.entries[:n-1]
	h.tokens = h.tokens[:n-1]
	return last, true
}

// Clear drops every entry; used at session teardown.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
	h.tokens = nil
}

func (h *History) countTokens(text string) int {
	if h.codec == nil {
		return 0
	}
	ids, _, err := h.codec.Encode(text)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to count tokens, estimating from length")
		return len(text) / 4
	}
	return len(ids)
}

func (h *History) evictLocked() {
	for len(h.entries) > 1 && h.overLocked() {
		drop := 1
		if h.entries[0].Role == RoleUser && len(h.entries) > 2 && h.entries[1].Role == RoleModel {
			drop = 2
		}
		if drop >= len(h.entries) {
			return
		}
		log.Debug().Int("dropped", drop).Int("remaining", len(h.entries)-drop).Msg("Evicting oldest history entries")
		h.entries = append([]Entry(nil), h.entries[drop:]...)
		h.tokens = append([]int(nil), h.tokens[drop:]...)
	}
}

func (h *History) overLocked() bool {
	if h.bound.MaxEntries > 0 && len(h.entries) > h.bound.MaxEntries {
		return true
	}
	if h.bound.MaxTokens > 0 {
		total := 0
		for _, t := range h.tokens {
			total += t
		}
		if total > h.bound.MaxTokens {
			return true
		}
	}
	return false
}
