// Package chatmsg canonicalizes chat messages and estimates token budgets
// before a request reaches a provider (spec component C3).
package chatmsg

import (
	"strings"

	"github.com/nova-runtime/llmcore/internal/faults"
)

// Role identifies the speaker of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a chat conversation.
type Message struct {
	Role    Role
	Content string
}

// ChatTemplate describes how a model expects its prompt assembled.
// Format "jinja" is explicitly unsupported (spec §4.6).
type ChatTemplate struct {
	Format string
}

// ModelSpec identifies a model and its capability envelope (data model §3).
// ID is case-insensitive; callers should use NormalizeID for lookups.
type ModelSpec struct {
	ID             string
	Provider       string
	HFRepo         string
	Tier           int
	SizeBytes      int64
	ContextWindow  int
	ChatTemplate   *ChatTemplate
	AcceptsSystem  bool // whether the backend accepts a system-role message directly
}

// NormalizeID lowercases a model id for case-insensitive lookup.
func NormalizeID(id string) string {
	return strings.ToLower(id)
}

// EstimateTokens approximates token count as ceil(len(chars)/4), the
// cheap heuristic spec §4.6 mandates in lieu of a real tokenizer (which
// is explicitly out of scope per §1's Non-goals).
func EstimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + 3) / 4
}

// Fits reports whether a prompt plus a generation budget fits within a
// model's context window.
func Fits(prompt string, maxTokens, contextWindow int) bool {
	return EstimateTokens(prompt)+maxTokens <= contextWindow
}

// ValidateTemplate rejects model specs declaring an unsupported chat
// template format.
func ValidateTemplate(spec ModelSpec) error {
	if spec.ChatTemplate != nil && spec.ChatTemplate.Format == "jinja" {
		return faults.New(faults.CodeTemplateFormatUnsupported,
			"jinja chat templates are not supported; provide a non-jinja template or a model that accepts a system role")
	}
	return nil
}

// Flatten canonicalizes messages for a backend that does not accept a
// system role: all system messages (in order, joined by "\n\n") are
// collapsed into a prefix of the first user message using the canonical
// [System]...[/System] wrapper. Idempotent: flattening an already-
// flattened message list is a no-op (spec §8's system-flatten round
// trip law).
//
// Returns ERROR_INVALID_INPUT_EMPTY_MESSAGES if messages is empty or
// contains no user message.
func Flatten(messages []Message) ([]Message, error) {
	if len(messages) == 0 {
		return nil, faults.New(faults.CodeInvalidInputEmptyMessages, "message list is empty")
	}

	var systemParts []string
	var rest []Message
	firstUserIdx := -1

	for _, m := range messages {
		if m.Role == RoleSystem {
			systemParts = append(systemParts, m.Content)
			continue
		}
		if m.Role == RoleUser && firstUserIdx == -1 {
			firstUserIdx = len(rest)
		}
		rest = append(rest, m)
	}

	if firstUserIdx == -1 {
		return nil, faults.New(faults.CodeInvalidInputEmptyMessages, "message list has no user message")
	}

	if len(systemParts) == 0 {
		return rest, nil
	}

	joined := strings.Join(systemParts, "\n\n")
	prefix := "[System]\n" + joined + "\n[/System]\n\n"
	rest[firstUserIdx].Content = prefix + rest[firstUserIdx].Content

	return rest, nil
}

// NeedsFlatten reports whether messages contains any system-role entry,
// i.e. whether Flatten would change anything. A backend that
// AcceptsSystem should skip flattening entirely.
func NeedsFlatten(messages []Message) bool {
	for _, m := range messages {
		if m.Role == RoleSystem {
			return true
		}
	}
	return false
}

// PrepareForProvider applies Flatten only when the target model does not
// accept a system role, otherwise returns messages unchanged. This is
// the entry point the orchestrator calls before every generate.
func PrepareForProvider(messages []Message, spec ModelSpec) ([]Message, error) {
	if len(messages) == 0 {
		return nil, faults.New(faults.CodeInvalidInputEmptyMessages, "message list is empty")
	}
	if spec.AcceptsSystem || !NeedsFlatten(messages) {
		hasUser := false
		for _, m := range messages {
			if m.Role == RoleUser {
				hasUser = true
				break
			}
		}
		if !hasUser {
			return nil, faults.New(faults.CodeInvalidInputEmptyMessages, "message list has no user message")
		}
		return messages, nil
	}
	return Flatten(messages)
}
