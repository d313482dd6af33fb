// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSystemNotFirst is returned when a system message would land anywhere but position 0.
	ErrSystemNotFirst = errors.New("system message must be the first message")

	// ErrAssistantWithoutModel is returned when an assistant message has no model id.
	ErrAssistantWithoutModel = errors.New("assistant message requires a model id")
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is the ordered message log of one session.
//
// Insertion order is chronological order and is sent to providers as-is.
// A system message, if any, always sits at position 0 and is the only one.
// Conversation is not safe for concurrent use; the engine serializes access
// per session.
type Conversation struct {
	messages  []Message
	updatedAt time.Time
}

// NewConversation creates an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{messages: make([]Message, 0, 8)}
}

// FromMessages rebuilds a conversation from a persisted message list,
// checking the system-message and model attribution invariants.
func FromMessages(msgs []Message) (*Conversation, error) {
	for i, m := range msgs {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("message %d: invalid role %q", i, m.Role)
		}
		if m.Role == RoleSystem && i != 0 {
			return nil, fmt.Errorf("message %d: %w", i, ErrSystemNotFirst)
		}
		if m.Role == RoleAssistant && m.ModelID == "" {
			return nil, fmt.Errorf("message %d: %w", i, ErrAssistantWithoutModel)
		}
	}
	c := &Conversation{messages: make([]Message, len(msgs))}
	copy(c.messages, msgs)
	if n := len(msgs); n > 0 {
		c.updatedAt = msgs[n-1].Timestamp
	}
	return c, nil
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// SeedSystem places a system message at position 0. Only valid on an empty conversation.
func (c *Conversation) SeedSystem(content string) (Message, error) {
	if len(c.messages) != 0 {
		return Message{}, ErrSystemNotFirst
	}
	msg := NewSystemMessage(content)
	c.append(msg)
	return msg, nil
}

// AppendUser appends a user message.
func (c *Conversation) AppendUser(content string) Message {
	msg := NewUserMessage(content)
	c.append(msg)
	return msg
}

// AppendAssistant appends an assistant message attributed to modelID.
func (c *Conversation) AppendAssistant(content, modelID string) (Message, error) {
	if modelID == "" {
		return Message{}, ErrAssistantWithoutModel
	}
	msg := NewAssistantMessage(content, modelID)
	c.append(msg)
	return msg, nil
}

func (c *Conversation) append(msg Message) {
	c.messages = append(c.messages, msg)
	c.updatedAt = msg.Timestamp
}

// Clear empties the conversation, including any system message.
func (c *Conversation) Clear() {
	c.messages = make([]Message, 0, 8)
	c.updatedAt = time.Time{}
}

// =============================================================================
// QUERIES
// =============================================================================

// Messages returns a copy of the message log.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// IsEmpty returns true if the conversation has no messages.
func (c *Conversation) IsEmpty() bool {
	return len(c.messages) == 0
}

// HasSystem reports whether position 0 holds a system message.
func (c *Conversation) HasSystem() bool {
	return len(c.messages) > 0 && c.messages[0].Role == RoleSystem
}

// AssistantCount returns how many assistant messages the log holds.
func (c *Conversation) AssistantCount() int {
	n := 0
	for _, m := range c.messages {
		if m.Role == RoleAssistant {
			n++
		}
	}
	return n
}

// LastAssistant returns the most recent assistant message.
func (c *Conversation) LastAssistant() (Message, bool) {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == RoleAssistant {
			return c.messages[i], true
		}
	}
	return Message{}, false
}

// UpdatedAt returns the timestamp of the latest append.
func (c *Conversation) UpdatedAt() time.Time {
	return c.updatedAt
}

// Outgoing returns the provider-bound message list.
//
// When systemOverride is non-empty it replaces the stored system text for
// this call only, or is prepended if the log has no system message. The log
// itself is never modified.
func (c *Conversation) Outgoing(systemOverride string) []Message {
	out := c.Messages()
	if systemOverride == "" {
		return out
	}
	if len(out) > 0 && out[0].Role == RoleSystem {
		out[0].Content = systemOverride
		return out
	}
	return append([]Message{{Role: RoleSystem, Content: systemOverride}}, out...)
}

// Clone creates a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	clone := &Conversation{
		messages:  make([]Message, len(c.messages), len(c.messages)+2),
		updatedAt: c.updatedAt,
	}
	copy(clone.messages, c.messages)
	return clone
}

// Preview returns the first user message, truncated, for listings.
func (c *Conversation) Preview(maxLen int) string {
	for _, m := range c.messages {
		if m.Role == RoleUser {
			return m.Preview(maxLen)
		}
	}
	return ""
}
