// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package chat talks to hosted language models.
package chat

import (
	"context"
	"errors"
)

// Role of a [Message] author.
type Role string

const (
	User      Role = "user"
	Assistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Replier produces the next assistant turn of a conversation.
type Replier interface {
	// Reply returns the answer to history, which ends with the user's latest
	// message. system is the persona prompt.
	Reply(ctx context.Context, system string, history []Message) (string, error)
}

// ErrEmptyReply is returned when the model answers with nothing.
var ErrEmptyReply = errors.New("model returned an empty reply")

// ErrNoUserMessage is returned when history doesn't end with a user message.
var ErrNoUserMessage = errors.New("conversation must end with a user message")

func lastIsUser(history []Message) bool {
	return len(history) > 0 && history[len(history)-1].Role == User
}
