// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package chat

import (
	"context"
	"net/http"
	"strings"

	"go.leyla.chat/leyla/internal/request"
)

const defaultOpenAIURL = "https://api.openai.com/v1"

// DefaultOpenAIModel is the OpenAI model used when none is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAI is a [Replier] backed by the OpenAI chat completions API.
type OpenAI struct {
	// APIKey is the secret API key.
	APIKey string
	// Model defaults to DefaultOpenAIModel.
	Model string
	// BaseURL defaults to the public OpenAI API.
	BaseURL string
	// HTTPClient is an optional HTTP client to use for requests. Defaults to
	// request.DefaultClient.
	HTTPClient *http.Client
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

// Reply implements [Replier].
func (o *OpenAI) Reply(ctx context.Context, system string, history []Message) (string, error) {
	if !lastIsUser(history) {
		return "", ErrNoUserMessage
	}

	req := openAIRequest{Model: o.Model}
	if req.Model == "" {
		req.Model = DefaultOpenAIModel
	}
	if system != "" {
		req.Messages = append(req.Messages, openAIMessage{Role: "system", Content: system})
	}
	for _, m := range history {
		req.Messages = append(req.Messages, openAIMessage{Role: string(m.Role), Content: m.Content})
	}

	baseURL := o.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIURL
	}

	var scrubber *strings.Replacer
	if o.APIKey != "" {
		scrubber = strings.NewReplacer(o.APIKey, "[EXPUNGED]")
	}

	resp, err := request.Make[openAIResponse](ctx, request.Params{
		Method: http.MethodPost,
		URL:    strings.TrimSuffix(baseURL, "/") + "/chat/completions",
		Headers: map[string]string{
			"Authorization": "Bearer " + o.APIKey,
		},
		Body:       req,
		HTTPClient: o.HTTPClient,
		Scrubber:   scrubber,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}
