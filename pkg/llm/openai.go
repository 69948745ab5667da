package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/voiceci/voiceci/pkg/store"
)

// OpenAIClient implements ChatClient over the OpenAI chat-completions API,
// reused for both the caller and judge roles (only the prompts differ).
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds a ChatClient backed by client using model (e.g.
// "gpt-4o-mini" for the caller persona, a stronger model for judging).
func NewOpenAIClient(client *openai.Client, model string) *OpenAIClient {
	return &OpenAIClient{client: client, model: model}
}

func transcriptToMessages(transcript []store.Turn) string {
	var b strings.Builder
	for _, t := range transcript {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Text)
	}
	return b.String()
}

func (c *OpenAIClient) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: no completion choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) completeBool(ctx context.Context, system, user string) (bool, error) {
	text, err := c.complete(ctx, system+" Respond with exactly one word: YES or NO.", user)
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToUpper(text), "YES"), nil
}

func (c *OpenAIClient) CallerUtterance(ctx context.Context, callerPrompt string, transcript []store.Turn) (string, error) {
	system := "You are role-playing a caller in a phone conversation with a voice agent, per this persona: " + callerPrompt
	user := "Conversation so far:\n" + transcriptToMessages(transcript) + "\nWhat do you say next? Reply with only the caller's line."
	return c.complete(ctx, system, user)
}

func (c *OpenAIClient) ConversationEnded(ctx context.Context, callerPrompt string, transcript []store.Turn) (bool, error) {
	system := "You judge whether a scripted phone conversation has reached a natural end, given the caller's goal: " + callerPrompt
	user := "Conversation so far:\n" + transcriptToMessages(transcript) + "\nHas the conversation reached its natural end?"
	return c.completeBool(ctx, system, user)
}

func (c *OpenAIClient) EvalRelevancy(ctx context.Context, question string, transcript []store.Turn) (bool, error) {
	system := "You judge whether an evaluation question is relevant to a given phone conversation transcript."
	user := fmt.Sprintf("Question: %s\n\nTranscript:\n%s\nIs this question relevant to what happened in this conversation?", question, transcriptToMessages(transcript))
	return c.completeBool(ctx, system, user)
}

func (c *OpenAIClient) EvalJudgment(ctx context.Context, question string, transcript []store.Turn) (bool, error) {
	system := "You judge whether a voice agent satisfied a behavioral evaluation criterion during a phone conversation."
	user := fmt.Sprintf("Question: %s\n\nTranscript:\n%s\nDid the agent satisfy this criterion?", question, transcriptToMessages(transcript))
	return c.completeBool(ctx, system, user)
}

func (c *OpenAIClient) EvalToolCall(ctx context.Context, question string, transcript []store.Turn, toolCalls []store.ObservedToolCall) (bool, error) {
	toolCallsJSON, err := json.Marshal(toolCalls)
	if err != nil {
		return false, fmt.Errorf("llm: marshal observed tool calls: %w", err)
	}
	system := "You judge whether a voice agent's tool usage during a phone conversation satisfied a criterion, given the transcript and the tool calls it actually made."
	user := fmt.Sprintf("Question: %s\n\nTranscript:\n%s\nObserved tool calls:\n%s\nDid the agent's tool usage satisfy this criterion?",
		question, transcriptToMessages(transcript), string(toolCallsJSON))
	return c.completeBool(ctx, system, user)
}
