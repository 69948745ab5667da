// Package llm provides VoiceCI's generic chat-completion client, used for
// the scripted caller persona and the post-conversation judge roles,
// adapted from the teacher's pkg/llm/client.go single-client pattern
// (§4.6).
package llm

import (
	"context"

	"github.com/voiceci/voiceci/pkg/store"
)

// ChatClient is the role-agnostic interface both the caller persona and
// the judge are driven through; a single OpenAIClient implements both
// roles with different prompts.
type ChatClient interface {
	// CallerUtterance produces the next scripted-caller line from the
	// persona prompt and the transcript so far (§4.6 step 1).
	CallerUtterance(ctx context.Context, callerPrompt string, transcript []store.Turn) (string, error)

	// ConversationEnded asks the judge whether the scenario's end
	// condition has fired (§4.6 step 6).
	ConversationEnded(ctx context.Context, callerPrompt string, transcript []store.Turn) (bool, error)

	// EvalRelevancy is the first step of a behavioral eval: is this
	// question relevant to what happened in this conversation? (§4.6)
	EvalRelevancy(ctx context.Context, question string, transcript []store.Turn) (bool, error)

	// EvalJudgment is the second step of a behavioral eval: did the agent
	// satisfy this question? Only called when EvalRelevancy is true.
	EvalJudgment(ctx context.Context, question string, transcript []store.Turn) (bool, error)

	// EvalToolCall is the one-step tool-call eval, given the transcript
	// and the observed tool calls as context (§4.6).
	EvalToolCall(ctx context.Context, question string, transcript []store.Turn, toolCalls []store.ObservedToolCall) (bool, error)
}
