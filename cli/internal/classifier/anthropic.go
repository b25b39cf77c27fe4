package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"carve/cli/internal/plan"
)

// ErrUnavailable indicates the model API could not be reached or refused the
// request. Callers map it to a distinct exit code with a hint about the key.
var ErrUnavailable = errors.New("classifier API unavailable")

// systemPrompt instructs the model to group hunks into independent commits
// and answer with the exact JSON shape ParseGroups expects.
const systemPrompt = `You group uncommitted code changes into independent, logically coherent commits.

You receive a list of diff hunks, each addressed as file#index. Assign every hunk to exactly one group. Hunks that serve one purpose (a feature, a fix, a rename, a config change) belong together, even across files; unrelated changes to the same file belong in different groups.

Respond with only a JSON object, no other text:
{"groups":[{"number":1,"description":"what this commit does","hunks":[{"file":"path","hunkIndex":0}],"commitMessage":"conventional commit summary, 50 chars or less, imperative mood","commitBody":"optional longer description"}]}

Rules:
- number is 1-based and sequential; it is also the commit order.
- hunkIndex is the 0-based index shown in the listing.
- Never invent files or indices that are not in the listing.
- commitMessage is required for every group.`

// Anthropic calls the Anthropic Messages API to propose commit groups.
// Zero value is not valid; use NewAnthropic.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropic builds a classifier for the given API key and model name.
func NewAnthropic(apiKey, model string, maxTokens int64) *Anthropic {
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &Anthropic{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Propose implements Classifier: send the hunk listing, collect the text
// blocks of the reply, and parse them into groups.
func (a *Anthropic) Propose(ctx context.Context, reg *plan.Registry) (Proposal, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(Listing(reg))),
		},
	})
	if err != nil {
		return Proposal{}, fmt.Errorf("classifier request: %w", errors.Join(ErrUnavailable, err))
	}
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return ParseGroups(text.String())
}
