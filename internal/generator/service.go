// Package generator produces the bot's outbound text: standalone posts,
// thread replies and one-off conversational replies. Every generation runs
// through the configured LLM provider and comes back trimmed and clamped
// to the platform length limit.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/ilikepancakes-ink/twittwebot/common/llm"
	"github.com/ilikepancakes-ink/twittwebot/common/logger"
	"github.com/ilikepancakes-ink/twittwebot/core/config"
	"github.com/ilikepancakes-ink/twittwebot/internal/gate"
	"github.com/ilikepancakes-ink/twittwebot/internal/metrics"
	"github.com/ilikepancakes-ink/twittwebot/internal/model"
)

// maxPostRunes is the platform's hard length limit for one post.
const maxPostRunes = 280

// genTemperature keeps outputs varied across topic repeats.
const genTemperature = 0.8

const defaultPersona = `You are a thoughtful, slightly witty social media account. You write short posts that sound human: no hashtag spam, no emoji walls, no corporate voice. Always submit your final text by calling the compose_post tool.`

// defaultTopics rotate through standalone posts when BOT_TOPICS is unset.
var defaultTopics = []string{
	"Generate a thought-provoking statement about technology and society in under 280 characters.",
	"Create an inspiring quote about creativity and innovation in under 280 characters.",
	"Write a philosophical observation about human nature in under 280 characters.",
	"Generate a witty observation about modern life in under 280 characters.",
	"Create a motivational statement about personal growth in under 280 characters.",
	"Write an interesting fact or insight about science in under 280 characters.",
	"Generate a humorous but insightful comment about daily life in under 280 characters.",
}

// composePostParams defines the schema for the compose_post tool.
type composePostParams struct {
	Text string `json:"text" jsonschema:"required,description=The exact post text to publish"`
}

// Service assembles prompts and turns completions into post-ready text.
// Callers run its methods under the Gate; failures come back classified.
type Service struct {
	llm       llm.AgentClient
	metrics   *metrics.Metrics
	persona   string
	topics    []string
	maxTokens int

	// pick selects the standalone topic index. Swapped in tests.
	pick func(n int) int
}

func New(client llm.AgentClient, llmCfg config.LLMConfig, botCfg config.BotConfig, m *metrics.Metrics) *Service {
	topics := botCfg.Topics
	if len(topics) == 0 {
		topics = defaultTopics
	}
	persona := botCfg.Persona
	if persona == "" {
		persona = defaultPersona
	}
	return &Service{
		llm:       client,
		metrics:   m,
		persona:   persona,
		topics:    topics,
		maxTokens: llmCfg.MaxTokens,
		pick:      rand.Intn,
	}
}

// Standalone generates a post for one of the configured topic prompts,
// chosen uniformly at random.
func (s *Service) Standalone(ctx context.Context) (string, error) {
	topic := s.topics[s.pick(len(s.topics))]
	slog.DebugContext(ctx, "generating standalone post", "topic", logger.Truncate(topic, 80))

	return s.compose(ctx, []llm.Message{
		{Role: "system", Content: s.persona},
		{Role: "user", Content: topic},
	})
}

// Reply generates the bot's next turn for a tracked thread. The transcript
// is rendered chronologically with speaker labels so the model can keep
// the bot's earlier turns consistent.
func (s *Service) Reply(ctx context.Context, thread []model.ThreadMessage) (string, error) {
	if len(thread) == 0 {
		return "", gate.Permanent(fmt.Errorf("reply requested with empty thread context"))
	}

	return s.compose(ctx, []llm.Message{
		{Role: "system", Content: s.persona},
		{Role: "user", Content: renderTranscript(thread)},
	})
}

// Conversational generates a context-free reply to a single post. The
// author's handle rides along as the message name where the provider
// supports it.
func (s *Service) Conversational(ctx context.Context, post model.Post) (string, error) {
	msg := llm.Message{
		Role:    "user",
		Content: fmt.Sprintf("Reply to this post in a natural, engaging way:\n\n%s", post.Text),
	}
	if post.AuthorUsername != "" {
		msg.Name = llm.SanitizeName(post.AuthorUsername)
	}

	return s.compose(ctx, []llm.Message{
		{Role: "system", Content: s.persona},
		msg,
	})
}

// compose runs one generation and normalizes the result. The model is
// asked to answer through the compose_post tool; plain text responses are
// accepted as a fallback since smaller models skip tools under pressure.
func (s *Service) compose(ctx context.Context, messages []llm.Message) (string, error) {
	start := time.Now()
	resp, err := s.llm.ChatWithTools(ctx, llm.AgentRequest{
		Messages:    messages,
		Tools:       s.tools(),
		MaxTokens:   s.maxTokens,
		Temperature: llm.Temp(genTemperature),
	})
	s.metrics.GenerationObserved(time.Since(start))
	if err != nil {
		return "", classifyProviderErr(err)
	}

	text := resp.Content
	for _, tc := range resp.ToolCalls {
		if tc.Name != "compose_post" {
			continue
		}
		params, perr := llm.ParseToolArguments[composePostParams](tc.Arguments)
		if perr != nil {
			// A garbled tool call is a bad sample; the next attempt
			// draws a fresh one.
			return "", gate.Transient(fmt.Errorf("parsing compose_post: %w", perr))
		}
		text = params.Text
		break
	}

	text = truncate(strings.TrimSpace(text))
	if text == "" {
		return "", gate.Transient(fmt.Errorf("model %s returned no post text", s.llm.Model()))
	}

	slog.DebugContext(ctx, "post text generated",
		"model", s.llm.Model(),
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.PromptTokens,
		"completion_tokens", resp.CompletionTokens,
		"length", len(text))

	return text, nil
}

func (s *Service) tools() []llm.Tool {
	return []llm.Tool{{
		Name:        "compose_post",
		Description: "Submit the final post text. The text must stand on its own and stay under 280 characters.",
		Parameters:  llm.GenerateSchemaFrom(composePostParams{}),
	}}
}

// renderTranscript flattens a thread into labelled lines, oldest first.
func renderTranscript(thread []model.ThreadMessage) string {
	var b strings.Builder
	b.WriteString("Here is a conversation you are part of, oldest message first:\n\n")
	for _, m := range thread {
		b.WriteString(speakerLabel(m))
		b.WriteString(": ")
		b.WriteString(m.Text)
		b.WriteString("\n")
	}
	b.WriteString("\nWrite your next reply in this conversation.")
	return b.String()
}

func speakerLabel(m model.ThreadMessage) string {
	if m.BotAuthored {
		return "You"
	}
	if m.AuthorUsername != "" {
		return "@" + m.AuthorUsername
	}
	return "user " + m.AuthorID
}

// truncate clamps text to the platform limit, ellipsizing on overflow.
// Counts runes; a byte cut could split a multibyte character.
func truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= maxPostRunes {
		return text
	}
	return string(runes[:maxPostRunes-3]) + "..."
}

// classifyProviderErr maps provider SDK failures onto the retry taxonomy.
// Errors that never reached the API (transport failures, cancellation)
// pass through for the gate's default classification.
func classifyProviderErr(err error) error {
	status, ok := llm.StatusCode(err)
	if !ok {
		return err
	}
	switch {
	case status == http.StatusTooManyRequests:
		return gate.RateLimited(err, llm.RetryAfter(err))
	case status >= 500:
		return gate.Transient(err)
	default:
		return gate.Permanent(err)
	}
}
