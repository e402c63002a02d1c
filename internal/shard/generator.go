// Package shard produces and stores memory shards: LLM summaries of a range
// of chat messages.
package shard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/crystaldolphin/memshard/internal/schema"
	"github.com/crystaldolphin/memshard/internal/shared/stringutils"
)

const systemPrompt = "You are a memory archivist. Condense the conversation excerpt you are given " +
	"into a memory shard: markdown sections introduced by '## ' headings covering the events, " +
	"the characters involved and any facts worth remembering. Do not invent details."

// Generator asks an LLM to summarize a transcript into a shard.
type Generator struct {
	provider    schema.LLMProvider
	model       string
	maxTokens   int
	temperature float64
}

// NewGenerator returns a Generator using provider. An empty model selects the
// provider's default.
func NewGenerator(provider schema.LLMProvider, model string, maxTokens int, temperature float64) *Generator {
	return &Generator{provider: provider, model: model, maxTokens: maxTokens, temperature: temperature}
}

// Generate implements schema.Generator.
func (g *Generator) Generate(ctx context.Context, content string, gctx schema.GenerateContext) (schema.GenerateResult, error) {
	prompt := schema.NewPrompt(schema.NewSystemMessage(systemPrompt))
	prompt.AddUser(buildPrompt(content, gctx))

	resp, err := g.provider.Chat(ctx, prompt, schema.NewChatOptions(g.model, g.maxTokens, g.temperature))
	if err != nil {
		if ctx.Err() != nil {
			return schema.GenerateResult{}, fmt.Errorf("%w: %w", schema.ErrCancelled, err)
		}
		return schema.GenerateResult{}, fmt.Errorf("shard LLM call: %w", err)
	}

	res := Parse(stringutils.StripThink(resp.Content), gctx.ExtractKeywords)
	if resp.FinishReason == "length" {
		res.Diagnostics = append(res.Diagnostics, schema.Diagnostic{
			Level: schema.LevelWarning, Message: "reply was truncated at the token limit",
		})
	}
	slog.Debug("shard: generated", "start", gctx.StartIndex, "end", gctx.EndIndex,
		"sections", len(res.Sections), "keywords", len(res.Keywords), "usage", resp.Usage)
	return res, nil
}

func buildPrompt(content string, gctx schema.GenerateContext) string {
	var b strings.Builder
	if len(gctx.ExistingShards) > 0 {
		b.WriteString("## Existing Memory Shards\n")
		for _, s := range gctx.ExistingShards {
			b.WriteString(strings.TrimSpace(s))
			b.WriteString("\n\n")
		}
		b.WriteString("Do not repeat what the existing shards already record.\n\n")
	}
	fmt.Fprintf(&b, "## Conversation to Process (messages %d-%d)\n%s\n",
		gctx.StartIndex, gctx.EndIndex, strings.TrimSpace(content))
	if gctx.ExtractKeywords {
		b.WriteString("\nEnd your reply with one line of the form 'Keywords: a, b, c'.\n")
	}
	return b.String()
}

// Parse splits an LLM reply into sections and keywords and reports
// diagnostics about its shape.
func Parse(reply string, wantKeywords bool) schema.GenerateResult {
	var res schema.GenerateResult

	var body []string
	for _, line := range strings.Split(strings.ReplaceAll(reply, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if kw, ok := cutKeywords(trimmed); ok {
			for _, k := range strings.Split(kw, ",") {
				if k = strings.TrimSpace(k); k != "" {
					res.Keywords = append(res.Keywords, k)
				}
			}
			continue
		}
		body = append(body, line)
	}
	res.ReconstructedText = strings.TrimSpace(strings.Join(body, "\n"))

	if res.ReconstructedText == "" {
		res.Diagnostics = append(res.Diagnostics, schema.Diagnostic{Level: schema.LevelError, Message: "empty reply"})
		return res
	}

	var cur *schema.Section
	for _, line := range strings.Split(res.ReconstructedText, "\n") {
		if title, ok := strings.CutPrefix(line, "## "); ok {
			res.Sections = append(res.Sections, schema.Section{Title: strings.TrimSpace(title)})
			cur = &res.Sections[len(res.Sections)-1]
			continue
		}
		if cur != nil {
			cur.Body += line + "\n"
		}
	}
	for i := range res.Sections {
		res.Sections[i].Body = strings.TrimSpace(res.Sections[i].Body)
	}

	if len(res.Sections) == 0 {
		res.Diagnostics = append(res.Diagnostics, schema.Diagnostic{Level: schema.LevelWarning, Message: "reply has no '## ' sections"})
	}
	if wantKeywords && len(res.Keywords) == 0 {
		res.Diagnostics = append(res.Diagnostics, schema.Diagnostic{Level: schema.LevelInfo, Message: "no keywords extracted"})
	}
	return res
}

func cutKeywords(line string) (string, bool) {
	const prefix = "keywords:"
	if len(line) < len(prefix) || !strings.EqualFold(line[:len(prefix)], prefix) {
		return "", false
	}
	return line[len(prefix):], true
}
