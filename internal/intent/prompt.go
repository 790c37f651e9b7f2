package intent

import (
	"fmt"
	"strings"

	"swappilot/internal/llm"
	"swappilot/internal/swap"
)

const systemPrompt = "" +
	"You are an expert in cryptocurrency swap optimization, specializing in DeFi and DEX routing. " +
	"Read the user's swap request and the reference material, recommend a route in one or two sentences, " +
	"then end your answer with a single JSON object: " +
	`{"from_token": string, "to_token": string, "amount": string, "dex": string, "slippage": number}. ` +
	"Use token symbols, keep the amount exactly as the user wrote it and express slippage in percent."

const maxSnippetRunes = 240

func buildPrompt(text string, snippets []swap.ContextSnippet) llm.Prompt {
	var builder strings.Builder
	builder.WriteString("## Swap request\n")
	builder.WriteString(strings.TrimSpace(text))
	builder.WriteString("\n")

	if len(snippets) > 0 {
		builder.WriteString("\n## Reference material\n")
		for idx, snippet := range snippets {
			builder.WriteString(fmt.Sprintf("[%d] (%.2f) %s\n", idx+1, snippet.Score, truncate(snippet.Text)))
		}
	}

	builder.WriteString("\nAnswer with the route recommendation followed by the JSON object.")
	return llm.Prompt{System: systemPrompt, User: builder.String()}
}

func truncate(text string) string {
	text = strings.TrimSpace(text)
	if runes := []rune(text); len(runes) > maxSnippetRunes {
		return string(runes[:maxSnippetRunes]) + "..."
	}
	return text
}
