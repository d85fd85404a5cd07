package llm

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// Settings keys for prompt template overrides.
const (
	promptKeyFilter   = "prompt.filter"
	promptKeyAnalyze  = "prompt.analyze"
	promptKeyGenerate = "prompt.generate_scenario"
)

const defaultFilterPrompt = `You review posts from Telegram channels and decide whether a post is worth
turning into a short-form video (Reels) script.

A post is relevant when it contains a concrete idea, story, insight or piece
of advice that can carry a 30-60 second video. Bare links, ads, giveaways,
administrative announcements and reposted memes are not relevant.

Post:
{{post_text}}

Respond with JSON: {"relevant": true|false, "reason": "<one sentence>"}`

const defaultAnalyzePrompt = `You analyze a Telegram post that was selected for short-video production.
Extract the core material a scriptwriter needs.

Post:
{{post_text}}

Respond with JSON:
{"summary": "<2-3 sentence summary>",
 "insight": "<the single most valuable takeaway>",
 "theme": "<short topical theme, 2-4 words>"}`

const defaultGeneratePrompt = `You write scripts for 30-60 second vertical videos (Reels). Using the
analysis below, produce a complete script. Every segment needs spoken text,
a visual direction and a voiceover line.

Summary: {{summary}}
Insight: {{insight}}
Theme: {{theme}}

Original post:
{{post_text}}

Respond with JSON:
{"title": "...",
 "duration_sec": <total seconds, positive>,
 "hook": {"text": "...", "visual": "...", "voiceover": "..."},
 "insight": {"text": "...", "visual": "...", "voiceover": "..."},
 "steps": [{"text": "...", "visual": "...", "voiceover": "..."}],
 "cta": {"text": "...", "visual": "...", "voiceover": "..."},
 "hashtags": ["...", "..."],
 "music": "<music suggestion>"}`

// loadPrompt returns the stored override for key, or the default when no
// override exists. Store errors fall back to the default silently; a
// missing settings row must not fail a run.
func loadPrompt(ctx context.Context, store PromptStore, logger *zerolog.Logger, key, fallback string) string {
	if store == nil {
		return fallback
	}

	var stored string
	if err := store.GetSetting(ctx, key, &stored); err != nil || stored == "" {
		if err != nil {
			logger.Debug().Err(err).Str("key", key).Msg("prompt override not loaded, using default")
		}

		return fallback
	}

	return stored
}

// renderPrompt substitutes {{name}} tokens in a template.
func renderPrompt(template string, vars map[string]string) string {
	out := template
	for name, value := range vars {
		out = strings.ReplaceAll(out, "{{"+name+"}}", value)
	}

	return out
}
