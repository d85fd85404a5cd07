package llm

import (
	"testing"

	"github.com/avolkov/reelpipe/internal/core/domain"
	apperrors "github.com/avolkov/reelpipe/internal/core/errors"
)

func validPayload() ScenarioPayload {
	seg := domain.Segment{Text: "text", Visual: "visual", Voiceover: "vo"}

	return ScenarioPayload{
		Title:       "How to stop doomscrolling",
		DurationSec: 45,
		Hook:        seg,
		Insight:     seg,
		Steps:       []domain.Segment{seg, seg},
		CTA:         seg,
		Hashtags:    []string{"#focus"},
		Music:       "lofi",
	}
}

func TestValidateScenarioOK(t *testing.T) {
	p := validPayload()
	if err := ValidateScenario(&p); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
}

func TestValidateScenarioRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ScenarioPayload)
	}{
		{"missing title", func(p *ScenarioPayload) { p.Title = "" }},
		{"zero duration", func(p *ScenarioPayload) { p.DurationSec = 0 }},
		{"negative duration", func(p *ScenarioPayload) { p.DurationSec = -10 }},
		{"empty hook", func(p *ScenarioPayload) { p.Hook.Text = "" }},
		{"empty insight", func(p *ScenarioPayload) { p.Insight.Text = "" }},
		{"no steps", func(p *ScenarioPayload) { p.Steps = nil }},
		{"empty step", func(p *ScenarioPayload) { p.Steps[1].Text = "" }},
		{"empty cta", func(p *ScenarioPayload) { p.CTA.Text = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validPayload()
			tc.mutate(&p)

			err := ValidateScenario(&p)
			if !apperrors.Is(err, apperrors.ErrInvalidResponse) {
				t.Fatalf("expected ErrInvalidResponse, got %v", err)
			}
		})
	}
}

func TestValidateAnalysis(t *testing.T) {
	ok := AnalysisResult{Summary: "s", Insight: "i", Theme: "t"}
	if err := ValidateAnalysis(&ok); err != nil {
		t.Fatalf("valid analysis rejected: %v", err)
	}

	// Theme is optional; summary and insight are not.
	noTheme := AnalysisResult{Summary: "s", Insight: "i"}
	if err := ValidateAnalysis(&noTheme); err != nil {
		t.Fatalf("analysis without theme rejected: %v", err)
	}

	missing := []AnalysisResult{
		{Insight: "i"},
		{Summary: "s"},
	}
	for _, r := range missing {
		if err := ValidateAnalysis(&r); !apperrors.Is(err, apperrors.ErrInvalidResponse) {
			t.Fatalf("expected ErrInvalidResponse for %+v, got %v", r, err)
		}
	}
}
