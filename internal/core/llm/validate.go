package llm

import (
	"fmt"

	"github.com/avolkov/reelpipe/internal/core/domain"
	apperrors "github.com/avolkov/reelpipe/internal/core/errors"
)

// ValidateAnalysis checks the analysis stage payload.
func ValidateAnalysis(r *AnalysisResult) error {
	if r.Summary == "" {
		return fmt.Errorf("%w: analysis missing summary", apperrors.ErrInvalidResponse)
	}

	if r.Insight == "" {
		return fmt.Errorf("%w: analysis missing insight", apperrors.ErrInvalidResponse)
	}

	return nil
}

// ValidateScenario checks the structural requirements of a generated
// scenario: required sub-sections present, positive duration, at least
// one step. A payload failing here is treated as an invalid response and
// is not regenerated automatically.
func ValidateScenario(p *ScenarioPayload) error {
	if p.Title == "" {
		return fmt.Errorf("%w: scenario missing title", apperrors.ErrInvalidResponse)
	}

	if p.DurationSec <= 0 {
		return fmt.Errorf("%w: scenario duration must be positive, got %d", apperrors.ErrInvalidResponse, p.DurationSec)
	}

	if err := validateSegment("hook", p.Hook); err != nil {
		return err
	}

	if err := validateSegment("insight", p.Insight); err != nil {
		return err
	}

	if len(p.Steps) == 0 {
		return fmt.Errorf("%w: scenario has no steps", apperrors.ErrInvalidResponse)
	}

	for i, step := range p.Steps {
		if err := validateSegment(fmt.Sprintf("steps[%d]", i), step); err != nil {
			return err
		}
	}

	return validateSegment("cta", p.CTA)
}

func validateSegment(name string, s domain.Segment) error {
	if s.Text == "" {
		return fmt.Errorf("%w: scenario %s missing text", apperrors.ErrInvalidResponse, name)
	}

	return nil
}
