package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	coreerrors "github.com/davidahmann/harness/core/errors"
	schemasession "github.com/davidahmann/harness/core/schema/v1/session"
)

const (
	defaultMaxAttempts = 3
	metadataSourceID   = "source_id"
)

// StepInput is either a bare description or a rich step object. It decodes
// from a JSON string or a JSON object.
type StepInput struct {
	Raw  string
	Spec *StepSpec
}

type StepSpec struct {
	ID          string                 `json:"id,omitempty"`
	Type        schemasession.StepType `json:"type,omitempty"`
	Description string                 `json:"description"`
	Priority    int                    `json:"priority,omitempty"`
	MaxAttempts int                    `json:"max_attempts,omitempty"`
	Metadata    map[string]any         `json:"metadata,omitempty"`
}

func RawStep(description string) StepInput {
	return StepInput{Raw: description}
}

func (input *StepInput) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var raw string
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
		*input = StepInput{Raw: raw}
		return nil
	}
	var spec StepSpec
	if err := json.Unmarshal(trimmed, &spec); err != nil {
		return fmt.Errorf("step must be a string or an object with a description: %w", err)
	}
	*input = StepInput{Spec: &spec}
	return nil
}

func (input StepInput) MarshalJSON() ([]byte, error) {
	if input.Spec != nil {
		return json.Marshal(input.Spec)
	}
	return json.Marshal(input.Raw)
}

// ParseStepInputs decodes a JSON step list.
func ParseStepInputs(data []byte) ([]StepInput, error) {
	var inputs []StepInput
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("parse steps: %w", err), coreerrors.CategoryInvalidInput, "steps_invalid", "provide a JSON array of strings or {\"description\": ...} objects", false)
	}
	return inputs, nil
}

// NormalizeSteps maps inputs onto canonical steps numbered after the
// existing count.
func NormalizeSteps(inputs []StepInput, existing int, now time.Time) ([]schemasession.Step, error) {
	steps := make([]schemasession.Step, 0, len(inputs))
	for offset, input := range inputs {
		position := existing + offset + 1
		step := schemasession.Step{
			ID:          CanonicalID(position),
			Type:        schemasession.StepTypeAcceptanceCriteria,
			Status:      schemasession.StatusPending,
			Order:       position,
			MaxAttempts: defaultMaxAttempts,
			CreatedAt:   now,
		}
		if input.Spec == nil {
			step.Description = strings.TrimSpace(input.Raw)
		} else {
			spec := input.Spec
			step.Description = strings.TrimSpace(spec.Description)
			step.Priority = spec.Priority
			if spec.MaxAttempts > 0 {
				step.MaxAttempts = spec.MaxAttempts
			}
			if spec.Type != "" {
				if !schemasession.IsKnownStepType(spec.Type) {
					return nil, invalidInput(fmt.Errorf("step %d: unknown type %q", position, spec.Type), "unknown_step_type")
				}
				step.Type = spec.Type
			}
			if len(spec.Metadata) > 0 {
				step.Metadata = make(map[string]any, len(spec.Metadata)+1)
				for key, value := range spec.Metadata {
					step.Metadata[key] = value
				}
			}
			if sourceID := strings.TrimSpace(spec.ID); sourceID != "" && sourceID != step.ID {
				if step.Metadata == nil {
					step.Metadata = map[string]any{}
				}
				step.Metadata[metadataSourceID] = sourceID
			}
		}
		if step.Description == "" {
			return nil, invalidInput(fmt.Errorf("step %d has an empty description", position), "empty_step")
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// AppendSteps adds new pending steps after the existing ones.
func AppendSteps(s *schemasession.Session, inputs []StepInput, now time.Time) ([]schemasession.Step, error) {
	added, err := NormalizeSteps(inputs, len(s.Steps), now)
	if err != nil {
		return nil, err
	}
	s.Steps = append(s.Steps, added...)
	return added, nil
}
