package skills

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Jarvis2021/gantry-sub000/internal/architect"
	"github.com/Jarvis2021/gantry-sub000/internal/logging"
	"github.com/Jarvis2021/gantry-sub000/internal/manifest"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/Jarvis2021/gantry-sub000/internal/skills")

// ConsultName is the registry name of the consultation skill.
const ConsultName = "consult"

const connectionTrouble = "I'm having trouble connecting. Please try again."

// Consultant runs one free-form architect turn.
type Consultant interface {
	Consult(ctx context.Context, system, prompt string, history []architect.Turn) (string, error)
}

// Consultation is the structured reply of the consult skill.
type Consultation struct {
	Response       string   `json:"response"`
	ReadyToBuild   bool     `json:"ready_to_build"`
	SuggestedStack string   `json:"suggested_stack,omitempty"`
	AppName        string   `json:"app_name,omitempty"`
	AppType        string   `json:"app_type,omitempty"`
	KeyFeatures    []string `json:"key_features,omitempty"`
	IsPrototype    bool     `json:"is_prototype,omitempty"`
	ContinueFrom   *string  `json:"continue_from"`
}

// Consult refines requirements in a multi-turn dialogue before building.
type Consult struct {
	consultant Consultant
	logger     *logging.Logger
}

// NewConsult creates the consult skill.
func NewConsult(c Consultant, logger *logging.Logger) *Consult {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Consult{consultant: c, logger: logger}
}

func (c *Consult) Name() string { return ConsultName }
func (c *Consult) Description() string {
	return "Multi-turn dialogue to refine requirements before building"
}

// Execute answers the last user message with the earlier ones as history.
// Upstream failures are reported in the Result, not as an error.
func (c *Consult) Execute(ctx context.Context, in Input) (*Result, error) {
	ctx, span := tracer.Start(ctx, "skills.consult")
	defer span.End()

	n := len(in.Messages)
	if n == 0 {
		return nil, fmt.Errorf("%w: at least one message is required", ErrInvalidInput)
	}
	last := in.Messages[n-1]
	if last.Role != architect.RoleUser || last.Text == "" {
		return nil, fmt.Errorf("%w: last message must be a non-empty user turn", ErrInvalidInput)
	}

	raw, err := c.consultant.Consult(ctx, architect.ConsultPrompt, last.Text, in.Messages[:n-1])
	if err != nil {
		span.RecordError(err)
		c.logger.Warn(ctx, "consultation failed", zap.Error(err))
		return &Result{
			Success: false,
			Error:   err.Error(),
			Data:    &Consultation{Response: connectionTrouble},
		}, nil
	}
	return &Result{Success: true, Data: parseConsultation(raw)}, nil
}

// parseConsultation decodes the JSON reply, falling back to the raw text.
func parseConsultation(raw string) *Consultation {
	if body, err := manifest.ExtractJSON(raw); err == nil {
		var out Consultation
		if err := json.Unmarshal([]byte(body), &out); err == nil && out.Response != "" {
			return &out
		}
	}
	return &Consultation{Response: raw}
}

var _ Skill = (*Consult)(nil)
