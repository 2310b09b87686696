// Package playbook defines the normalized step records consumed by the
// workflow runtime. Loading and schema validation happen upstream; this
// package only models the records and offers light accessors.
package playbook

import "gopkg.in/yaml.v3"

// StepType names the seven supported step shapes.
type StepType string

const (
	StepStandard            StepType = "standard"
	StepWorkInParallel      StepType = "work_in_parallel"
	StepSelfFeedbackLoop    StepType = "self_feedback_loop"
	StepPartnerFeedbackLoop StepType = "partner_feedback_loop"
	StepProcess             StepType = "process"
	StepVersus              StepType = "versus"
	StepHandoff             StepType = "handoff"
)

// HandoffCondition gates a handoff to another agent.
type HandoffCondition struct {
	Condition string `yaml:"condition" json:"condition"`
	Target    string `yaml:"target" json:"target"`
}

// ProcessPhase is one of the input/process/output phases of a process step.
type ProcessPhase struct {
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Condition   string `yaml:"condition,omitempty" json:"condition,omitempty"`
	Agent       string `yaml:"agent,omitempty" json:"agent,omitempty"`
	Operation   string `yaml:"operation,omitempty" json:"operation,omitempty"`
}

// Step is one normalized playbook step. Type-specific fields are populated
// according to Type; the rest stay zero.
type Step struct {
	ID          string   `yaml:"step_id" json:"step_id"`
	Type        StepType `yaml:"type" json:"type"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	NextStep    string   `yaml:"next,omitempty" json:"next,omitempty"`

	// Standard steps.
	Agent      string                 `yaml:"agent,omitempty" json:"agent,omitempty"`
	Operation  string                 `yaml:"operation,omitempty" json:"operation,omitempty"`
	Tools      []string               `yaml:"tools,omitempty" json:"tools,omitempty"`
	Parameters map[string]interface{} `yaml:"parameters,omitempty" json:"parameters,omitempty"`

	// Parallel and feedback steps.
	AgentRoles        map[string]string `yaml:"agent_roles,omitempty" json:"agent_roles,omitempty"`
	Operations        []string          `yaml:"operations,omitempty" json:"operations,omitempty"`
	Iterations        int               `yaml:"iterations,omitempty" json:"iterations,omitempty"`
	InputDistribution string            `yaml:"input_distribution,omitempty" json:"input_distribution,omitempty"`
	OutputAggregation string            `yaml:"output_aggregation,omitempty" json:"output_aggregation,omitempty"`
	FeedbackCondition string            `yaml:"feedback_condition,omitempty" json:"feedback_condition,omitempty"`

	// Process steps.
	Input   *ProcessPhase `yaml:"input,omitempty" json:"input,omitempty"`
	Process *ProcessPhase `yaml:"process,omitempty" json:"process,omitempty"`
	Output  *ProcessPhase `yaml:"output,omitempty" json:"output,omitempty"`

	// Handoff steps.
	PrimaryAgent      string             `yaml:"primary_agent,omitempty" json:"primary_agent,omitempty"`
	HandoffConditions []HandoffCondition `yaml:"handoff_conditions,omitempty" json:"handoff_conditions,omitempty"`
	CompletionAction  string             `yaml:"completion_action,omitempty" json:"completion_action,omitempty"`
}

// Conditions returns the condition expressions attached to the step, in
// declaration order. Only process, handoff, and feedback steps carry them.
func (s *Step) Conditions() []string {
	var out []string
	switch s.Type {
	case StepProcess:
		for _, phase := range []*ProcessPhase{s.Input, s.Process, s.Output} {
			if phase != nil && phase.Condition != "" {
				out = append(out, phase.Condition)
			}
		}
	case StepHandoff:
		for _, hc := range s.HandoffConditions {
			if hc.Condition != "" {
				out = append(out, hc.Condition)
			}
		}
	case StepSelfFeedbackLoop, StepPartnerFeedbackLoop:
		if s.FeedbackCondition != "" {
			out = append(out, s.FeedbackCondition)
		}
	}
	return out
}

// Metadata declares the resources a playbook's steps may reference.
type Metadata struct {
	Agents []string `yaml:"agents,omitempty" json:"agents,omitempty"`
	Tools  []string `yaml:"tools,omitempty" json:"tools,omitempty"`
	LLMs   []string `yaml:"llms,omitempty" json:"llms,omitempty"`
}

// Playbook is a named, ordered list of steps with a metadata block.
type Playbook struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Metadata    Metadata `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Steps       []Step   `yaml:"steps" json:"steps"`
}

// Parse decodes a YAML playbook document.
func Parse(data []byte) (*Playbook, error) {
	var pb Playbook
	if err := yaml.Unmarshal(data, &pb); err != nil {
		return nil, err
	}
	return &pb, nil
}

// Step returns the step with the given id, or nil.
func (p *Playbook) Step(id string) *Step {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// Next resolves a step's successor, or nil when the playbook ends there.
func (p *Playbook) Next(s *Step) *Step {
	if s == nil || s.NextStep == "" {
		return nil
	}
	return p.Step(s.NextStep)
}
