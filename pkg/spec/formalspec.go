// Package spec parses and validates the Formal Spec YAML document (spec
// §6) produced by the spec-generator boundary call, including the
// work-breakdown cycle check spec §9 requires at store time.
package spec

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Source identifies the originating code-task context.
type Source struct {
	GitHub struct {
		Repo          string `yaml:"repo" validate:"required"`
		Issue         int    `yaml:"issue" validate:"required"`
		CommitBaseline string `yaml:"commit_baseline" validate:"required"`
	} `yaml:"github" validate:"required"`
}

// WorkItem is one entry of work_breakdown.
type WorkItem struct {
	ID               string   `yaml:"id" validate:"required"`
	Title            string   `yaml:"title" validate:"required"`
	OwnerRole        string   `yaml:"owner_role" validate:"required"`
	DefinitionOfDone []string `yaml:"definition_of_done" validate:"required,min=1"`
	DependsOn        []string `yaml:"depends_on"`
}

// Constraints is optional scoping metadata.
type Constraints struct {
	Languages     []string `yaml:"languages,omitempty"`
	AllowedPaths  []string `yaml:"allowed_paths,omitempty"`
	ForbiddenPaths []string `yaml:"forbidden_paths,omitempty"`
}

// ValidationPlan is optional CI metadata.
type ValidationPlan struct {
	CIJobs []string `yaml:"ci_jobs,omitempty"`
}

// FormalSpec is the versioned document the spec generator produces and
// the repository validates round-trip on store (spec §6).
type FormalSpec struct {
	SpecVersion        int            `yaml:"spec_version" validate:"required,eq=1"`
	SpecID             string         `yaml:"spec_id" validate:"required"`
	Source             Source         `yaml:"source" validate:"required"`
	Objective          string         `yaml:"objective" validate:"required"`
	AcceptanceCriteria []string       `yaml:"acceptance_criteria" validate:"required,min=1"`
	WorkBreakdown      []WorkItem     `yaml:"work_breakdown" validate:"required,min=1,dive"`
	NonGoals           []string       `yaml:"non_goals,omitempty"`
	Constraints        *Constraints   `yaml:"constraints,omitempty"`
	DesignNotes        string         `yaml:"design_notes,omitempty"`
	RiskChecks         []string       `yaml:"risk_checks,omitempty"`
	ValidationPlan     *ValidationPlan `yaml:"validation_plan,omitempty"`
	StopConditions     []string       `yaml:"stop_conditions,omitempty"`
}

var validate = validator.New()

// Parse unmarshals raw YAML into a FormalSpec. It does not validate;
// call Validate separately so callers can distinguish a syntax error
// from a schema violation.
func Parse(raw []byte) (*FormalSpec, error) {
	var fs FormalSpec
	if err := yaml.Unmarshal(raw, &fs); err != nil {
		return nil, fmt.Errorf("parse formal spec: %w", err)
	}
	return &fs, nil
}

// Validate checks required fields (via struct tags) and rejects a
// work_breakdown graph containing a cycle, per spec §9: "Specs must be
// rejected at store time if the work_breakdown graph contains a cycle."
func Validate(fs *FormalSpec) error {
	if err := validate.Struct(fs); err != nil {
		return fmt.Errorf("formal spec schema violation: %w", err)
	}
	if err := checkAcyclic(fs.WorkBreakdown); err != nil {
		return err
	}
	return nil
}

// checkAcyclic runs a standard DFS cycle check over the depends_on edges;
// an unknown depends_on target is also rejected since the scheduler
// assumes every dependency resolves to a real task (spec §4.7).
func checkAcyclic(items []WorkItem) error {
	byID := make(map[string]WorkItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(items))

	var visit func(id string, chain []string) error
	visit = func(id string, chain []string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("work_breakdown contains a cycle: %v -> %s", chain, id)
		}
		item, ok := byID[id]
		if !ok {
			return fmt.Errorf("work_breakdown item %q depends on unknown item %q", chain[len(chain)-1], id)
		}
		state[id] = visiting
		for _, dep := range item.DependsOn {
			if err := visit(dep, append(chain, id)); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}

	for _, it := range items {
		if state[it.ID] == unvisited {
			if err := visit(it.ID, []string{}); err != nil {
				return err
			}
		}
	}
	return nil
}
