package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed plan.schema.json
var planSchema string

// PhaseConfig is one authored phase of a workload plan.
type PhaseConfig struct {
	Name     string
	From     int
	To       int
	Duration time.Duration
}

// planFile mirrors the YAML layout:
//
//	phases:
//	  - name: ramp-up
//	    from: 0
//	    to: 4
//	    duration: 1s
//	  - to: 4
//	    duration: 10s
//
// An omitted "from" continues from the previous phase's "to".
type planFile struct {
	Phases []struct {
		Name     string `yaml:"name"`
		From     *int   `yaml:"from"`
		To       int    `yaml:"to"`
		Duration string `yaml:"duration"`
	} `yaml:"phases"`
}

// LoadPlanFile reads and validates a YAML workload plan.
func LoadPlanFile(path string) ([]PhaseConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Field: KeyPlan, Message: fmt.Sprintf("read plan file: %v", err)}
	}
	return ParsePlan(data)
}

// ParsePlan validates data against the plan schema and decodes it.
func ParsePlan(data []byte) ([]PhaseConfig, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigurationError{Field: KeyPlan, Message: fmt.Sprintf("invalid YAML: %v", err)}
	}

	if err := validatePlanDocument(raw); err != nil {
		return nil, err
	}

	var doc planFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigurationError{Field: KeyPlan, Message: fmt.Sprintf("decode plan: %v", err)}
	}

	phases := make([]PhaseConfig, 0, len(doc.Phases))
	previous := 0
	for i, p := range doc.Phases {
		dur, err := time.ParseDuration(p.Duration)
		if err != nil {
			return nil, &ConfigurationError{
				Field:   fmt.Sprintf("%s.phases[%d].duration", KeyPlan, i),
				Message: err.Error(),
			}
		}
		from := previous
		if p.From != nil {
			from = *p.From
		}
		phases = append(phases, PhaseConfig{
			Name:     p.Name,
			From:     from,
			To:       p.To,
			Duration: dur,
		})
		previous = p.To
	}
	return phases, nil
}

// validatePlanDocument round-trips the YAML tree through JSON so the schema
// validator sees plain JSON values.
func validatePlanDocument(raw interface{}) error {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return &ConfigurationError{Field: KeyPlan, Message: fmt.Sprintf("plan is not representable as JSON: %v", err)}
	}

	dec := json.NewDecoder(strings.NewReader(string(encoded)))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return &ConfigurationError{Field: KeyPlan, Message: fmt.Sprintf("invalid JSON: %v", err)}
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("plan.schema.json", strings.NewReader(planSchema)); err != nil {
		return fmt.Errorf("invalid plan schema: %w", err)
	}
	schema, err := compiler.Compile("plan.schema.json")
	if err != nil {
		return fmt.Errorf("invalid plan schema: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		return &ConfigurationError{Field: KeyPlan, Message: err.Error()}
	}
	return nil
}
