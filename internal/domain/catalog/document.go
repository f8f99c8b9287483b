package catalog

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/harbinger-io/harbinger/internal/domain/stressor"
)

// document is the on-disk YAML schema for the cohort catalog. It is an
// externally supplied, versioned configuration artifact; code never
// mutates it, only parses it into an immutable Snapshot.
type document struct {
	// AttributeSpace declares the full attribute ranges the cohort keys
	// must partition. Coverage is validated at load time.
	AttributeSpace attributeSpaceDoc `yaml:"attribute_space"`

	// AgeEscalationYears bumps a vehicle one usage class up once its age
	// reaches this many years. Zero disables the rule.
	AgeEscalationYears int `yaml:"age_escalation_years"`

	Cohorts        []cohortDoc `yaml:"cohorts"`
	DefaultCohort  cohortDoc   `yaml:"default_cohort"`
	Severity       []levelDoc  `yaml:"severity"`
	ResultTTLHours int         `yaml:"result_ttl_hours"`
}

type attributeSpaceDoc struct {
	ModelClasses []string `yaml:"model_classes"`
	Regions      []string `yaml:"regions"`
	UsageClasses []string `yaml:"usage_classes"`
}

type cohortDoc struct {
	ID               string           `yaml:"id"`
	Keys             []keyDoc         `yaml:"keys"`
	Prior            priorDoc         `yaml:"prior"`
	LikelihoodRatios map[string]lrDoc `yaml:"likelihood_ratios"`
}

type keyDoc struct {
	ModelClass string `yaml:"model_class"`
	Region     string `yaml:"region"`
	UsageClass string `yaml:"usage_class"`
}

type priorDoc struct {
	Probability float64 `yaml:"probability"`
	Provenance  string  `yaml:"provenance"`
	SampleSize  int     `yaml:"sample_size"`
}

type lrDoc struct {
	Ratio      float64         `yaml:"ratio"`
	Definition string          `yaml:"definition"`
	Provenance string          `yaml:"provenance"`
	Kind       stressor.Kind   `yaml:"kind"`
	Params     stressor.Params `yaml:"params"`
}

type levelDoc struct {
	Bucket          string  `yaml:"bucket"`
	MinPosterior    float64 `yaml:"min_posterior"`
	Action          string  `yaml:"action"`
	RevenueEstimate float64 `yaml:"revenue_estimate"`
	Actionable      bool    `yaml:"actionable"`
}

// parseDocument unmarshals the raw YAML bytes into a document.
func parseDocument(data []byte) (*document, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return &doc, nil
}
