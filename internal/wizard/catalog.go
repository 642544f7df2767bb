package wizard

import (
	_ "embed"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed steps.yaml
var defaultSteps []byte

// Step is one page of the wizard.
type Step struct {
	Name            string `yaml:"name" json:"name"`
	Title           string `yaml:"title" json:"title"`
	QuestionNumbers []int  `yaml:"question_numbers" json:"question_numbers"`
	Mandatory       bool   `yaml:"mandatory" json:"mandatory"`
	Index           int    `yaml:"-" json:"index"`
}

// Catalog is the ordered list of wizard steps.
type Catalog struct {
	BasePath     string `yaml:"base_path"`
	CompletePath string `yaml:"complete_path"`
	Steps        []Step `yaml:"steps"`

	byName map[string]int
}

// LoadCatalog parses and checks a YAML step catalog.
func LoadCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "parse step catalog")
	}
	if len(c.Steps) == 0 {
		return nil, errors.New("step catalog has no steps")
	}
	if c.BasePath == "" {
		c.BasePath = "/onboarding"
	}
	c.BasePath = "/" + strings.Trim(c.BasePath, "/")
	if c.CompletePath == "" {
		c.CompletePath = "/matches"
	}

	c.byName = make(map[string]int, len(c.Steps))
	owner := make(map[int]string)
	for i := range c.Steps {
		s := &c.Steps[i]
		s.Index = i
		if s.Name == "" {
			return nil, errors.Errorf("step %d has no name", i)
		}
		if _, dup := c.byName[s.Name]; dup {
			return nil, errors.Errorf("duplicate step %q", s.Name)
		}
		if len(s.QuestionNumbers) == 0 {
			return nil, errors.Errorf("step %q has no question numbers", s.Name)
		}
		for _, n := range s.QuestionNumbers {
			if prev, taken := owner[n]; taken {
				return nil, errors.Errorf("question number %d used by steps %q and %q", n, prev, s.Name)
			}
			owner[n] = s.Name
		}
		c.byName[s.Name] = i
	}
	return &c, nil
}

// DefaultCatalog returns the built-in step catalog.
func DefaultCatalog() *Catalog {
	c, err := LoadCatalog(defaultSteps)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) Step(name string) (Step, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Step{}, false
	}
	return c.Steps[i], true
}

func (c *Catalog) First() Step { return c.Steps[0] }

// Next returns the step after s; ok is false on the last step.
func (c *Catalog) Next(s Step) (Step, bool) {
	if s.Index+1 >= len(c.Steps) {
		return Step{}, false
	}
	return c.Steps[s.Index+1], true
}

// Prev returns the step before s; ok is false on the first step.
func (c *Catalog) Prev(s Step) (Step, bool) {
	if s.Index <= 0 {
		return Step{}, false
	}
	return c.Steps[s.Index-1], true
}

// Path is the page route of s.
func (c *Catalog) Path(s Step) string { return c.BasePath + "/" + s.Name }

// StepForNumber finds the step rendering question number n.
func (c *Catalog) StepForNumber(n int) (Step, bool) {
	for _, s := range c.Steps {
		for _, sn := range s.QuestionNumbers {
			if sn == n {
				return s, true
			}
		}
	}
	return Step{}, false
}

// AllNumbers returns every question number in step order.
func (c *Catalog) AllNumbers() []int {
	var out []int
	for _, s := range c.Steps {
		out = append(out, s.QuestionNumbers...)
	}
	return out
}
