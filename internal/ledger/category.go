package ledger

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Other is the category assigned when no keyword matches.
const Other = "other"

//go:embed categories.yaml
var defaultCategoriesYAML []byte

// CategoryRule maps a category name to the keywords that select it.
type CategoryRule struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// CategoryTable holds the ordered rules for each record kind.
type CategoryTable struct {
	Expense []CategoryRule `yaml:"expense"`
	Income  []CategoryRule `yaml:"income"`
}

// Categorizer assigns categories from descriptions. It is safe for
// concurrent use once constructed.
type Categorizer struct {
	table CategoryTable
}

// DefaultCategorizer returns a Categorizer using the built-in keyword table.
func DefaultCategorizer() *Categorizer {
	c, err := ParseCategories(defaultCategoriesYAML)
	if err != nil {
		panic(fmt.Sprintf("ledger: built-in category table is invalid: %v", err))
	}
	return c
}

// LoadCategories reads a category table from a YAML file.
func LoadCategories(path string) (*Categorizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading categories file: %w", err)
	}
	return ParseCategories(data)
}

// ParseCategories decodes a YAML category table.
func ParseCategories(data []byte) (*Categorizer, error) {
	var t CategoryTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing categories: %w", err)
	}
	for _, rules := range [][]CategoryRule{t.Expense, t.Income} {
		for i := range rules {
			if rules[i].Name == "" {
				return nil, fmt.Errorf("category rule %d has no name", i)
			}
			for j, kw := range rules[i].Keywords {
				rules[i].Keywords[j] = strings.ToLower(kw)
			}
		}
	}
	return &Categorizer{table: t}, nil
}

// Categorize returns the first category whose keyword occurs in the
// lower-cased description, or Other.
func (c *Categorizer) Categorize(kind Kind, description string) string {
	rules := c.table.Expense
	if kind == Income {
		rules = c.table.Income
	}
	desc := strings.ToLower(description)
	for _, rule := range rules {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(desc, kw) {
				return rule.Name
			}
		}
	}
	return Other
}
