// Package policy classifies prompts before they reach the generation service.
package policy

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Verdict is the outcome of classifying a prompt.
type Verdict int

const (
	Allow Verdict = iota
	Block
)

func (v Verdict) String() string {
	if v == Block {
		return "block"
	}
	return "allow"
}

// Decision carries the verdict and, when blocked, the rule that matched.
type Decision struct {
	Verdict Verdict
	Rule    string
}

// Blocked reports whether the prompt must not be answered.
func (d Decision) Blocked() bool {
	return d.Verdict == Block
}

// Rule is one lexical pattern. Patterns are matched case-insensitively.
type Rule struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// DefaultRules detect requests for graded answers.
var DefaultRules = []Rule{
	{Name: "give-answer", Pattern: `just give (me )?the answer`},
	{Name: "what-is-answer", Pattern: `what('?s| is) the answer`},
	{Name: "solve-for-me", Pattern: `solve (this|it)( for me)?`},
	{Name: "final-answer", Pattern: `final answer`},
	{Name: "complete-solution", Pattern: `complete solution`},
	{Name: "graded-keyword", Pattern: `\bhomework\b|\bhw\b|\bmidterm\b|\bfinal\b|\bexam\b`},
	{Name: "do-it-for-me", Pattern: `do it for me`},
}

type compiledRule struct {
	name string
	re   *regexp.Regexp
}

// Gate is a stateless classifier over prompt text. It is safe for concurrent use.
type Gate struct {
	rules []compiledRule
}

// NewGate compiles rules. An empty rule set allows everything.
func NewGate(rules []Rule) (*Gate, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for i, rule := range rules {
		pattern := strings.TrimSpace(rule.Pattern)
		if pattern == "" {
			return nil, fmt.Errorf("policy rule %d (%s): empty pattern", i, rule.Name)
		}
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("policy rule %d (%s): %w", i, rule.Name, err)
		}
		name := rule.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i)
		}
		compiled = append(compiled, compiledRule{name: name, re: re})
	}
	return &Gate{rules: compiled}, nil
}

// MustDefault returns a gate over DefaultRules.
func MustDefault() *Gate {
	gate, err := NewGate(DefaultRules)
	if err != nil {
		panic(err)
	}
	return gate
}

// Classify returns Block when any rule matches text. The first matching rule
// in declaration order is reported.
func (g *Gate) Classify(text string) Decision {
	if g == nil {
		return Decision{Verdict: Allow}
	}
	for _, rule := range g.rules {
		if rule.re.MatchString(text) {
			return Decision{Verdict: Block, Rule: rule.name}
		}
	}
	return Decision{Verdict: Allow}
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a YAML rule set:
//
//	rules:
//	  - name: final-answer
//	    pattern: final answer
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes a YAML rule set.
func ParseRules(data []byte) ([]Rule, error) {
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse policy rules: %w", err)
	}
	return file.Rules, nil
}

// FromFile builds a gate from path, falling back to DefaultRules when path is empty.
func FromFile(path string) (*Gate, error) {
	if strings.TrimSpace(path) == "" {
		return NewGate(DefaultRules)
	}
	rules, err := LoadRules(path)
	if err != nil {
		return nil, err
	}
	return NewGate(rules)
}
