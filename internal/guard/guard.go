// Package guard screens tool arguments before they reach the upstream API.
//
// Rules live in patterns.yaml, embedded in the binary and compiled once by
// [New]. Two rule sets exist: a blocklist for CQL filter expressions and a
// list of prompt-injection phrases checked against every string argument.
// Rejections are returned as INVALID_INPUT envelope errors.
package guard

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/osngd/internal/envelope"
)

//go:embed patterns.yaml
var patternsYAML []byte

type rulesFile struct {
	Filter struct {
		MaxLength int         `yaml:"max_length"`
		Blocked   []ruleEntry `yaml:"blocked"`
	} `yaml:"filter"`
	PromptInjection []string `yaml:"prompt_injection"`
}

type ruleEntry struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Pattern     string `yaml:"pattern"`
}

type rule struct {
	name string
	re   *regexp.Regexp
}

// Guard holds the compiled rule sets. It is immutable after [New] and safe
// for concurrent use.
type Guard struct {
	maxFilterLen int
	blocked      []rule
	injection    []*regexp.Regexp
}

// New compiles the embedded rules.
func New() (*Guard, error) {
	return parse(patternsYAML)
}

func parse(data []byte) (*Guard, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("guard: decode rules: %w", err)
	}
	g := &Guard{maxFilterLen: f.Filter.MaxLength}
	if g.maxFilterLen <= 0 {
		g.maxFilterLen = 1000
	}
	for _, r := range f.Filter.Blocked {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("guard: compile filter rule %q: %w", r.Name, err)
		}
		g.blocked = append(g.blocked, rule{name: r.Name, re: re})
	}
	for i, p := range f.PromptInjection {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("guard: compile prompt_injection[%d]: %w", i, err)
		}
		g.injection = append(g.injection, re)
	}
	return g, nil
}

var (
	defaultGuard     *Guard
	defaultGuardOnce sync.Once
)

// Default returns a process-wide Guard built from the embedded rules. It
// panics if the embedded rules do not compile, which a unit test prevents.
func Default() *Guard {
	defaultGuardOnce.Do(func() {
		g, err := New()
		if err != nil {
			panic(err)
		}
		defaultGuard = g
	})
	return defaultGuard
}

// MaxFilterLength is the longest accepted filter expression.
func (g *Guard) MaxFilterLength() int { return g.maxFilterLen }

// CheckFilter validates a CQL filter expression. An empty filter is valid.
func (g *Guard) CheckFilter(filter string) error {
	if filter == "" {
		return nil
	}
	if len(filter) > g.maxFilterLen {
		return envelope.InvalidInput("Filter too long (%d characters, maximum %d)", len(filter), g.maxFilterLen)
	}
	for _, r := range g.blocked {
		if r.re.MatchString(filter) {
			return envelope.New(envelope.CodeInvalidInput,
				"Invalid input: Invalid filter: disallowed pattern ("+r.name+")",
				envelope.WithDetails(map[string]any{"rule": r.name}))
		}
	}
	if strings.Count(filter, "'")%2 != 0 || strings.Count(filter, `"`)%2 != 0 {
		return envelope.InvalidInput("Invalid filter: unmatched quotes")
	}
	if !balancedParens(filter) {
		return envelope.InvalidInput("Invalid filter: unbalanced parentheses")
	}
	return nil
}

// balancedParens checks parentheses outside single-quoted literals.
func balancedParens(s string) bool {
	depth := 0
	inQuote := false
	for _, r := range s {
		switch {
		case r == '\'':
			inQuote = !inQuote
		case inQuote:
		case r == '(':
			depth++
		case r == ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// DetectInjection reports whether s contains a prompt-injection phrase.
func (g *Guard) DetectInjection(s string) bool {
	for _, re := range g.injection {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// CheckArguments walks decoded tool arguments and rejects the call when any
// string value contains a prompt-injection phrase. Argument names are visited
// in sorted order so the reported name is deterministic.
func (g *Guard) CheckArguments(args map[string]any) error {
	names := make([]string, 0, len(args))
	for k := range args {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		if g.containsInjection(args[name]) {
			return envelope.New(envelope.CodeInvalidInput,
				fmt.Sprintf("Invalid input: Prompt injection detected in '%s'", name),
				envelope.WithDetails(map[string]any{"argument": name}))
		}
	}
	return nil
}

func (g *Guard) containsInjection(v any) bool {
	switch t := v.(type) {
	case string:
		return g.DetectInjection(t)
	case []any:
		for _, e := range t {
			if g.containsInjection(e) {
				return true
			}
		}
	case map[string]any:
		for _, e := range t {
			if g.containsInjection(e) {
				return true
			}
		}
	}
	return false
}
