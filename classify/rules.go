package classify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// Rule is a pattern for one label. Patterns use .NET syntax, so lookarounds
// are available to anchor matches on token boundaries.
type Rule struct {
	Label   string
	Pattern string
	// Score is reported for every match; zero means 1.
	Score float64
	// Validate, when set, rejects matches that fit the pattern but not the format.
	Validate func(match string) bool
}

// DefaultRules detect common personal data.
func DefaultRules() []Rule {
	return []Rule{
		{Label: "EMAIL", Pattern: `(?<![\w.%+-])[A-Za-z0-9._%+-]+@[A-Za-z0-9-]+(?:\.[A-Za-z0-9-]+)*\.[A-Za-z]{2,}(?![\w-])`},
		{Label: "SSN", Pattern: `(?<![\d-])(?!000|666|9\d\d)\d{3}-(?!00)\d{2}-(?!0000)\d{4}(?![\d-])`},
		{Label: "CREDIT_CARD", Pattern: `(?<![\d-])\d(?:[ -]?\d){12,18}(?![\d-])`, Validate: Luhn},
		{Label: "PHONE", Pattern: `(?<![\w+])(?:\+?1[ .-]?)?(?:\(\d{3}\) ?|\d{3}[ .-]?)\d{3}[ .-]?\d{4}(?!\d)`, Score: 0.9},
		{Label: "IPV4", Pattern: `(?<![\d.])(?:(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\.){3}(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)(?!\.?\d)`, Score: 0.85},
	}
}

type compiledRule struct {
	Rule
	re *regexp2.Regexp
}

// RuleClassifier matches compiled rules. Earlier rules win when matches overlap.
type RuleClassifier struct {
	rules []compiledRule
}

// NewRuleClassifier compiles rules. timeout bounds each match attempt; zero
// means one second.
func NewRuleClassifier(rules []Rule, timeout time.Duration) (*RuleClassifier, error) {
	if timeout <= 0 {
		timeout = time.Second
	}
	out := &RuleClassifier{}
	for _, r := range rules {
		if r.Label == "" {
			return nil, fmt.Errorf("rule %q has no label", r.Pattern)
		}
		re, err := regexp2.Compile(r.Pattern, regexp2.None)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.Label, err)
		}
		re.MatchTimeout = timeout
		if r.Score <= 0 {
			r.Score = 1
		}
		out.rules = append(out.rules, compiledRule{Rule: r, re: re})
	}
	return out, nil
}

func (c *RuleClassifier) Name() string { return "rules" }

func (c *RuleClassifier) Classify(ctx context.Context, text string) ([]Annotation, error) {
	runes := []rune(text)
	taken := make([]bool, len(runes))
	var out []Annotation
	for _, r := range c.rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := r.re.FindRunesMatch(runes)
		for ; m != nil && err == nil; m, err = r.re.FindNextMatch(m) {
			start, end := m.Index, m.Index+m.Length
			match := m.String()
			if r.Validate != nil && !r.Validate(match) {
				continue
			}
			if overlaps(taken, start, end) {
				continue
			}
			for i := start; i < end; i++ {
				taken[i] = true
			}
			out = append(out, Annotation{Label: r.Label, Text: match, Score: r.Score, Start: start, End: end})
		}
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.Label, err)
		}
	}
	sortAnnotations(out)
	return out, nil
}

func overlaps(taken []bool, start, end int) bool {
	for i := start; i < end; i++ {
		if taken[i] {
			return true
		}
	}
	return false
}

// Luhn reports whether the digits of s pass the Luhn checksum. Spaces and
// hyphens are ignored.
func Luhn(s string) bool {
	digits := strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, s)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
