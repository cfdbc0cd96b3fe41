package classify

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minQueryLength = 3
	// noMatchConfidence is reported when no pattern fires at all.
	noMatchConfidence = 0.3
)

// Result is the outcome of classifying a single query.
type Result struct {
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
	Indicators []string `json:"indicators"`
}

type compiledPattern struct {
	expr   string
	re     *regexp.Regexp
	weight float64
}

// Classifier scores queries against a weighted keyword table. It holds no
// mutable state after construction and is safe for concurrent use.
type Classifier struct {
	order    []Category
	patterns []Pattern
	rules    map[Category][]compiledPattern
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithOrder overrides the category order used to break score ties.
func WithOrder(order ...Category) Option {
	return func(c *Classifier) {
		c.order = append([]Category(nil), order...)
	}
}

// WithPatterns replaces the built-in keyword table.
func WithPatterns(patterns []Pattern) Option {
	return func(c *Classifier) {
		c.patterns = append([]Pattern(nil), patterns...)
	}
}

// New compiles and validates the keyword table.
func New(opts ...Option) (*Classifier, error) {
	c := &Classifier{
		order:    append([]Category(nil), DefaultOrder...),
		patterns: DefaultPatterns(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.compile(); err != nil {
		return nil, err
	}
	return c, nil
}

// MustNew is like New but panics on an invalid table.
func MustNew(opts ...Option) *Classifier {
	c, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Classifier) compile() error {
	if len(c.order) == 0 {
		return fmt.Errorf("category order is empty")
	}
	known := make(map[Category]bool, len(c.order))
	for _, cat := range c.order {
		if cat == "" {
			return fmt.Errorf("category order contains an empty category")
		}
		if known[cat] {
			return fmt.Errorf("category %q listed twice in order", cat)
		}
		known[cat] = true
	}

	c.rules = make(map[Category][]compiledPattern, len(c.order))
	for i, p := range c.patterns {
		if !known[p.Category] {
			return fmt.Errorf("pattern %d (%q): category %q not in order", i, p.Expr, p.Category)
		}
		if !(p.Weight > 0) {
			return fmt.Errorf("pattern %d (%q): weight must be positive, got %v", i, p.Expr, p.Weight)
		}
		re, err := regexp.Compile(unicodeBoundaries(p.Expr))
		if err != nil {
			return fmt.Errorf("pattern %d (%q): %w", i, p.Expr, err)
		}
		if re.MatchString("") {
			return fmt.Errorf("pattern %d (%q): matches the empty string", i, p.Expr)
		}
		c.rules[p.Category] = append(c.rules[p.Category], compiledPattern{
			expr:   p.Expr,
			re:     re,
			weight: p.Weight,
		})
	}
	return nil
}

const (
	leftBoundary  = `(?:^|[^\p{L}\p{N}_])`
	rightBoundary = `(?:$|[^\p{L}\p{N}_])`
)

// unicodeBoundaries rewrites every \b in expr into a boundary that treats
// any Unicode letter or digit as a word character. RE2's \b only knows ASCII,
// so "écode" would otherwise match \bcode\b. A \b followed by a word token
// becomes a left boundary, anything else a right boundary.
func unicodeBoundaries(expr string) string {
	var sb strings.Builder
	for i := 0; i < len(expr); i++ {
		ch := expr[i]
		if ch != '\\' || i+1 >= len(expr) {
			sb.WriteByte(ch)
			continue
		}
		next := expr[i+1]
		i++
		if next != 'b' {
			sb.WriteByte(ch)
			sb.WriteByte(next)
			continue
		}
		if i+1 < len(expr) && startsWord(expr[i+1:]) {
			sb.WriteString(leftBoundary)
		} else {
			sb.WriteString(rightBoundary)
		}
	}
	return sb.String()
}

func startsWord(rest string) bool {
	r, _ := utf8.DecodeRuneInString(rest)
	return r == '(' || r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Order returns the tie-break order in effect.
func (c *Classifier) Order() []Category {
	return append([]Category(nil), c.order...)
}

// Classify scores the query and returns the winning category.
func (c *Classifier) Classify(query string) Result {
	if utf8.RuneCountInString(strings.TrimSpace(query)) < minQueryLength {
		return Result{Category: Factual, Confidence: 0, Indicators: []string{}}
	}

	queryLower := strings.ToLower(query)
	scores := make(map[Category]float64, len(c.order))
	matches := make(map[Category][]string, len(c.order))
	var total float64

	for _, cat := range c.order {
		for _, rule := range c.rules[cat] {
			if rule.re.MatchString(queryLower) {
				scores[cat] += rule.weight
				matches[cat] = append(matches[cat], rule.expr)
			}
		}
		total += scores[cat]
	}

	best := c.order[0]
	for _, cat := range c.order[1:] {
		if scores[cat] > scores[best] {
			best = cat
		}
	}

	if scores[best] == 0 {
		return Result{Category: Factual, Confidence: noMatchConfidence, Indicators: []string{}}
	}

	confidence := math.Min(scores[best]/(total+1e-6), 1.0)
	return Result{
		Category:   best,
		Confidence: clamp01(math.Round(confidence*100) / 100),
		Indicators: matches[best],
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
