package secrets

import (
	"context"
	"fmt"
	"sort"
	"strings"

	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksregexp "github.com/zricethezav/gitleaks/v8/regexp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragstore/internal/logging"
)

// Finding locates one redacted secret. The secret itself is never kept.
type Finding struct {
	RuleID string `json:"rule_id"`
	// Start and End are byte offsets into the scrubbed input.
	Start int `json:"start"`
	End   int `json:"end"`
	Line  int `json:"line"`
}

// Report summarizes one Scrub call.
type Report struct {
	Findings []Finding     `json:"findings,omitempty"`
	ByRule   map[string]int `json:"by_rule,omitempty"`
}

// Total returns the number of findings.
func (r Report) Total() int {
	return len(r.Findings)
}

// Scrubber redacts secrets. It is safe for concurrent use.
type Scrubber struct {
	allow    *Allowlist
	rules    []Rule
	gitleaks bool
	logger   *logging.Logger
}

// Option configures a Scrubber.
type Option func(*Scrubber)

// WithAllowlist exempts matches listed in a.
func WithAllowlist(a *Allowlist) Option {
	return func(s *Scrubber) { s.allow = a }
}

// WithRules replaces the builtin rules.
func WithRules(rules []Rule) Option {
	return func(s *Scrubber) { s.rules = rules }
}

// WithoutGitleaks runs only the builtin rules.
func WithoutGitleaks() Option {
	return func(s *Scrubber) { s.gitleaks = false }
}

// WithLogger sets the scrubber logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scrubber) { s.logger = l }
}

// New returns a Scrubber using gitleaks and the builtin rules.
func New(opts ...Option) (*Scrubber, error) {
	s := &Scrubber{
		allow:    &Allowlist{},
		rules:    BuiltinRules(),
		gitleaks: true,
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.allow.compile(); err != nil {
		return nil, err
	}
	return s, nil
}

// Scrub replaces every detected secret in text with [REDACTED:<rule>].
// Text from a source matching an allowlisted path is returned unchanged.
func (s *Scrubber) Scrub(ctx context.Context, source, text string) (string, Report, error) {
	report := Report{ByRule: map[string]int{}}
	if text == "" || s.allow.allowsSource(source) {
		return text, report, nil
	}

	spans, err := s.detect(text)
	if err != nil {
		return "", Report{}, err
	}
	if len(spans) == 0 {
		return text, report, nil
	}

	spans = mergeSpans(spans)
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, sp := range spans {
		b.WriteString(text[last:sp.Start])
		fmt.Fprintf(&b, "[REDACTED:%s]", sp.RuleID)
		last = sp.End
		sp.Line = strings.Count(text[:sp.Start], "\n") + 1
		report.Findings = append(report.Findings, sp)
		report.ByRule[sp.RuleID]++
	}
	b.WriteString(text[last:])

	s.logger.Info(ctx, "redacted secrets from document",
		zap.String("source", source),
		zap.Int("findings", report.Total()),
		zap.Any("by_rule", report.ByRule))
	return b.String(), report, nil
}

func (s *Scrubber) detect(text string) ([]Finding, error) {
	var spans []Finding
	lower := strings.ToLower(text)
	for _, r := range s.rules {
		if !r.applies(lower) {
			continue
		}
		for _, loc := range r.Pattern.FindAllStringIndex(text, -1) {
			if s.allow.allowsMatch(text[loc[0]:loc[1]]) {
				continue
			}
			spans = append(spans, Finding{RuleID: r.ID, Start: loc[0], End: loc[1]})
		}
	}

	if s.gitleaks {
		found, err := s.detectGitleaks(text)
		if err != nil {
			return nil, err
		}
		spans = append(spans, found...)
	}
	return spans, nil
}

// detectGitleaks runs the gitleaks default configuration. Findings are
// located by searching for the reported secret, so every occurrence of a
// leaked value is covered.
func (s *Scrubber) detectGitleaks(text string) ([]Finding, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("gitleaks detector: %w", err)
	}
	if len(s.allow.regexes) > 0 {
		applyAllowlist(&detector.Config, s.allow)
	}

	var spans []Finding
	seen := map[string]bool{}
	for _, f := range detector.DetectString(text) {
		if f.Secret == "" || seen[f.Secret] || s.allow.allowsMatch(f.Secret) {
			continue
		}
		seen[f.Secret] = true
		for off := 0; ; {
			i := strings.Index(text[off:], f.Secret)
			if i < 0 {
				break
			}
			start := off + i
			spans = append(spans, Finding{RuleID: f.RuleID, Start: start, End: start + len(f.Secret)})
			off = start + len(f.Secret)
		}
	}
	return spans, nil
}

func applyAllowlist(cfg *gitleaksconfig.Config, a *Allowlist) {
	al := &gitleaksconfig.Allowlist{Description: "ragstore allowlist"}
	for _, re := range a.regexes {
		al.Regexes = append(al.Regexes, (*gitleaksregexp.Regexp)(re))
	}
	cfg.Allowlists = append(cfg.Allowlists, al)
}

// mergeSpans sorts spans and folds overlapping ones into the earliest.
func mergeSpans(spans []Finding) []Finding {
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End > spans[j].End
	})
	merged := []Finding{spans[0]}
	for _, sp := range spans[1:] {
		last := &merged[len(merged)-1]
		if sp.Start < last.End {
			if sp.End > last.End {
				last.End = sp.End
			}
			continue
		}
		merged = append(merged, sp)
	}
	return merged
}
