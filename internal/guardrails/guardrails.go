// Package guardrails validates queries before the router classifies them.
//
// Rules are evaluated in order against the query text:
//   - max_length: character/word limits
//   - prompt_injection: heuristic prompt injection detection
//   - content_filter: keyword/phrase blocklist
//   - regex_filter: custom regex pattern matching
//   - pii_detection: regex-based detection of emails, phone numbers, keys
//
// A rule whose action is "warn" adds a warning instead of rejecting.
package guardrails

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kloudping-venkat/DevopsMate/internal/apperr"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
)

// Kind names a rule type.
type Kind string

const (
	KindMaxLength       Kind = "max_length"
	KindPromptInjection Kind = "prompt_injection"
	KindContentFilter   Kind = "content_filter"
	KindRegexFilter     Kind = "regex_filter"
	KindPIIDetection    Kind = "pii_detection"
)

// Rule is one configured check.
type Rule struct {
	Kind   Kind           `yaml:"kind" json:"kind"`
	Action string         `yaml:"action" json:"action,omitempty"` // "block" (default) or "warn"
	Config map[string]any `yaml:"config" json:"config,omitempty"`
}

// Result is the outcome of one rule.
type Result struct {
	Passed  bool   `json:"passed"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message,omitempty"`
}

// Limits bound the structural parts of a query.
type Limits struct {
	MaxMetadataEntries  int
	MaxMetadataKeyLen   int
	MaxMetadataValueLen int
}

// DefaultLimits are used for zero fields.
var DefaultLimits = Limits{
	MaxMetadataEntries:  32,
	MaxMetadataKeyLen:   64,
	MaxMetadataValueLen: 2048,
}

// DefaultRules apply when no rules are configured.
func DefaultRules() []Rule {
	return []Rule{
		{Kind: KindMaxLength, Config: map[string]any{"max_characters": 8000}},
		{Kind: KindPromptInjection, Config: map[string]any{"sensitivity": "medium"}},
		{Kind: KindPIIDetection, Action: "warn", Config: map[string]any{"patterns": []any{"aws_key", "private_key"}}},
	}
}

// Validator checks queries against rules and limits.
type Validator struct {
	rules  []Rule
	limits Limits
}

// NewValidator creates a validator. A nil rules slice means DefaultRules.
func NewValidator(rules []Rule, limits Limits) *Validator {
	if rules == nil {
		rules = DefaultRules()
	}
	if limits.MaxMetadataEntries <= 0 {
		limits.MaxMetadataEntries = DefaultLimits.MaxMetadataEntries
	}
	if limits.MaxMetadataKeyLen <= 0 {
		limits.MaxMetadataKeyLen = DefaultLimits.MaxMetadataKeyLen
	}
	if limits.MaxMetadataValueLen <= 0 {
		limits.MaxMetadataValueLen = DefaultLimits.MaxMetadataValueLen
	}
	return &Validator{rules: rules, limits: limits}
}

// Validate returns warnings for "warn" rules that fired, or a
// ValidationError for the first blocking violation.
func (v *Validator) Validate(q *models.Query) ([]string, error) {
	const op = "guardrails.Validate"

	if strings.TrimSpace(q.Text) == "" {
		return nil, apperr.Validation(op, "query text is empty")
	}
	if !utf8.ValidString(q.Text) {
		return nil, apperr.Validation(op, "query text is not valid UTF-8")
	}
	if len(q.Metadata) > v.limits.MaxMetadataEntries {
		return nil, apperr.Validation(op, "too many metadata entries (%d > %d)", len(q.Metadata), v.limits.MaxMetadataEntries)
	}
	for k, val := range q.Metadata {
		if k == "" || len(k) > v.limits.MaxMetadataKeyLen {
			return nil, apperr.Validation(op, "invalid metadata key %q", k)
		}
		if len(val) > v.limits.MaxMetadataValueLen {
			return nil, apperr.Validation(op, "metadata %q exceeds %d bytes", k, v.limits.MaxMetadataValueLen)
		}
	}

	var warnings []string
	for i, r := range v.Evaluate(q.Text) {
		if r.Passed {
			continue
		}
		if v.rules[i].Action == "warn" {
			warnings = append(warnings, "guardrail "+string(r.Kind)+": "+r.Message)
			continue
		}
		return warnings, apperr.Validation(op, "%s", r.Message)
	}
	return warnings, nil
}

// Evaluate runs every rule against text.
func (v *Validator) Evaluate(text string) []Result {
	results := make([]Result, 0, len(v.rules))
	for _, g := range v.rules {
		results = append(results, evaluateOne(g, text))
	}
	return results
}

// evaluateOne dispatches a single rule evaluation.
func evaluateOne(g Rule, text string) Result {
	switch g.Kind {
	case KindContentFilter:
		return evalContentFilter(g, text)
	case KindPIIDetection:
		return evalPIIDetection(g, text)
	case KindMaxLength:
		return evalMaxLength(g, text)
	case KindRegexFilter:
		return evalRegexFilter(g, text)
	case KindPromptInjection:
		return evalPromptInjection(g, text)
	default:
		return Result{Passed: true, Kind: g.Kind, Message: "unknown guardrail kind"}
	}
}

// ── Content Filter ──────────────────────────────────────────
// Config: { "blocked_words": ["word1", "word2"], "case_sensitive": false }

func evalContentFilter(g Rule, text string) Result {
	blockedRaw, _ := g.Config["blocked_words"].([]any)
	caseSensitive, _ := g.Config["case_sensitive"].(bool)

	checkText := text
	if !caseSensitive {
		checkText = strings.ToLower(text)
	}

	for _, bRaw := range blockedRaw {
		word, ok := bRaw.(string)
		if !ok {
			continue
		}
		checkWord := word
		if !caseSensitive {
			checkWord = strings.ToLower(word)
		}
		if strings.Contains(checkText, checkWord) {
			return Result{
				Passed:  false,
				Kind:    g.Kind,
				Message: "Blocked content detected: contains prohibited word/phrase",
			}
		}
	}

	return Result{Passed: true, Kind: g.Kind}
}

// ── PII Detection ───────────────────────────────────────────
// Config: { "patterns": ["email", "phone", "ssn", "credit_card"] }
// If "patterns" is empty, all built-in patterns are checked.

var builtInPIIPatterns = map[string]*regexp.Regexp{
	"email":       regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	"phone":       regexp.MustCompile(`(\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`),
	"ssn":         regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	"credit_card": regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`),
	"aws_key":     regexp.MustCompile(`\b(AKIA|ASIA)[0-9A-Z]{16}\b`),
	"private_key": regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
}

func evalPIIDetection(g Rule, text string) Result {
	patternsRaw, _ := g.Config["patterns"].([]any)

	// Determine which patterns to check
	var patternsToCheck []string
	if len(patternsRaw) > 0 {
		for _, p := range patternsRaw {
			if s, ok := p.(string); ok {
				patternsToCheck = append(patternsToCheck, s)
			}
		}
	} else {
		// Check all built-in patterns
		for k := range builtInPIIPatterns {
			patternsToCheck = append(patternsToCheck, k)
		}
	}

	for _, name := range patternsToCheck {
		re, ok := builtInPIIPatterns[name]
		if !ok {
			continue
		}
		if re.MatchString(text) {
			return Result{
				Passed:  false,
				Kind:    g.Kind,
				Message: "PII detected: " + name + " pattern matched",
			}
		}
	}

	return Result{Passed: true, Kind: g.Kind}
}

// ── Max Length ───────────────────────────────────────────────
// Config: { "max_characters": 5000, "max_words": 1000 }

func evalMaxLength(g Rule, text string) Result {
	if maxChars, ok := getIntConfig(g.Config, "max_characters"); ok && maxChars > 0 {
		if utf8.RuneCountInString(text) > maxChars {
			return Result{
				Passed:  false,
				Kind:    g.Kind,
				Message: "Message exceeds maximum character limit",
			}
		}
	}

	if maxWords, ok := getIntConfig(g.Config, "max_words"); ok && maxWords > 0 {
		wordCount := len(strings.Fields(text))
		if wordCount > maxWords {
			return Result{
				Passed:  false,
				Kind:    g.Kind,
				Message: "Message exceeds maximum word limit",
			}
		}
	}

	return Result{Passed: true, Kind: g.Kind}
}

// ── Regex Filter ────────────────────────────────────────────
// Config: { "pattern": "regex_string", "block_on_match": true }

func evalRegexFilter(g Rule, text string) Result {
	pattern, _ := g.Config["pattern"].(string)
	if pattern == "" {
		return Result{Passed: true, Kind: g.Kind}
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return Result{
			Passed:  true,
			Kind:    g.Kind,
			Message: "Invalid regex pattern: " + err.Error(),
		}
	}

	blockOnMatch := true // default: block when regex matches
	if b, ok := g.Config["block_on_match"].(bool); ok {
		blockOnMatch = b
	}

	matched := re.MatchString(text)
	if matched && blockOnMatch {
		return Result{
			Passed:  false,
			Kind:    g.Kind,
			Message: "Content matched blocked regex pattern",
		}
	}
	if !matched && !blockOnMatch {
		return Result{
			Passed:  false,
			Kind:    g.Kind,
			Message: "Content did not match required regex pattern",
		}
	}

	return Result{Passed: true, Kind: g.Kind}
}

// ── Prompt Injection Detection ──────────────────────────────
// Heuristic-based detection of common prompt injection patterns.
// Config: { "sensitivity": "high" | "medium" | "low" }

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?|directions?)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|above|your)\s+(instructions?|prompts?|rules?|context)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|my)\s+`),
	regexp.MustCompile(`(?i)new\s+instructions?:\s*`),
	regexp.MustCompile(`(?i)system\s*:\s*you\s+are`),
	regexp.MustCompile(`(?i)\bdo\s+anything\s+now\b`),
	regexp.MustCompile(`(?i)\bjailbreak\b`),
	regexp.MustCompile(`(?i)pretend\s+you\s+(are|have)\s+no\s+(restrictions?|rules?|guidelines?)`),
	regexp.MustCompile(`(?i)act\s+as\s+if\s+you\s+have\s+no\s+(restrictions?|rules?|filters?)`),
}

// Additional high-sensitivity patterns
var highSensitivityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)override\s+(your|the|all)\s+`),
	regexp.MustCompile(`(?i)bypass\s+(your|the|all)\s+`),
	regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system\s+)?(prompt|instructions?)`),
	regexp.MustCompile(`(?i)what\s+(is|are)\s+your\s+(system\s+)?(prompt|instructions?|rules?)`),
	regexp.MustCompile(`(?i)repeat\s+(your|the)\s+(system\s+)?(prompt|instructions?)\s+verbatim`),
}

func evalPromptInjection(g Rule, text string) Result {
	sensitivity, _ := g.Config["sensitivity"].(string)
	if sensitivity == "" {
		sensitivity = "medium"
	}

	// Always check base patterns
	for _, re := range injectionPatterns {
		if re.MatchString(text) {
			return Result{
				Passed:  false,
				Kind:    g.Kind,
				Message: "Potential prompt injection detected",
			}
		}
	}

	// High sensitivity also checks additional patterns
	if sensitivity == "high" {
		for _, re := range highSensitivityPatterns {
			if re.MatchString(text) {
				return Result{
					Passed:  false,
					Kind:    g.Kind,
					Message: "Potential prompt injection detected (high sensitivity)",
				}
			}
		}
	}

	return Result{Passed: true, Kind: g.Kind}
}

// ── Helpers ─────────────────────────────────────────────────

// getIntConfig extracts an integer from a config map (handles float64 from JSON).
func getIntConfig(config map[string]any, key string) (int, bool) {
	v, ok := config[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}
