// Package guardrail screens each user turn before it reaches the conversation
// state machine.
//
// Text is normalized (Unicode NFKC, case folding, whitespace collapse) and then
// matched against weighted patterns in three categories: prompt injection,
// fraud / policy bypass, and unsafe content. The score is the strongest signal
// plus a small boost for every additional one. Turns at or above the threshold
// are denied with a general, category-level reason; pattern names never leave
// this package.
package guardrail

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Category groups related detection signals.
type Category string

const (
	CategoryNone      Category = ""
	CategoryInjection Category = "injection"
	CategoryFraud     Category = "fraud"
	CategoryUnsafe    Category = "unsafe"
)

// DefaultThreshold is the score at which a turn is denied.
const DefaultThreshold = 0.7

// DefaultMaxStrikes is how many denied turns a session tolerates before it is
// escalated to a human.
const DefaultMaxStrikes = 3

// Verdict is the outcome of inspecting one turn.
type Verdict struct {
	Allowed  bool     `json:"allowed"`
	Category Category `json:"category,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Score    float64  `json:"score"`
}

// SessionContext is what the filter may know about the conversation.
type SessionContext struct {
	SessionID string
	CaseID    string
	Stage     string
	Strikes   int
}

type signal struct {
	re       *regexp.Regexp
	category Category
	weight   float64
}

var injectionSignals = []signal{
	{regexp.MustCompile(`\b(ignore|disregard|forget)\s+(all\s+)?(previous|prior|above|earlier|your|the)\s+(instructions?|rules?|prompts?|guidelines?|polic(y|ies))`), CategoryInjection, 0.9},
	{regexp.MustCompile(`\byou\s+are\s+now\s+(a|an|my|the)\s+`), CategoryInjection, 0.7},
	{regexp.MustCompile(`\b(new\s+role|new\s+instructions?|system\s*prompt)\s*:|<<\s*sys(tem)?\s*>>`), CategoryInjection, 0.9},
	{regexp.MustCompile(`\boverride\s+(your\s+|the\s+)?(system|instructions?|rules?|safety|policy|guidelines?)`), CategoryInjection, 0.8},
	{regexp.MustCompile(`\b(reveal|show|print|repeat|tell\s+me)\s+(me\s+)?(your\s+|the\s+)?(system\s+prompt|instructions|hidden\s+prompt|internal\s+rules)`), CategoryInjection, 0.8},
	{regexp.MustCompile(`\[/?inst\]|\[/?sys\]|<\|im_(start|end)\|>|<\|(system|user|assistant)\|>|###\s*(system|instruction|assistant)\s*:`), CategoryInjection, 0.9},
	{regexp.MustCompile(`\b(jailbreak|dan\s*mode|developer\s*mode|god\s*mode)\b`), CategoryInjection, 0.9},
	{regexp.MustCompile(`\b(act|pretend)\s+(as|like|to\s+be)\s+(an?\s+)?(admin|administrator|supervisor|manager|agent\s+with)`), CategoryInjection, 0.7},
}

var fraudSignals = []signal{
	{regexp.MustCompile(`\b(skip|bypass|avoid|disable)\s+(the\s+)?(verification|validation|checks?|evidence|policy|return\s+window)`), CategoryFraud, 0.8},
	{regexp.MustCompile(`\b(fake|forge|fabricate|photoshop|edit|doctor)\s+(a\s+|the\s+|my\s+)?(photo|picture|image|evidence|receipt|damage)`), CategoryFraud, 0.9},
	{regexp.MustCompile(`\brefund\s+(me\s+)?without\s+(returning|sending|a\s+return)`), CategoryFraud, 0.8},
	{regexp.MustCompile(`\b(keep\s+the\s+item\s+and\s+(get|give)|double\s+refund|refund\s+twice)`), CategoryFraud, 0.8},
	{regexp.MustCompile(`\b(other|another|all)\s+(customers?|users?)('?s)?\s+(orders?|emails?|data|details|addresses)`), CategoryFraud, 0.8},
	{regexp.MustCompile(`\b(approve|force)\s+(the\s+|my\s+)?(refund|return)\s+(anyway|regardless|no\s+matter)`), CategoryFraud, 0.7},
}

var unsafeSignals = []signal{
	{regexp.MustCompile(`\b(kill|hurt|attack|shoot|stab)\s+(you|him|her|them|someone|the\s+courier|the\s+driver)`), CategoryUnsafe, 0.9},
	{regexp.MustCompile(`\b(bomb|explosive|weapon)\b`), CategoryUnsafe, 0.7},
	{regexp.MustCompile(`\b(kill\s+myself|suicide|self[\s-]?harm)\b`), CategoryUnsafe, 0.8},
}

var allSignals []signal

func init() {
	allSignals = make([]signal, 0, len(injectionSignals)+len(fraudSignals)+len(unsafeSignals))
	allSignals = append(allSignals, injectionSignals...)
	allSignals = append(allSignals, fraudSignals...)
	allSignals = append(allSignals, unsafeSignals...)
}

// general deny messages, one per category
var denyReasons = map[Category]string{
	CategoryInjection: "Your message looks like an attempt to change how this assistant works. Please describe your order issue instead.",
	CategoryFraud:     "I can't help with requests to bypass verification or policy. I can help with an eligible return, refund or replacement.",
	CategoryUnsafe:    "I can't continue with that message. If you need urgent help, please contact local emergency services.",
}

// Filter inspects user turns. The zero value uses DefaultThreshold.
type Filter struct {
	Threshold  float64
	MaxStrikes int
}

// New returns a filter with the given threshold and strike limit. Non-positive
// values select the defaults.
func New(threshold float64, maxStrikes int) *Filter {
	return &Filter{Threshold: threshold, MaxStrikes: maxStrikes}
}

func (f *Filter) threshold() float64 {
	if f == nil || f.Threshold <= 0 {
		return DefaultThreshold
	}
	return f.Threshold
}

// StrikeLimit returns the number of denials after which a session escalates.
func (f *Filter) StrikeLimit() int {
	if f == nil || f.MaxStrikes <= 0 {
		return DefaultMaxStrikes
	}
	return f.MaxStrikes
}

// Exhausted reports whether strikes has reached the limit.
func (f *Filter) Exhausted(strikes int) bool { return strikes >= f.StrikeLimit() }

// Inspect scores text and returns a verdict. Empty text always passes so that
// structured-only turns (button presses, uploads) are never blocked.
func (f *Filter) Inspect(text string, _ SessionContext) Verdict {
	s := Normalize(text)
	if s == "" {
		return Verdict{Allowed: true}
	}

	var (
		hits     int
		maxW     float64
		category Category
	)
	for _, sig := range allSignals {
		if !sig.re.MatchString(s) {
			continue
		}
		hits++
		if sig.weight > maxW {
			maxW = sig.weight
			category = sig.category
		}
	}
	if hits == 0 {
		return Verdict{Allowed: true}
	}

	score := maxW + float64(hits-1)*0.1
	if score > 1.0 {
		score = 1.0
	}
	if score < f.threshold() {
		return Verdict{Allowed: true, Score: score}
	}
	return Verdict{Allowed: false, Category: category, Reason: denyReasons[category], Score: score}
}

var spaces = regexp.MustCompile(`\s+`)

// Normalize applies NFKC, Unicode case folding and whitespace collapse.
// Full-width and mixed-case spellings therefore match the same patterns.
// Casers are stateful, so one is built per call.
func Normalize(text string) string {
	s := norm.NFKC.String(text)
	s = cases.Fold().String(s)
	s = spaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Keyword normalizes text for exact keyword comparison (exit and status
// words), lower-casing instead of folding.
func Keyword(text string) string {
	s := cases.Lower(language.Und).String(norm.NFKC.String(text))
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}
