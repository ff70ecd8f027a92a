package router

import "strings"

// Intent is one of the closed intent labels the classifier emits
// (spec §4.4 step 1).
type Intent string

const (
	IntentConversational Intent = "conversational"
	IntentSearch         Intent = "search"
	IntentCodeGeneration Intent = "code_generation"
	IntentDebugging      Intent = "debugging"
	IntentDocumentation  Intent = "documentation"
	IntentTesting        Intent = "testing"
	IntentArchitecture   Intent = "architecture"
	IntentResearch       Intent = "research"
	IntentOrchestration  Intent = "orchestration"
	IntentUnknown        Intent = "unknown"
)

// Classification is the classifier's output: one label plus a confidence.
type Classification struct {
	Intent     Intent
	Confidence float64
}

// heuristicRule is one fast-path keyword rule (spec §4.4 step 1a).
type heuristicRule struct {
	intent   Intent
	keywords []string
}

var heuristicRules = []heuristicRule{
	{IntentCodeGeneration, []string{"write a function", "implement", "generate code", "write code"}},
	{IntentDebugging, []string{"fix the bug", "why does this fail", "stack trace", "debug"}},
	{IntentDocumentation, []string{"write docs", "document", "readme", "docstring"}},
	{IntentTesting, []string{"write a test", "unit test", "test coverage", "write tests"}},
	{IntentArchitecture, []string{"system design", "architecture", "design a system"}},
	{IntentResearch, []string{"latest developments", "research", "state of the art", "survey of"}},
	{IntentOrchestration, []string{"coordinate", "orchestrate", "plan and execute"}},
	{IntentSearch, []string{"find", "search for", "look up"}},
	{IntentConversational, []string{"hello", "hi ", "how are you", "thanks"}},
}

// Classifier resolves a query to an Intent (spec §4.4 step 1): keyword
// rules first, LLM-backed fallback when rules are inconclusive.
type Classifier struct {
	fallback Fallback
}

// Fallback is the bounded-prompt LLM-backed path used when heuristic
// rules don't match (spec §4.4 "an LLM-backed fallback with a bounded
// prompt when rules are inconclusive").
type Fallback interface {
	Classify(query string) (Classification, error)
}

func NewClassifier(fallback Fallback) *Classifier {
	return &Classifier{fallback: fallback}
}

func (c *Classifier) Classify(query string) Classification {
	lower := strings.ToLower(query)
	for _, rule := range heuristicRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return Classification{Intent: rule.intent, Confidence: 0.9}
			}
		}
	}

	if c.fallback != nil {
		if result, err := c.fallback.Classify(query); err == nil {
			return result
		}
	}
	return Classification{Intent: IntentUnknown, Confidence: 0}
}
