// Package evaluate scores post text with lexicon heuristics.
package evaluate

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Evaluator produces a sentiment and topic readout for a post. It is a
// deterministic lexicon scorer so the evaluate pipeline works offline.
type Evaluator struct{}

// New creates an Evaluator.
func New() *Evaluator {
	return &Evaluator{}
}

var positiveTerms = []string{
	"support", "proud", "win", "great", "thank", "progress", "success",
	"bipartisan", "passed", "historic",
}

var negativeTerms = []string{
	"against", "fail", "crisis", "attack", "corrupt", "shame", "disaster",
	"blocked", "vetoed", "outrage",
}

var topicTerms = map[string][]string{
	"economy":     {"economy", "jobs", "inflation", "tax", "budget", "wages"},
	"healthcare":  {"health", "medicare", "medicaid", "insurance", "hospital"},
	"environment": {"climate", "energy", "emissions", "environment", "drilling"},
	"immigration": {"border", "immigration", "visa", "asylum"},
	"elections":   {"vote", "ballot", "election", "campaign", "poll"},
}

// Evaluate scores a single post.
func (Evaluator) Evaluate(ctx context.Context, post string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("evaluate canceled: %w", err)
	}
	if strings.TrimSpace(post) == "" {
		return nil, fmt.Errorf("post text is empty")
	}

	lower := strings.ToLower(post)
	score := 0
	for _, term := range positiveTerms {
		score += strings.Count(lower, term)
	}
	for _, term := range negativeTerms {
		score -= strings.Count(lower, term)
	}

	sentiment := "neutral"
	switch {
	case score > 0:
		sentiment = "positive"
	case score < 0:
		sentiment = "negative"
	}

	topics := []string{}
	for topic, terms := range topicTerms {
		for _, term := range terms {
			if strings.Contains(lower, term) {
				topics = append(topics, topic)
				break
			}
		}
	}
	sort.Strings(topics)

	return map[string]any{
		"sentiment":       sentiment,
		"sentiment_score": score,
		"topics":          topics,
		"length":          len(post),
	}, nil
}
