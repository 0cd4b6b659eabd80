package service

import (
	"fmt"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"

	"github.com/scrolljustice/summons-server/internal/metrics"
)

type MockeryState string

const (
	MockeryStateNormal   MockeryState = "normal"
	MockeryStateDetected MockeryState = "mockery_detected"
)

// MockeryPhrases is ordered: when several phrases occur in one text, the one
// listed first is reported.
var MockeryPhrases = []string{
	"by what authority",
	"who gave you this authority",
	"you have no jurisdiction",
	"this court has no power",
	"i do not recognize this court",
	"i do not consent",
	"kangaroo court",
	"fake court",
	"you are not a real judge",
	"this is a joke",
	"clown court",
	"show me your credentials",
}

// MockeryResponse is returned for every detected phrase.
const MockeryResponse = "The Scroll has heard your challenge. A Fire Seal now rests upon this record, " +
	"and your words are entered into the permanent ledger of the court."

type MockeryResult struct {
	State                MockeryState `json:"state"`
	Detected             bool         `json:"detected"`
	TriggerPhrase        string       `json:"triggerPhrase,omitempty"`
	ResponseText         string       `json:"responseText,omitempty"`
	ShouldDeployFireSeal bool         `json:"shouldDeployFireSeal"`
}

type MockeryDetector struct {
	matcher *goahocorasick.Machine
	phrases []string
	rank    map[string]int
}

func NewMockeryDetector() (*MockeryDetector, error) {
	return newMockeryDetector(MockeryPhrases)
}

func newMockeryDetector(phrases []string) (*MockeryDetector, error) {
	if len(phrases) == 0 {
		return nil, fmt.Errorf("mockery detector needs at least one phrase")
	}

	rank := make(map[string]int, len(phrases))
	patterns := make([][]rune, 0, len(phrases))
	for i, phrase := range phrases {
		normalized := string(lowerRunes(phrase))
		if _, dup := rank[normalized]; dup {
			continue
		}
		rank[normalized] = i
		patterns = append(patterns, []rune(normalized))
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, fmt.Errorf("build mockery matcher: %w", err)
	}

	return &MockeryDetector{matcher: m, phrases: phrases, rank: rank}, nil
}

// Detect scans text case-insensitively. Among all phrases present the one
// earliest in the phrase list wins, regardless of where it occurs in text.
func (d *MockeryDetector) Detect(text string) MockeryResult {
	content := lowerRunes(text)
	if len(content) == 0 {
		return MockeryResult{State: MockeryStateNormal}
	}

	best := -1
	for _, term := range d.matcher.MultiPatternSearch(content, false) {
		idx, ok := d.rank[string(term.Word)]
		if !ok {
			continue
		}
		if best == -1 || idx < best {
			best = idx
		}
	}

	if best == -1 {
		return MockeryResult{State: MockeryStateNormal}
	}

	metrics.MockeryDetections.Inc()
	return MockeryResult{
		State:                MockeryStateDetected,
		Detected:             true,
		TriggerPhrase:        d.phrases[best],
		ResponseText:         MockeryResponse,
		ShouldDeployFireSeal: true,
	}
}

func lowerRunes(s string) []rune {
	runes := []rune(s)
	for i, r := range runes {
		runes[i] = unicode.ToLower(r)
	}
	return runes
}
