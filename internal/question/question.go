// Package question defines the terminal records of a generation run.
package question

import "sort"

// Type classifies a multiple-choice question.
type Type string

const (
	// Computation applies one rule to a scenario.
	Computation Type = "computation"
	// Chain threads several rules, possibly across sections.
	Chain Type = "chain"
	// Recall asks for a value a rule states.
	Recall Type = "recall"
	// Definition asks which term a definition defines.
	Definition Type = "definition"
)

// Types lists every question type in a fixed order.
func Types() []Type {
	return []Type{Computation, Chain, Recall, Definition}
}

// Question is an accepted multiple-choice item. It is never modified after
// the gate accepts it.
type Question struct {
	ID                 string   `json:"id"`
	Section            string   `json:"section"`
	Citation           string   `json:"citation"`
	Type               Type     `json:"type"`
	Template           string   `json:"template,omitempty"`
	Scenario           string   `json:"scenario"`
	Question           string   `json:"question"`
	Choices            []string `json:"choices"`
	CorrectChoiceIndex int      `json:"correct_choice_index"`
	AnswerExplanation  string   `json:"answer_explanation"`
	Difficulty         int      `json:"difficulty"`
	SourceRules        []string `json:"source_rules"`
}

// Answer returns the correct choice, or "" when the index is out of range.
func (q Question) Answer() string {
	if q.CorrectChoiceIndex < 0 || q.CorrectChoiceIndex >= len(q.Choices) {
		return ""
	}
	return q.Choices[q.CorrectChoiceIndex]
}

// EntailmentCase is an accepted logical-entailment item.
type EntailmentCase struct {
	ID          string   `json:"id"`
	Section     string   `json:"section"`
	Citation    string   `json:"citation"`
	Template    string   `json:"template,omitempty"`
	Scenario    string   `json:"scenario"`
	Question    string   `json:"question"`
	Facts       []string `json:"facts"`
	Query       string   `json:"query"`
	Answer      string   `json:"answer"`
	Difficulty  int      `json:"difficulty"`
	SourceRules []string `json:"source_rules"`
}

// SortQuestions orders questions by id.
func SortQuestions(qs []Question) {
	sort.Slice(qs, func(i, j int) bool { return qs[i].ID < qs[j].ID })
}

// SortCases orders entailment cases by id.
func SortCases(cs []EntailmentCase) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].ID < cs[j].ID })
}
