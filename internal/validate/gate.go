// Package validate is the last stop before a candidate joins the output:
// schema and linkage checks, canonical-hash deduplication and difficulty.
package validate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"taxbench/internal/logging"
	"taxbench/internal/question"
)

// Reason is a rejection reason code.
type Reason string

const (
	ReasonSchema          Reason = "schema"
	ReasonDuplicateChoice Reason = "duplicate_choice"
	ReasonLinkage         Reason = "linkage"
	ReasonDuplicate       Reason = "duplicate"

	// ReasonCollision marks a candidate whose distractors could not be
	// made distinct. It never reaches the schema check with fewer choices.
	ReasonCollision Reason = "distractor_collision"
)

// Reasons lists every reason code in report order.
func Reasons() []Reason {
	return []Reason{ReasonSchema, ReasonDuplicateChoice, ReasonLinkage, ReasonDuplicate, ReasonCollision}
}

// Rejection is a candidate the gate refused. The batch goes on.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("rejected (%s): %s", r.Reason, r.Detail)
}

func reject(reason Reason, format string, args ...interface{}) error {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// ErrSeenSet wraps a failure of the shared dedup resource. It is fatal.
var ErrSeenSet = errors.New("seen-hash set failed")

// SeenSet is the run's shared set of accepted content hashes.
type SeenSet interface {
	// CheckAndInsert atomically inserts hash and reports whether it was new.
	CheckAndInsert(ctx context.Context, hash string) (bool, error)
}

// Structure describes what a candidate was computed from.
type Structure struct {
	Rules     int
	Sections  int
	Exception bool // a member is an exception rule
	MultiStep bool
	Recall    bool
}

// Difficulty maps structure to the 1-5 rubric: recall of a stated value or
// definition 1, single rule application 2, multi-step within a section 3,
// chain across sections 4, chain with an exception branch 5.
func Difficulty(s Structure) int {
	switch {
	case s.Recall:
		return 1
	case s.Exception && s.Rules > 1:
		return 5
	case s.Sections > 1:
		return 4
	case s.Rules > 1 || s.MultiStep:
		return 3
	default:
		return 2
	}
}

// Candidate is a multiple-choice question awaiting the gate. Correct is the
// rendered value computed upstream.
type Candidate struct {
	Question  question.Question
	Correct   string
	Structure Structure
}

// CaseCandidate is an entailment case awaiting the gate. Expected is the
// gold answer computed upstream.
type CaseCandidate struct {
	Case      question.EntailmentCase
	Expected  string
	Structure Structure
}

// Gate validates candidates against one run's seen set.
type Gate struct {
	seen SeenSet
}

func New(seen SeenSet) *Gate {
	return &Gate{seen: seen}
}

var (
	questionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("taxbench/question"))
	caseNamespace     = uuid.NewSHA1(uuid.NameSpaceURL, []byte("taxbench/entailment"))
)

// Validate runs the checks in order and returns the accepted question with
// its id and difficulty filled in. A refusal is a *Rejection; an error
// wrapping ErrSeenSet or a context error means the candidate was not
// considered.
func (g *Gate) Validate(ctx context.Context, c Candidate) (question.Question, error) {
	q := c.Question
	if err := checkQuestionSchema(q); err != nil {
		return question.Question{}, err
	}
	if Canonicalize(q.Answer()) != Canonicalize(c.Correct) {
		return question.Question{}, reject(ReasonLinkage, "choice %d is %q, computed %q", q.CorrectChoiceIndex, q.Answer(), c.Correct)
	}
	hash := QuestionHash(q)
	if err := g.admit(ctx, hash); err != nil {
		return question.Question{}, err
	}
	q.ID = uuid.NewSHA1(questionNamespace, []byte(hash)).String()
	q.Difficulty = Difficulty(c.Structure)
	logging.GateDebug("accepted %s (%s, difficulty %d)", q.ID, q.Section, q.Difficulty)
	return q, nil
}

// ValidateCase is Validate for entailment cases.
func (g *Gate) ValidateCase(ctx context.Context, c CaseCandidate) (question.EntailmentCase, error) {
	ec := c.Case
	switch {
	case ec.Section == "" || ec.Citation == "":
		return question.EntailmentCase{}, reject(ReasonSchema, "missing section or citation")
	case strings.TrimSpace(ec.Scenario) == "" || strings.TrimSpace(ec.Question) == "":
		return question.EntailmentCase{}, reject(ReasonSchema, "missing scenario or question")
	case len(ec.Facts) == 0 || strings.TrimSpace(ec.Query) == "":
		return question.EntailmentCase{}, reject(ReasonSchema, "missing facts or query")
	case len(ec.SourceRules) == 0:
		return question.EntailmentCase{}, reject(ReasonSchema, "no source rules")
	case ec.Answer == "":
		return question.EntailmentCase{}, reject(ReasonSchema, "missing answer")
	}
	if ec.Answer != c.Expected {
		return question.EntailmentCase{}, reject(ReasonLinkage, "answer %q, computed %q", ec.Answer, c.Expected)
	}
	hash := CaseHash(ec)
	if err := g.admit(ctx, hash); err != nil {
		return question.EntailmentCase{}, err
	}
	ec.ID = uuid.NewSHA1(caseNamespace, []byte(hash)).String()
	ec.Difficulty = Difficulty(c.Structure)
	return ec, nil
}

// admit inserts hash unless the context is already done, so a cancelled
// caller never leaves a hash behind without its record.
func (g *Gate) admit(ctx context.Context, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	inserted, err := g.seen.CheckAndInsert(ctx, hash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSeenSet, err)
	}
	if !inserted {
		return reject(ReasonDuplicate, "content hash %s already accepted", hash[:12])
	}
	return nil
}

func checkQuestionSchema(q question.Question) error {
	switch {
	case q.Section == "" || q.Citation == "":
		return reject(ReasonSchema, "missing section or citation")
	case q.Type == "":
		return reject(ReasonSchema, "missing type")
	case strings.TrimSpace(q.Scenario) == "" || strings.TrimSpace(q.Question) == "":
		return reject(ReasonSchema, "missing scenario or question")
	case strings.TrimSpace(q.AnswerExplanation) == "":
		return reject(ReasonSchema, "missing explanation")
	case len(q.SourceRules) == 0:
		return reject(ReasonSchema, "no source rules")
	case len(q.Choices) != 4:
		return reject(ReasonSchema, "%d choices, want 4", len(q.Choices))
	case q.CorrectChoiceIndex < 0 || q.CorrectChoiceIndex > 3:
		return reject(ReasonSchema, "correct_choice_index %d out of range", q.CorrectChoiceIndex)
	}
	seen := make(map[string]bool, 4)
	for _, c := range q.Choices {
		key := Canonicalize(c)
		if key == "" {
			return reject(ReasonSchema, "empty choice")
		}
		if seen[key] {
			return reject(ReasonDuplicateChoice, "choice %q repeated", c)
		}
		seen[key] = true
	}
	return nil
}

var (
	spaceRun     = regexp.MustCompile(`\s+`)
	zeroCents    = regexp.MustCompile(`(\d)\.00\b`)
	thousandsSep = regexp.MustCompile(`(\d),(\d{3})`)
)

// Canonicalize normalizes text before hashing or comparison: whitespace
// runs collapse to one space, case folds to lower, dollar signs and
// thousands separators drop, and whole-dollar ".00" suffixes drop.
func Canonicalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = spaceRun.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "$", "")
	for thousandsSep.MatchString(s) {
		s = thousandsSep.ReplaceAllString(s, "$1$2")
	}
	return zeroCents.ReplaceAllString(s, "$1")
}

// Hash is the content hash of a candidate: sha256 over section, canonical
// scenario and canonical correct value, joined by "|".
func Hash(section, scenario, value string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(section) + "|" + Canonicalize(scenario) + "|" + Canonicalize(value)))
	return hex.EncodeToString(sum[:])
}

// QuestionHash is the content hash of a question whose correct choice is
// set. The question text is part of the scenario so two templates over the
// same facts stay distinct.
func QuestionHash(q question.Question) string {
	return Hash(q.Section, q.Scenario+" "+q.Question, q.Answer())
}

// CaseHash is the content hash of an entailment case.
func CaseHash(ec question.EntailmentCase) string {
	return Hash(ec.Section, ec.Scenario+" "+ec.Query, ec.Answer)
}
