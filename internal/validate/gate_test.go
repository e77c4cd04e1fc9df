package validate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxbench/internal/question"
)

func charitableCandidate() Candidate {
	return Candidate{
		Question: question.Question{
			Section:            "170",
			Citation:           "I.R.C. § 170(b)(1)(A)",
			Type:               question.Computation,
			Scenario:           "A single filer has an AGI of $120,000 and gives $80,000 in cash to a qualifying charity.",
			Question:           "What is the maximum deductible amount?",
			Choices:            []string{"$80,000", "$72,000", "$60,000", "$36,000"},
			CorrectChoiceIndex: 1,
			AnswerExplanation:  "60% of $120,000 is $72,000; the lesser of $80,000 and $72,000 is $72,000.",
			SourceRules:        []string{"170(b)(1)(A)"},
		},
		Correct:   "$72,000",
		Structure: Structure{Rules: 1, Sections: 1},
	}
}

func TestValidateAccepts(t *testing.T) {
	g := New(NewMemorySet())
	q, err := g.Validate(context.Background(), charitableCandidate())
	require.NoError(t, err)
	assert.NotEmpty(t, q.ID)
	assert.Equal(t, 2, q.Difficulty)
	assert.Equal(t, "$72,000", q.Answer())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Candidate)
		reason Reason
	}{
		{"three choices", func(c *Candidate) { c.Question.Choices = c.Question.Choices[:3] }, ReasonSchema},
		{"index out of range", func(c *Candidate) { c.Question.CorrectChoiceIndex = 4 }, ReasonSchema},
		{"missing explanation", func(c *Candidate) { c.Question.AnswerExplanation = " " }, ReasonSchema},
		{"no source rules", func(c *Candidate) { c.Question.SourceRules = nil }, ReasonSchema},
		{"empty choice", func(c *Candidate) { c.Question.Choices[3] = "" }, ReasonSchema},
		{"repeated choice", func(c *Candidate) { c.Question.Choices[3] = "$72,000" }, ReasonDuplicateChoice},
		{"repeated after canonicalization", func(c *Candidate) { c.Question.Choices[3] = "$72000.00" }, ReasonDuplicateChoice},
		{"wrong index", func(c *Candidate) { c.Question.CorrectChoiceIndex = 0 }, ReasonLinkage},
		{"wrong computed value", func(c *Candidate) { c.Correct = "$60,000" }, ReasonLinkage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := charitableCandidate()
			c.Question.Choices = append([]string(nil), c.Question.Choices...)
			tt.mutate(&c)
			set := NewMemorySet()
			_, err := New(set).Validate(context.Background(), c)
			var rej *Rejection
			require.True(t, errors.As(err, &rej), "got %v", err)
			assert.Equal(t, tt.reason, rej.Reason)
			assert.Zero(t, set.Len(), "a rejected candidate leaves no hash")
		})
	}
}

func TestValidateDeduplicates(t *testing.T) {
	g := New(NewMemorySet())
	first, err := g.Validate(context.Background(), charitableCandidate())
	require.NoError(t, err)

	again := charitableCandidate()
	again.Question.Scenario = "A  single filer has an AGI of $120000.00 and gives $80,000 in cash to a qualifying charity."
	again.Question.Choices = []string{"$60,000", "$72,000", "$54,000", "$36,000"}
	_, err = g.Validate(context.Background(), again)
	var rej *Rejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, ReasonDuplicate, rej.Reason)

	other := charitableCandidate()
	other.Question.Section = "170x"
	second, err := g.Validate(context.Background(), other)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestValidatePreloadedHashes(t *testing.T) {
	c := charitableCandidate()
	h := QuestionHash(c.Question)
	_, err := New(NewMemorySet(h)).Validate(context.Background(), c)
	var rej *Rejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, ReasonDuplicate, rej.Reason)
}

func TestValidateConcurrentDuplicates(t *testing.T) {
	g := New(NewMemorySet())
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Validate(context.Background(), charitableCandidate()); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, accepted)
}

func TestValidateCancelledLeavesNoHash(t *testing.T) {
	set := NewMemorySet()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(set).Validate(ctx, charitableCandidate())
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, set.Len())
}

type failingSet struct{}

func (failingSet) CheckAndInsert(context.Context, string) (bool, error) {
	return false, errors.New("disk full")
}

func TestValidateSeenSetFailureIsFatal(t *testing.T) {
	_, err := New(failingSet{}).Validate(context.Background(), charitableCandidate())
	require.ErrorIs(t, err, ErrSeenSet)
	var rej *Rejection
	assert.False(t, errors.As(err, &rej))
}

func TestValidateCase(t *testing.T) {
	cc := CaseCandidate{
		Case: question.EntailmentCase{
			Section:     "121",
			Citation:    "I.R.C. § 121(a)",
			Scenario:    "Over the last 60 months the taxpayer used the home as a principal residence for 26 months.",
			Question:    "Does the taxpayer meet the ownership and use test?",
			Facts:       []string{"residence_months(/taxpayer, 26).", "lookback_months(/taxpayer, 60)."},
			Query:       "meets_residence_test(/taxpayer)",
			Answer:      "Entailment",
			SourceRules: []string{"121(a)"},
		},
		Expected:  "Entailment",
		Structure: Structure{Rules: 1, Sections: 1},
	}
	g := New(NewMemorySet())

	ec, err := g.ValidateCase(context.Background(), cc)
	require.NoError(t, err)
	assert.NotEmpty(t, ec.ID)
	assert.Equal(t, 2, ec.Difficulty)

	_, err = g.ValidateCase(context.Background(), cc)
	var rej *Rejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, ReasonDuplicate, rej.Reason)

	wrong := cc
	wrong.Case.Scenario += " Again."
	wrong.Expected = "Contradiction"
	_, err = g.ValidateCase(context.Background(), wrong)
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, ReasonLinkage, rej.Reason)

	bare := cc
	bare.Case.Facts = nil
	_, err = g.ValidateCase(context.Background(), bare)
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, ReasonSchema, rej.Reason)
}

func TestCanonicalize(t *testing.T) {
	assert.Equal(t, "agi of 1200000 and 72000", Canonicalize("  AGI  of\n$1,200,000 and   $72,000.00 "))
	assert.Equal(t, Canonicalize("$72,000"), Canonicalize("72000"))
	assert.NotEqual(t, Canonicalize("$72,000"), Canonicalize("$7,200"))
}

func TestDifficulty(t *testing.T) {
	assert.Equal(t, 1, Difficulty(Structure{Recall: true, Rules: 1, Sections: 1}))
	assert.Equal(t, 2, Difficulty(Structure{Rules: 1, Sections: 1}))
	assert.Equal(t, 3, Difficulty(Structure{Rules: 1, Sections: 1, MultiStep: true}))
	assert.Equal(t, 3, Difficulty(Structure{Rules: 2, Sections: 1}))
	assert.Equal(t, 4, Difficulty(Structure{Rules: 2, Sections: 2}))
	assert.Equal(t, 5, Difficulty(Structure{Rules: 3, Sections: 2, Exception: true}))
}
