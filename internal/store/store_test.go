package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxbench/internal/question"
)

func sampleQuestion(id string) question.Question {
	return question.Question{
		ID:                 id,
		Section:            "170",
		Citation:           "I.R.C. § 170(b)(1)(A)",
		Type:               question.Computation,
		Scenario:           "A single filer has a contribution base of $120,000 & gives $90,000 in cash.",
		Question:           "What is the deductible amount?",
		Choices:            []string{"$72,000", "$90,000", "$60,000", "$36,000"},
		CorrectChoiceIndex: 0,
		AnswerExplanation:  "60% of $120,000 is $72,000.",
		Difficulty:         2,
		SourceRules:        []string{"170(b)(1)(A)"},
	}
}

func sampleCase(id string) question.EntailmentCase {
	return question.EntailmentCase{
		ID:          id,
		Section:     "121",
		Citation:    "I.R.C. § 121(a)",
		Scenario:    "26 months of use.",
		Question:    "Is the test met?",
		Facts:       []string{"residence_months(/s121_a, 26).", "lookback_months(/s121_a, 60)."},
		Query:       "meets_residence_test(/s121_a)",
		Answer:      "Entailment",
		Difficulty:  2,
		SourceRules: []string{"121(a)"},
	}
}

func TestStoreRoundTripAndResume(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db", "taxgen.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveQuestion(ctx, "h-b", sampleQuestion("b")))
	require.NoError(t, s.SaveQuestion(ctx, "h-a", sampleQuestion("a")))
	require.NoError(t, s.SaveCase(ctx, "h-c", sampleCase("c")))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	hashes, err := s.Hashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"h-a", "h-b", "h-c"}, hashes)

	qs, err := s.Questions(ctx)
	require.NoError(t, err)
	require.Len(t, qs, 2)
	assert.Equal(t, "a", qs[0].ID)
	if diff := cmp.Diff(sampleQuestion("b"), qs[1]); diff != "" {
		t.Errorf("question mismatch (-want +got):\n%s", diff)
	}

	cs, err := s.Cases(ctx)
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, sampleCase("c"), cs[0])
}

func TestSaveIsAtomic(t *testing.T) {
	ctx := context.Background()
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveQuestion(ctx, "h1", sampleQuestion("q1")))
	// Same id under a new hash: the record insert fails, so the hash must
	// not stay behind.
	require.Error(t, s.SaveQuestion(ctx, "h2", sampleQuestion("q1")))
	// Same hash again.
	require.Error(t, s.SaveQuestion(ctx, "h1", sampleQuestion("q2")))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats["seen_hashes"])
	assert.Equal(t, 1, stats["questions"])
}

func TestSaveCancelled(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, s.SaveQuestion(ctx, "h1", sampleQuestion("q1")))

	hashes, err := s.Hashes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, hashes)
}

func TestRecordRun(t *testing.T) {
	ctx := context.Background()
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.RecordRun(ctx, Run{
		ID: uuid.NewString(), RunSeed: 42, StartedAt: now, FinishedAt: now.Add(time.Second),
		Report: map[string]int{"generated": 3},
	}))
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats["runs"])
}

func TestExportIsDeterministic(t *testing.T) {
	for _, f := range []Format{FormatJSON, FormatJSONL} {
		t.Run(string(f), func(t *testing.T) {
			dirA, dirB := t.TempDir(), t.TempDir()
			qs := []question.Question{sampleQuestion("b"), sampleQuestion("a")}
			cs := []question.EntailmentCase{sampleCase("c")}

			qa, ca, err := Export(dirA, f, qs, cs)
			require.NoError(t, err)
			reversed := []question.Question{qs[1], qs[0]}
			qb, cb, err := Export(dirB, f, reversed, cs)
			require.NoError(t, err)

			assert.Equal(t, filepath.Join(dirA, "questions."+string(f)), qa)
			a, _ := os.ReadFile(qa)
			b, _ := os.ReadFile(qb)
			assert.Equal(t, string(a), string(b))
			assert.Contains(t, string(a), "$120,000 & gives")

			got, err := ReadQuestions(qa)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "a", got[0].ID)
			assert.Equal(t, "b", qs[0].ID, "input slice is not reordered")

			gotCases, err := ReadCases(cb)
			require.NoError(t, err)
			assert.Equal(t, cs, gotCases)
			_, err = os.Stat(ca)
			require.NoError(t, err)
		})
	}
}

func TestExportEmptyJSONArray(t *testing.T) {
	dir := t.TempDir()
	qPath, _, err := Export(dir, FormatJSON, nil, nil)
	require.NoError(t, err)
	data, err := os.ReadFile(qPath)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("JSONL")
	require.NoError(t, err)
	assert.Equal(t, FormatJSONL, f)
	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)
	_, err = ParseFormat("csv")
	assert.Error(t, err)
}

func TestWriteQuestionsKeepsOrder(t *testing.T) {
	qs := []question.Question{sampleQuestion("z"), sampleQuestion("a")}
	for _, name := range []string{"eval_set.json", "eval_set.jsonl"} {
		path := filepath.Join(t.TempDir(), "sub", name)
		require.NoError(t, WriteQuestions(path, qs))
		got, err := ReadQuestions(path)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "z", got[0].ID)
		assert.Equal(t, "a", got[1].ID)
	}
}
