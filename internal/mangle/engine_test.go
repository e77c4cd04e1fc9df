package mangle

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxbench/internal/logic"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine()
	require.NoError(t, err)
	return e
}

func TestResidenceTest(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		months int
		window int
		want   logic.Verdict
	}{
		{"26 of 60 months", 26, 60, logic.Entailed()},
		{"exactly 24 months", 24, 60, logic.Entailed()},
		{"20 of 60 months", 20, 60, logic.Contradicted()},
		{"window longer than statute", 26, 120, logic.Undetermined()},
		{"more months than window", 70, 60, logic.Undetermined()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facts := []string{
				fmt.Sprintf("residence_months(/p1, %d).", tt.months),
				fmt.Sprintf("lookback_months(/p1, %d).", tt.window),
			}
			got, err := e.Evaluate(ctx, facts, "meets_residence_test(/p1)")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnderSpecifiedIsUnknown(t *testing.T) {
	e := newEngine(t)
	got, err := e.Evaluate(context.Background(), []string{"residence_months(/p1, 26)."}, "meets_residence_test(/p1)")
	require.NoError(t, err)
	assert.Equal(t, logic.Undetermined(), got)

	// Facts about someone else say nothing about p1.
	got, err = e.Evaluate(context.Background(),
		[]string{"residence_months(/p2, 26).", "lookback_months(/p2, 60)."}, "meets_residence_test(/p1)")
	require.NoError(t, err)
	assert.Equal(t, logic.Undetermined(), got)
}

func TestRecognizedGain(t *testing.T) {
	e := newEngine(t)
	facts := func(liability, basis int) []string {
		return []string{
			"section_351_transfer(/t1).",
			fmt.Sprintf("liability_dollars(/t1, %d).", liability),
			fmt.Sprintf("basis_dollars(/t1, %d).", basis),
		}
	}

	got, err := e.Evaluate(context.Background(), facts(50000, 20000), "recognized_gain_357c(/t1, G)")
	require.NoError(t, err)
	assert.Equal(t, logic.Number(30000), got)

	got, err = e.Evaluate(context.Background(), facts(10000, 20000), "recognized_gain_357c(/t1, G)")
	require.NoError(t, err)
	assert.Equal(t, logic.Number(0), got)

	got, err = e.Evaluate(context.Background(), facts(10000, 20000), "liabilities_exceed_basis(/t1)")
	require.NoError(t, err)
	assert.Equal(t, logic.Contradicted(), got)
}

func TestDurationAndThreshold(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	got, err := e.Evaluate(ctx, []string{"duration_months(/s1400z_2, 84).", "required_months(/s1400z_2, 60)."}, "meets_duration(/s1400z_2)")
	require.NoError(t, err)
	assert.Equal(t, logic.Entailed(), got)

	got, err = e.Evaluate(ctx, []string{"measured_dollars(/x, 310000).", "threshold_dollars(/x, 250000)."}, "excess_over_threshold(/x, E)")
	require.NoError(t, err)
	assert.Equal(t, logic.Number(60000), got)
}

func TestRejectsBadInput(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.Evaluate(ctx, nil, "no_such_predicate(/p1)")
	assert.Error(t, err)
	_, err = e.Evaluate(ctx, []string{"unknown_fact(/p1)."}, "meets_duration(/p1)")
	assert.Error(t, err)
	_, err = e.Evaluate(ctx, []string{"duration_months(/p1)."}, "meets_duration(/p1)")
	assert.Error(t, err)
	_, err = e.Evaluate(ctx, nil, "")
	assert.Error(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = e.Evaluate(cancelled, nil, "meets_duration(/p1)")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentEvaluate(t *testing.T) {
	e := newEngine(t)
	var wg sync.WaitGroup
	results := make([]logic.Verdict, 16)
	errs := make([]error, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			months := 10 + i*2
			facts := []string{
				fmt.Sprintf("residence_months(/p%d, %d).", i, months),
				fmt.Sprintf("lookback_months(/p%d, 60).", i),
			}
			results[i], errs[i] = e.Evaluate(context.Background(), facts, fmt.Sprintf("meets_residence_test(/p%d)", i))
		}(i)
	}
	wg.Wait()
	for i, v := range results {
		require.NoError(t, errs[i])
		want := logic.Contradicted()
		if 10+i*2 >= 24 {
			want = logic.Entailed()
		}
		assert.Equal(t, want, v, "worker %d", i)
	}
}
