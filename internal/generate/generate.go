// Package generate runs a batch: it enumerates (section, template) work
// items, builds a candidate for each on a bounded worker pool, and passes
// the candidates through the validation gate in work-item order.
//
// Candidates are built in parallel because building one may block on the
// logic evaluator. Admission is sequential and ordered so the accepted set
// depends only on the run seed and the corpus.
package generate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"taxbench/internal/chain"
	"taxbench/internal/distractor"
	"taxbench/internal/entailment"
	"taxbench/internal/logging"
	"taxbench/internal/logic"
	"taxbench/internal/money"
	"taxbench/internal/profile"
	"taxbench/internal/question"
	"taxbench/internal/rules"
	"taxbench/internal/simulate"
	"taxbench/internal/validate"
)

// ErrMissingRule marks a template whose rule is absent from the library.
var ErrMissingRule = errors.New("rule not in library")

// Options configure a run.
type Options struct {
	RunSeed           uint64
	Workers           int
	Variations        int
	SamplerRetries    int
	DistractorRetries int
	// Sections, when set, limits the run to items touching these sections.
	Sections []string
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Variations <= 0 {
		o.Variations = 5
	}
	if o.SamplerRetries <= 0 {
		o.SamplerRetries = profile.DefaultRetries
	}
	if o.DistractorRetries <= 0 {
		o.DistractorRetries = distractor.DefaultRetries
	}
	return o
}

// Sink persists accepted records. A Sink error aborts the run.
type Sink interface {
	SaveQuestion(ctx context.Context, hash string, q question.Question) error
	SaveCase(ctx context.Context, hash string, ec question.EntailmentCase) error
}

// Item is one unit of work.
type Item struct {
	Index     int
	Section   string
	Template  string
	Variation int
	Seed      uint64

	template *Template
	recall   *rules.Rule
}

// Key identifies the item independently of its position.
func (it Item) Key() string {
	return it.Section + "/" + it.Template + "/" + strconv.Itoa(it.Variation)
}

// Generator produces one run's questions and entailment cases.
type Generator struct {
	lib       *rules.Library
	eval      logic.Evaluator
	gate      *validate.Gate
	sink      Sink
	opts      Options
	templates []Template
	percents  []money.BasisPoints
	amounts   []money.Cents
	terms     []string
}

// New returns a generator over lib. eval answers entailment queries; seen
// holds hashes accepted by earlier runs; sink may be nil.
func New(lib *rules.Library, eval logic.Evaluator, seen validate.SeenSet, sink Sink, opts Options) *Generator {
	g := &Generator{
		lib:       lib,
		eval:      eval,
		gate:      validate.New(seen),
		sink:      sink,
		opts:      opts.withDefaults(),
		templates: Templates(lib),
	}
	for _, r := range lib.All() {
		switch r.Type {
		case rules.PercentageLimit:
			if !slices.Contains(g.percents, r.Percent) {
				g.percents = append(g.percents, r.Percent)
			}
		case rules.Threshold:
			if r.Amount > 0 && !slices.Contains(g.amounts, r.Amount) {
				g.amounts = append(g.amounts, r.Amount)
			}
		case rules.Definition:
			if r.Term != "" {
				g.terms = append(g.terms, r.Term)
			}
		}
	}
	return g
}

// Items enumerates the run's work items in a fixed order: templates by
// name and variation, then one recall item per library rule by id.
func (g *Generator) Items() []Item {
	var items []Item
	add := func(it Item) {
		it.Index = len(items)
		it.Seed = profile.DeriveSeed(g.opts.RunSeed, it.Section, it.Template, strconv.Itoa(it.Variation))
		items = append(items, it)
	}
	for i := range g.templates {
		t := &g.templates[i]
		if !g.wanted(t.Sections()...) {
			continue
		}
		section := t.Sections()[0]
		if t.Target != "" {
			section = sectionOf(t.Target)
		}
		for v := 0; v < g.opts.Variations; v++ {
			add(Item{Section: section, Template: t.Name, Variation: v, template: t})
		}
	}
	all := g.lib.All()
	slices.SortFunc(all, func(a, b rules.Rule) int { return strings.Compare(a.ID(), b.ID()) })
	for i := range all {
		r := &all[i]
		if !recallable(*r) || !g.wanted(r.Section) {
			continue
		}
		add(Item{Section: r.Section, Template: "recall_" + r.ID(), recall: r})
	}
	return items
}

func (g *Generator) wanted(sections ...string) bool {
	if len(g.opts.Sections) == 0 {
		return true
	}
	for _, s := range sections {
		if slices.Contains(g.opts.Sections, s) {
			return true
		}
	}
	return false
}

func recallable(r rules.Rule) bool {
	switch r.Type {
	case rules.PercentageLimit, rules.TimeRule, rules.Definition:
		return true
	case rules.Threshold:
		return r.Amount > 0
	default:
		return false
	}
}

// Result is everything a run accepted, plus its report.
type Result struct {
	Questions []question.Question
	Cases     []question.EntailmentCase
	Report    Report
}

// candidate is the outcome of building one item.
type candidate struct {
	question *validate.Candidate
	kase     *validate.CaseCandidate
	err      error
}

// Run builds and admits every item. Per-item failures are counted in the
// report; only context cancellation, a seen-set failure or a sink failure
// end the run early.
func (g *Generator) Run(ctx context.Context) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryPipeline, "generate.Run")
	defer timer.StopWithInfo()

	items := g.Items()
	logging.Pipeline("run seed %d: %d work items on %d workers", g.opts.RunSeed, len(items), g.opts.Workers)

	cands := make([]candidate, len(items))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.opts.Workers)
	for i := range items {
		it := items[i]
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			cands[it.Index] = g.build(egCtx, it)
			if err := cands[it.Index].err; err != nil && isContextErr(err) && egCtx.Err() != nil {
				return egCtx.Err()
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("generation cancelled: %w", err)
	}

	res := &Result{Report: newReport(len(items))}
	for i, it := range items {
		if err := g.admit(ctx, it, cands[i], res); err != nil {
			return nil, err
		}
	}
	logging.Pipeline("run seed %d: %s", g.opts.RunSeed, res.Report.Summary())
	return res, nil
}

func (g *Generator) admit(ctx context.Context, it Item, c candidate, res *Result) error {
	if c.err != nil {
		var rej *validate.Rejection
		if errors.As(c.err, &rej) {
			res.Report.reject(rej.Reason)
			logging.GateDebug("%s rejected: %v", it.Key(), c.err)
			return nil
		}
		res.Report.skip(skipKind(c.err))
		return nil
	}

	switch {
	case c.question != nil:
		q, err := g.gate.Validate(ctx, *c.question)
		if done, err := g.gateOutcome(it, err, res); done {
			return err
		}
		if g.sink != nil {
			if err := g.sink.SaveQuestion(ctx, validate.QuestionHash(q), q); err != nil {
				return fmt.Errorf("persist question %s: %w", q.ID, err)
			}
		}
		res.Questions = append(res.Questions, q)
		res.Report.Generated++
		logging.PipelineDebug("%s accepted as %s", it.Key(), q.ID)
	case c.kase != nil:
		ec, err := g.gate.ValidateCase(ctx, *c.kase)
		if done, err := g.gateOutcome(it, err, res); done {
			return err
		}
		if g.sink != nil {
			if err := g.sink.SaveCase(ctx, validate.CaseHash(ec), ec); err != nil {
				return fmt.Errorf("persist case %s: %w", ec.ID, err)
			}
		}
		res.Cases = append(res.Cases, ec)
		res.Report.Cases++
		logging.PipelineDebug("%s accepted as %s", it.Key(), ec.ID)
	}
	return nil
}

// gateOutcome reports whether admission of the item is finished, and the
// error that must end the run, if any.
func (g *Generator) gateOutcome(it Item, err error, res *Result) (bool, error) {
	if err == nil {
		return false, nil
	}
	var rej *validate.Rejection
	if errors.As(err, &rej) {
		res.Report.reject(rej.Reason)
		logging.GateDebug("%s rejected: %v", it.Key(), err)
		return true, nil
	}
	return true, fmt.Errorf("admit %s: %w", it.Key(), err)
}

func (g *Generator) build(ctx context.Context, it Item) candidate {
	var c candidate
	switch {
	case it.recall != nil:
		c = g.buildRecall(it)
	case it.template.Entailment:
		c = g.buildCase(ctx, it)
	default:
		c = g.buildQuestion(it)
	}
	if c.err != nil && ctx.Err() == nil {
		warn(it, c.err)
	}
	return c
}

func (g *Generator) buildQuestion(it Item) candidate {
	t := it.template
	members, err := t.Members(g.lib)
	if err != nil {
		return candidate{err: err}
	}
	p, err := profile.Sample(t.Spec, it.Seed, g.opts.SamplerRetries)
	if err != nil {
		return candidate{err: err}
	}
	ch := chain.Chain{Name: t.Name, Members: members, Target: t.Target}
	res, err := chain.Resolve(ch, p)
	if err != nil {
		return candidate{err: err}
	}
	if res.Final.Kind != simulate.KindAmount {
		return candidate{err: fmt.Errorf("template %s yields a %s: %w", t.Name, res.Final.Kind, simulate.ErrNotComputable)}
	}
	target, _ := res.Step(res.FinalID)

	env := simulate.NewOverlay(simulate.ProfileEnv(p))
	for _, s := range res.Steps {
		env.Set(s.ID, s.Result.Value)
	}
	rng := profile.Rand(profile.DeriveSeed(it.Seed, "choices"))
	correct := res.Final.Render()
	ds, err := distractor.Synthesize(distractor.Input{
		Correct:  res.Final,
		Rule:     target.Rule,
		Env:      env,
		Rand:     rng,
		Retries:  g.opts.DistractorRetries,
		Percents: g.percents,
		Amounts:  g.amounts,
	})
	if err != nil {
		return candidate{err: &validate.Rejection{Reason: validate.ReasonCollision, Detail: err.Error()}}
	}
	choices, idx := distractor.Arrange(correct, ds, rng)

	multiStep := len(members) > 1
	for _, m := range members {
		if m.Operands.Holding != "" {
			multiStep = true
		}
	}
	return candidate{question: &validate.Candidate{
		Question: question.Question{
			Section:            target.Rule.Section,
			Citation:           target.Rule.Citation,
			Type:               t.Type,
			Template:           t.Name,
			Scenario:           t.Narrate(p),
			Question:           fmt.Sprintf(t.Ask, target.Rule.Citation),
			Choices:            choices,
			CorrectChoiceIndex: idx,
			AnswerExplanation:  res.Explanation(),
			SourceRules:        ch.Citations(),
		},
		Correct: correct,
		Structure: validate.Structure{
			Rules:     len(members),
			Sections:  len(ch.Sections()),
			Exception: ch.HasException(),
			MultiStep: multiStep,
		},
	}}
}

func (g *Generator) buildCase(ctx context.Context, it Item) candidate {
	t := it.template
	members, err := t.Members(g.lib)
	if err != nil {
		return candidate{err: err}
	}
	rule := members[0]
	p, err := profile.Sample(t.Spec, it.Seed, g.opts.SamplerRetries)
	if err != nil {
		return candidate{err: err}
	}
	pat, err := entailment.Generate(rule, p)
	if err != nil {
		return candidate{err: err}
	}
	v, err := entailment.Ask(ctx, pat, g.eval)
	if err != nil {
		return candidate{err: err}
	}
	return candidate{kase: &validate.CaseCandidate{
		Case: question.EntailmentCase{
			Section:     rule.Section,
			Citation:    rule.Citation,
			Template:    t.Name,
			Scenario:    pat.Scenario,
			Question:    pat.Question,
			Facts:       pat.Facts,
			Query:       pat.Query,
			Answer:      v.Answer(),
			SourceRules: []string{rule.Citation},
		},
		Expected:  pat.Expected.Answer(),
		Structure: validate.Structure{Rules: 1, Sections: 1},
	}}
}

func (g *Generator) buildRecall(it Item) candidate {
	r := *it.recall
	rng := profile.Rand(profile.DeriveSeed(it.Seed, "choices"))
	scenario := fmt.Sprintf("This question concerns %s.", r.Citation)

	if r.Type == rules.Definition {
		if r.Term == "" {
			return candidate{err: fmt.Errorf("definition %s names no term: %w", r.ID(), simulate.ErrNotComputable)}
		}
		ds, err := distractor.Terms(r.Term, g.terms, rng)
		if err != nil {
			return candidate{err: &validate.Rejection{Reason: validate.ReasonCollision, Detail: err.Error()}}
		}
		choices, idx := distractor.Arrange(r.Term, ds, rng)
		return candidate{question: &validate.Candidate{
			Question: question.Question{
				Section:            r.Section,
				Citation:           r.Citation,
				Type:               question.Definition,
				Template:           it.Template,
				Scenario:           scenario,
				Question:           fmt.Sprintf("Which term does %s define as %q?", r.Citation, r.Meaning),
				Choices:            choices,
				CorrectChoiceIndex: idx,
				AnswerExplanation:  fmt.Sprintf("%s provides that the term %q means %s.", r.Citation, r.Term, r.Meaning),
				SourceRules:        []string{r.Citation},
			},
			Correct:   r.Term,
			Structure: validate.Structure{Rules: 1, Sections: 1, Recall: true},
		}}
	}

	res, err := simulate.Evaluate(r, profile.Profile{})
	if err != nil {
		return candidate{err: err}
	}
	ds, err := distractor.Synthesize(distractor.Input{
		Correct:  res.Value,
		Rule:     r,
		Rand:     rng,
		Retries:  g.opts.DistractorRetries,
		Percents: g.percents,
		Amounts:  g.amounts,
	})
	if err != nil {
		return candidate{err: &validate.Rejection{Reason: validate.ReasonCollision, Detail: err.Error()}}
	}
	correct := res.Value.Render()
	choices, idx := distractor.Arrange(correct, ds, rng)
	return candidate{question: &validate.Candidate{
		Question: question.Question{
			Section:            r.Section,
			Citation:           r.Citation,
			Type:               question.Recall,
			Template:           it.Template,
			Scenario:           scenario,
			Question:           recallQuestion(r),
			Choices:            choices,
			CorrectChoiceIndex: idx,
			AnswerExplanation:  res.Explanation,
			SourceRules:        []string{r.Citation},
		},
		Correct:   correct,
		Structure: validate.Structure{Rules: 1, Sections: 1, Recall: true},
	}}
}

func recallQuestion(r rules.Rule) string {
	switch r.Type {
	case rules.PercentageLimit:
		return fmt.Sprintf("What percentage does %s specify?", r.Citation)
	case rules.TimeRule:
		return fmt.Sprintf("What period of time does %s require?", r.Citation)
	default:
		return fmt.Sprintf("What dollar amount does %s specify?", r.Citation)
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// warn logs a per-item failure under the component that raised it.
func warn(it Item, err error) {
	var (
		binding  *profile.TemplateBindingError
		chainErr *chain.ResolutionError
		interp   *logic.InterpreterError
		rej      *validate.Rejection
	)
	switch {
	case errors.As(err, &binding):
		logging.SamplerWarn("%s: %v", it.Key(), err)
	case errors.As(err, &chainErr):
		logging.ChainWarn("%s: %v", it.Key(), err)
	case errors.As(err, &interp):
		logging.LogicWarn("%s: %v", it.Key(), err)
	case errors.As(err, &rej):
		logging.DistractorWarn("%s: %v", it.Key(), err)
	case errors.Is(err, entailment.ErrUndetermined), errors.Is(err, entailment.ErrDisagreement), errors.Is(err, entailment.ErrUnsupported):
		logging.EntailmentWarn("%s: %v", it.Key(), err)
	default:
		logging.PipelineWarn("%s: %v", it.Key(), err)
	}
}
