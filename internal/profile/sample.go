package profile

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"taxbench/internal/money"
)

// DeriveSeed mixes the run seed with an item key (section, template,
// variation index) so every work item samples from its own stream.
func DeriveSeed(runSeed uint64, parts ...string) uint64 {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], runSeed)
	h.Write(buf[:])
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return binary.BigEndian.Uint64(h.Sum(nil)[:8])
}

// Rand returns the deterministic stream for seed. Every consumer of a
// work item's randomness derives its own stream from the item seed.
func Rand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Sample draws a profile for spec from the stream seeded by seed. A profile
// that violates a hard precondition is discarded and redrawn, up to retries
// times; retries <= 0 means DefaultRetries.
func Sample(spec TemplateSpec, seed uint64, retries int) (Profile, error) {
	if err := spec.Validate(); err != nil {
		return Profile{}, &TemplateBindingError{Template: spec.Name, Reason: err.Error()}
	}
	if retries <= 0 {
		retries = DefaultRetries
	}
	rng := Rand(seed)

	var reason string
	for attempt := 1; attempt <= retries; attempt++ {
		p, err := draw(spec, rng)
		if err != nil {
			reason = err.Error()
			continue
		}
		if violated := firstViolation(spec, p); violated != "" {
			reason = "violates " + violated
			continue
		}
		p.seed = seed
		p.id = contentID(p)
		return p, nil
	}
	return Profile{}, &TemplateBindingError{Template: spec.Name, Attempts: retries, Reason: reason}
}

func draw(spec TemplateSpec, rng *rand.Rand) (Profile, error) {
	p := Profile{
		template:     spec.Name,
		filingStatus: "single",
		taxYear:      2024,
		values:       make(map[string]int64, len(spec.Fields)),
		units:        make(map[string]Unit, len(spec.Fields)),
	}
	if n := len(spec.FilingStatuses); n > 0 {
		p.filingStatus = spec.FilingStatuses[rng.IntN(n)]
	}
	if n := len(spec.TaxYears); n > 0 {
		p.taxYear = spec.TaxYears[rng.IntN(n)]
	}

	boundaries := make(map[string]Boundary, len(spec.Boundaries))
	for _, b := range spec.Boundaries {
		boundaries[b.Field] = b
	}

	for _, f := range spec.Fields {
		lo, hi := f.bounds()
		if b, ok := boundaries[f.Name]; ok {
			if other, drawn := p.values[b.Other]; drawn {
				other = fromStored(other, f.Unit)
				if rng.Float64() < b.P {
					lo = max(lo, other+1)
				} else {
					hi = min(hi, other)
				}
			}
		}
		v, err := drawField(f, lo, hi, rng)
		if err != nil {
			return Profile{}, err
		}
		p.values[f.Name] = toStored(v, f.Unit)
		p.units[f.Name] = f.Unit
	}
	return p, nil
}

func drawField(f FieldSpec, lo, hi int64, rng *rand.Rand) (int64, error) {
	if len(f.Choices) > 0 {
		var allowed []int64
		for _, c := range f.Choices {
			if c >= lo && c <= hi {
				allowed = append(allowed, c)
			}
		}
		if len(allowed) == 0 {
			return 0, fmt.Errorf("field %s: no choice in [%d, %d]", f.Name, lo, hi)
		}
		return allowed[rng.IntN(len(allowed))], nil
	}
	step := f.Step
	if step <= 0 {
		step = 1
	}
	// Align to the field's grid, which starts at f.Min.
	first := f.Min + ceilDiv(lo-f.Min, step)*step
	if first > hi {
		return 0, fmt.Errorf("field %s: empty range [%d, %d]", f.Name, lo, hi)
	}
	n := (hi-first)/step + 1
	return first + step*rng.Int64N(n), nil
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return -((-a) / b)
	}
	return (a + b - 1) / b
}

func toStored(v int64, u Unit) int64 {
	if u == Dollars {
		return int64(money.Dollars(v))
	}
	return v
}

func fromStored(v int64, u Unit) int64 {
	if u == Dollars {
		return money.Cents(v).WholeDollars()
	}
	return v
}

func firstViolation(spec TemplateSpec, p Profile) string {
	for _, c := range spec.Preconditions {
		a := p.values[c.Field]
		b := toStored(c.Value, p.units[c.Field])
		if c.Other != "" {
			b = p.values[c.Other]
		}
		if !c.Cmp.holds(a, b) {
			return c.String()
		}
	}
	return ""
}

var profileNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("taxbench/profile"))

func contentID(p Profile) string {
	var b strings.Builder
	b.WriteString(p.template)
	b.WriteByte('|')
	b.WriteString(p.filingStatus)
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(p.taxYear))
	for _, k := range p.Fields() {
		fmt.Fprintf(&b, "|%s=%d", k, p.values[k])
	}
	return uuid.NewSHA1(profileNamespace, []byte(b.String())).String()
}
