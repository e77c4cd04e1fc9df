// Package corpus loads the structured statutory corpus: one
// section_<number>.json file per section, nested under subtitle and
// chapter directories.
package corpus

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"taxbench/internal/logging"
	"taxbench/internal/rules"
)

// ErrEmpty is returned when a corpus root holds no section files.
var ErrEmpty = errors.New("corpus has no sections")

// Subsection is one subsection or clause of a section.
type Subsection struct {
	ID       string `json:"subsection_id"`
	Citation string `json:"citation"`
	Text     string `json:"text"`
}

// Section is one scraped section file.
type Section struct {
	Title       string       `json:"title,omitempty"`
	Subtitle    string       `json:"subtitle,omitempty"`
	Chapter     string       `json:"chapter,omitempty"`
	Subchapter  string       `json:"subchapter,omitempty"`
	Part        string       `json:"part,omitempty"`
	Number      string       `json:"section_number"`
	Citation    string       `json:"citation"`
	Heading     string       `json:"heading"`
	CleanText   string       `json:"clean_text,omitempty"`
	Subsections []Subsection `json:"subsections"`

	// Path is the file the section was read from.
	Path string `json:"-"`
}

// Fragments returns one rule fragment per subsection with text.
func (s Section) Fragments() []rules.Fragment {
	frags := make([]rules.Fragment, 0, len(s.Subsections))
	for _, sub := range s.Subsections {
		if strings.TrimSpace(sub.Text) == "" {
			continue
		}
		frags = append(frags, rules.Fragment{
			SectionID:  s.Number,
			Subsection: sub.ID,
			Citation:   sub.Citation,
			Text:       sub.Text,
		})
	}
	return frags
}

// Corpus is a loaded set of sections in section-number order.
type Corpus struct {
	Root     string
	Sections []Section
}

// LoadError reports a corpus that could not be read. It is fatal to a run.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load corpus %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Load reads every section file under root.
func Load(root string) (*Corpus, error) {
	timer := logging.StartTimer(logging.CategoryCorpus, "corpus.Load")
	defer timer.Stop()

	info, err := os.Stat(root)
	if err != nil {
		return nil, &LoadError{Path: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &LoadError{Path: root, Err: errors.New("not a directory")}
	}

	c := &Corpus{Root: root}
	seen := make(map[string]string)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isSectionFile(d.Name()) {
			return nil
		}
		s, err := readSection(path)
		if err != nil {
			return err
		}
		if prev, dup := seen[s.Number]; dup {
			logging.CorpusWarn("section %s in %s already loaded from %s; skipping", s.Number, path, prev)
			return nil
		}
		seen[s.Number] = path
		c.Sections = append(c.Sections, s)
		return nil
	})
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			return nil, le
		}
		return nil, &LoadError{Path: root, Err: err}
	}
	if len(c.Sections) == 0 {
		return nil, &LoadError{Path: root, Err: ErrEmpty}
	}
	slices.SortFunc(c.Sections, func(a, b Section) int { return CompareNumbers(a.Number, b.Number) })
	logging.Corpus("loaded %d sections from %s", len(c.Sections), root)
	return c, nil
}

func isSectionFile(name string) bool {
	return strings.HasPrefix(name, "section_") && strings.HasSuffix(name, ".json")
}

func readSection(path string) (Section, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Section{}, &LoadError{Path: path, Err: err}
	}
	var s Section
	if err := json.Unmarshal(data, &s); err != nil {
		return Section{}, &LoadError{Path: path, Err: err}
	}
	if s.Number == "" {
		s.Number = strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), "section_"), ".json")
	}
	if s.Citation == "" {
		s.Citation = "I.R.C. § " + s.Number
	}
	s.Path = path
	return s, nil
}

// Section returns the section with the given number.
func (c *Corpus) Section(number string) (Section, bool) {
	for _, s := range c.Sections {
		if s.Number == number {
			return s, true
		}
	}
	return Section{}, false
}

// Fragments returns the fragments of every section, or of only the listed
// sections when filter is not empty.
func (c *Corpus) Fragments(filter ...string) []rules.Fragment {
	var frags []rules.Fragment
	for _, s := range c.Sections {
		if len(filter) > 0 && !slices.Contains(filter, s.Number) {
			continue
		}
		frags = append(frags, s.Fragments()...)
	}
	return frags
}

// CompareNumbers orders section numbers by their numeric prefix, then by
// the remaining suffix: "1" < "121" < "199A" < "1001" < "1400Z-2".
func CompareNumbers(a, b string) int {
	na, ra := splitNumber(a)
	nb, rb := splitNumber(b)
	if na != nb {
		if na < nb {
			return -1
		}
		return 1
	}
	return strings.Compare(ra, rb)
}

func splitNumber(s string) (int, string) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, s
	}
	return n, s[i:]
}
