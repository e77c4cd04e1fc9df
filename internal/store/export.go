package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"taxbench/internal/question"
)

// Format is an output serialization.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
)

// ParseFormat accepts "json" and "jsonl".
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatJSON, "":
		return FormatJSON, nil
	case FormatJSONL:
		return FormatJSONL, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want json or jsonl)", s)
	}
}

// File names of the exported record sets.
const (
	QuestionsFile = "questions"
	CasesFile     = "entailment_cases"
)

// Paths returns the question and case file paths under dir.
func Paths(dir string, f Format) (questions, cases string) {
	ext := "." + string(f)
	return filepath.Join(dir, QuestionsFile+ext), filepath.Join(dir, CasesFile+ext)
}

// Export writes both record sets under dir, each sorted by id, and returns
// the paths written. The same records always produce the same bytes.
func Export(dir string, f Format, qs []question.Question, cs []question.EntailmentCase) (string, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create output directory: %w", err)
	}
	qs = append([]question.Question(nil), qs...)
	cs = append([]question.EntailmentCase(nil), cs...)
	question.SortQuestions(qs)
	question.SortCases(cs)

	qPath, cPath := Paths(dir, f)
	if err := writeRecords(qPath, f, qs); err != nil {
		return "", "", err
	}
	if err := writeRecords(cPath, f, cs); err != nil {
		return "", "", err
	}
	return qPath, cPath, nil
}

// WriteQuestions writes qs to path in order, in the format its extension
// names.
func WriteQuestions(path string, qs []question.Question) error {
	f := FormatJSON
	if strings.HasSuffix(path, "."+string(FormatJSONL)) {
		f = FormatJSONL
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return writeRecords(path, f, qs)
}

func writeRecords[T any](path string, f Format, records []T) error {
	var buf bytes.Buffer
	switch f {
	case FormatJSONL:
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return fmt.Errorf("failed to encode %s: %w", path, err)
			}
		}
	default:
		if records == nil {
			records = []T{}
		}
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(records); err != nil {
			return fmt.Errorf("failed to encode %s: %w", path, err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

// ReadQuestions reads a question file written by Export. The format is
// taken from the file extension.
func ReadQuestions(path string) ([]question.Question, error) {
	return readRecords[question.Question](path)
}

// ReadCases reads an entailment case file written by Export.
func ReadCases(path string) ([]question.EntailmentCase, error) {
	return readRecords[question.EntailmentCase](path)
}

func readRecords[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []T
	if strings.HasSuffix(path, "."+string(FormatJSONL)) {
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		line := 0
		for sc.Scan() {
			line++
			if len(bytes.TrimSpace(sc.Bytes())) == 0 {
				continue
			}
			var r T
			if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, line, err)
			}
			out = append(out, r)
		}
		return out, sc.Err()
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}
