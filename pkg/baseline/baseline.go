// Package baseline compares captured command output against a stored copy.
package baseline

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"opsrun/pkg/system"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/afero"
)

var ErrNoBaseline = errors.New("no baseline recorded")

// Drift is the difference between a baseline and fresh output.
type Drift struct {
	Path     string
	Expected string
	Actual   string
	Diffs    []diffmatchpatch.Diff
}

// Changed reports whether the output differs from the baseline.
func (d *Drift) Changed() bool {
	return d.Expected != d.Actual
}

// Distance is the Levenshtein distance between baseline and output.
func (d *Drift) Distance() int {
	return diffmatchpatch.New().DiffLevenshtein(d.Diffs)
}

// Render formats the diff for a terminal. With color it uses the ANSI
// output of go-diff; otherwise deletions are shown as [-text-] and
// insertions as {+text+}.
func (d *Drift) Render(color bool) string {
	if color {
		return diffmatchpatch.New().DiffPrettyText(d.Diffs)
	}
	var sb strings.Builder
	for _, diff := range d.Diffs {
		switch diff.Type {
		case diffmatchpatch.DiffInsert:
			sb.WriteString("{+" + diff.Text + "+}")
		case diffmatchpatch.DiffDelete:
			sb.WriteString("[-" + diff.Text + "-]")
		default:
			sb.WriteString(diff.Text)
		}
	}
	return sb.String()
}

// Details returns a printable summary in the same layout the CLI uses for
// drift reports.
func (d *Drift) Details(color bool) []string {
	return []string{
		fmt.Sprintf("baseline drift: %s (distance %d)", d.Path, d.Distance()),
		"--- diff ---",
		d.Render(color),
		"--- end diff ---",
	}
}

// Load reads the baseline at path from system.AppFs.
func Load(path string) (string, error) {
	content, err := afero.ReadFile(system.AppFs, path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w at %s", ErrNoBaseline, path)
	}
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// Save records content as the baseline at path.
func Save(path, content string) error {
	return system.WriteFileAtomic(path, []byte(content), 0644)
}

// Compare diffs actual against the baseline at path.
func Compare(path, actual string) (*Drift, error) {
	expected, err := Load(path)
	if err != nil {
		return nil, err
	}
	return Diff(path, expected, actual), nil
}

// Diff computes the character diff between expected and actual.
func Diff(path, expected, actual string) *Drift {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(expected, actual, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	return &Drift{Path: path, Expected: expected, Actual: actual, Diffs: diffs}
}
