// Package assemble builds the output document: one unit per input
// statement or block, in exactly the original order. Successful units
// carry converted SQL; failed units carry a single-line failure marker.
// Nothing is ever merged, reordered, or silently dropped.
package assemble

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/helios-labs/helios/internal/core"
)

// DefaultSuffix is appended to the input file stem for the output file.
const DefaultSuffix = "_helios"

// OutputPath derives the output file path next to the input:
// /dir/name.sql -> /dir/name<suffix>.sql.
func OutputPath(input, suffix string) string {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	dir := filepath.Dir(input)
	base := filepath.Base(input)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, stem+suffix+ext)
}

// Render concatenates the ordered units into the output document.
func Render(source string, units []core.OutputUnit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- Helios conversion output\n-- Source: %s\n\n", filepath.Base(source))
	for _, u := range units {
		switch {
		case u.Failure != nil:
			b.WriteString(u.Failure.Render())
			b.WriteString("\n\n")
		case u.Comment != "":
			b.WriteString(u.Comment)
			b.WriteString("\n\n")
		default:
			b.WriteString(strings.TrimRight(u.SQL, " \t\r\n;"))
			b.WriteString(";\n\n")
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// WriteFile renders and writes the output document.
func WriteFile(path, source string, units []core.OutputUnit) error {
	if err := os.WriteFile(path, []byte(Render(source, units)), 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// VerifyCoverage checks the output contract: exactly one unit per input
// unit, locations in non-decreasing source order, and no unit both failed
// and successful. A violation is a pipeline defect.
func VerifyCoverage(units []core.OutputUnit, want int) error {
	if len(units) != want {
		return fmt.Errorf("assemble: produced %d units for %d inputs", len(units), want)
	}
	for i, u := range units {
		if u.Index != i {
			return fmt.Errorf("assemble: unit %d carries index %d", i, u.Index)
		}
		if i > 0 && u.Location.Line < units[i-1].Location.Line {
			return fmt.Errorf("assemble: unit %d is out of source order", i)
		}
		if u.Failure != nil && u.SQL != "" {
			return fmt.Errorf("assemble: unit %d has both failure and output", i)
		}
	}
	return nil
}

// CommentOut renders a statement's text as inert comment lines, used for
// diagnostics that are preserved but not converted.
func CommentOut(text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "-- " + l
	}
	return strings.Join(lines, "\n")
}
