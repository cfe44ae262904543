// Package report renders validation results as text, JSON, or JUnit XML.
// The core exposes only structured data; every output format lives here.
package report

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/agentwarden/agentwarden/internal/types"
	"github.com/agentwarden/agentwarden/internal/validation"
)

// Format selects an output renderer.
type Format string

const (
	FormatText  Format = "text"
	FormatJSON  Format = "json"
	FormatJUnit Format = "junit"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatText, "":
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatJUnit:
		return FormatJUnit, nil
	}
	return "", fmt.Errorf("unknown output format %q (valid: text, json, junit)", s)
}

var (
	styleOK       = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FB376")).Bold(true)
	styleFail     = lipgloss.NewStyle().Foreground(lipgloss.Color("#D26A5C")).Bold(true)
	styleWarn     = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5B567"))
	styleDim      = lipgloss.NewStyle().Faint(true)
	styleCritical = lipgloss.NewStyle().Foreground(lipgloss.Color("#D26A5C")).Bold(true)
	styleHigh     = lipgloss.NewStyle().Foreground(lipgloss.Color("#E07A4C"))
	styleMedium   = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5B567"))
	styleLow      = lipgloss.NewStyle().Foreground(lipgloss.Color("#8A8F98"))
)

// plainMode reports whether styled output should be suppressed.
func plainMode() bool {
	return termenv.EnvColorProfile() == termenv.Ascii
}

func severityBadge(s types.Severity, plain bool) string {
	label := strings.ToUpper(string(s))
	if plain {
		return "[" + label + "]"
	}
	switch s {
	case types.SeverityCritical:
		return styleCritical.Render("[" + label + "]")
	case types.SeverityHigh:
		return styleHigh.Render("[" + label + "]")
	case types.SeverityMedium:
		return styleMedium.Render("[" + label + "]")
	default:
		return styleLow.Render("[" + label + "]")
	}
}

// Render produces the result in the requested format.
func Render(r validation.Result, f Format) (string, error) {
	switch f {
	case FormatJSON:
		out, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode result: %w", err)
		}
		return string(out) + "\n", nil
	case FormatJUnit:
		return renderJUnit(r)
	default:
		return renderText(r), nil
	}
}

func renderText(r validation.Result) string {
	plain := plainMode()
	var sb strings.Builder

	verdict := "VALID"
	if !r.IsValid {
		verdict = "INVALID"
	}
	if plain {
		fmt.Fprintf(&sb, "Configuration: %s\n", verdict)
	} else if r.IsValid {
		fmt.Fprintf(&sb, "Configuration: %s\n", styleOK.Render(verdict))
	} else {
		fmt.Fprintf(&sb, "Configuration: %s\n", styleFail.Render(verdict))
	}

	fmt.Fprintf(&sb, "Security score: %d/100\n", r.SecurityScore)

	if len(r.Errors) > 0 {
		fmt.Fprintf(&sb, "\nErrors (%d):\n", len(r.Errors))
		for _, e := range r.Errors {
			fmt.Fprintf(&sb, "  %s %s\n", severityBadge(e.Severity, plain), e.Message)
		}
	}

	if len(r.Warnings) > 0 {
		fmt.Fprintf(&sb, "\nWarnings (%d):\n", len(r.Warnings))
		for _, w := range r.Warnings {
			if plain {
				fmt.Fprintf(&sb, "  %s %s\n", severityBadge(w.Severity, plain), w.Message)
			} else {
				fmt.Fprintf(&sb, "  %s %s\n", severityBadge(w.Severity, plain), styleWarn.Render(w.Message))
			}
		}
	}

	if len(r.Conflicts) > 0 {
		fmt.Fprintf(&sb, "\nConflicts (%d):\n", len(r.Conflicts))
		for _, c := range r.Conflicts {
			fmt.Fprintf(&sb, "  %s [%s] %s\n", severityBadge(c.Impact, plain), c.Kind, c.Message)
			for _, cr := range c.Rules {
				line := fmt.Sprintf("      %s[%d]: %s", cr.Category, cr.Location, cr.Pattern)
				if plain {
					sb.WriteString(line + "\n")
				} else {
					sb.WriteString(styleDim.Render(line) + "\n")
				}
			}
		}
	}

	if len(r.Suggestions) > 0 {
		fmt.Fprintf(&sb, "\nSuggestions (%d):\n", len(r.Suggestions))
		for _, s := range r.Suggestions {
			fmt.Fprintf(&sb, "  [%s] %s\n", s.Kind, s.Message)
			if s.AutoFix != nil {
				line := "      auto-fix: " + s.AutoFix.Description
				if plain {
					sb.WriteString(line + "\n")
				} else {
					sb.WriteString(styleDim.Render(line) + "\n")
				}
			}
		}
	}

	fmt.Fprintf(&sb, "\n%d rules processed in %.1fms (target %dms, achieved: %t)\n",
		r.Performance.RulesProcessed, r.Performance.ElapsedMs,
		r.Performance.TargetMs, r.Performance.Achieved)
	return sb.String()
}

// JUnit schema subset understood by common CI systems.
type junitTestSuite struct {
	XMLName  xml.Name        `xml:"testsuite"`
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Time     string          `xml:"time,attr"`
	Cases    []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

func renderJUnit(r validation.Result) (string, error) {
	suite := junitTestSuite{
		Name:  "agentwarden.validation",
		Time:  fmt.Sprintf("%.3f", r.Performance.ElapsedMs/1000),
		Tests: 1 + len(r.Errors),
	}

	overall := junitTestCase{Name: "configuration", ClassName: "validation"}
	if !r.IsValid {
		suite.Failures++
		overall.Failure = &junitFailure{
			Message: fmt.Sprintf("%d errors", len(r.Errors)),
			Type:    "ValidationFailure",
		}
	}
	suite.Cases = append(suite.Cases, overall)

	for i, e := range r.Errors {
		suite.Failures++
		suite.Cases = append(suite.Cases, junitTestCase{
			Name:      fmt.Sprintf("error-%d", i+1),
			ClassName: string(e.Kind),
			Failure: &junitFailure{
				Message: e.Message,
				Type:    string(e.Kind),
				Body:    e.Message,
			},
		})
	}

	out, err := xml.MarshalIndent(suite, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode junit report: %w", err)
	}
	return xml.Header + string(out) + "\n", nil
}
