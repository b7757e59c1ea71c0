// Package capabilities provides interactive scope granting for installations.
package capabilities

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/guildhook/guildhook/internal/application/ports"
	"github.com/guildhook/guildhook/internal/domain/capabilities"
	"github.com/guildhook/guildhook/internal/domain/extension"
)

var _ ports.ScopePrompter = (*TerminalPrompter)(nil)

// TerminalPrompter asks an operator which scopes to grant using huh forms.
type TerminalPrompter struct{}

// NewTerminalPrompter creates a new TerminalPrompter.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{}
}

// IsInteractive checks if we're running in an interactive terminal.
func (p *TerminalPrompter) IsInteractive() bool {
	fileInfo, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	// A character device is a terminal, not a pipe or file
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// PromptForScopes shows a multi-select of candidates. Low and medium risk scopes
// start selected; high risk ones must be picked explicitly.
func (p *TerminalPrompter) PromptForScopes(m *extension.Manifest, candidates []capabilities.Scope) ([]capabilities.Scope, error) {
	options := make([]huh.Option[string], 0, len(candidates))
	for _, sc := range candidates {
		options = append(options,
			huh.NewOption(DescribeScope(sc), string(sc)).Selected(sc.RiskLevel() < capabilities.RiskLevelHigh))
	}

	var selected []string
	err := huh.NewMultiSelect[string]().
		Title(fmt.Sprintf("Grant scopes to %s (%s)", m.Name, m.Key())).
		Description("Ungranted scopes are simply unavailable to the extension.").
		Options(options...).
		Value(&selected).
		Run()
	if err != nil {
		return nil, err
	}

	out := make([]capabilities.Scope, 0, len(selected))
	for _, s := range selected {
		out = append(out, capabilities.Scope(s))
	}
	return out, nil
}

// ConfirmNetworkApproval asks for the human review that network tiers require.
func (p *TerminalPrompter) ConfirmNetworkApproval(m *extension.Manifest) (bool, error) {
	approved := false
	err := huh.NewConfirm().
		Title(fmt.Sprintf("Approve %s network access for %s?", m.Tier(), m.Key())).
		Description(describeTier(m.Tier())).
		Affirmative("Approve").
		Negative("Deny").
		Value(&approved).
		Run()
	return approved, err
}

// DescribeScope returns the scope with its risk for prompts and errors.
func DescribeScope(sc capabilities.Scope) string {
	return fmt.Sprintf("%s [%s risk] - %s", sc, sc.RiskLevel(), sc.Description())
}

func describeTier(t capabilities.NetworkTier) string {
	switch t {
	case capabilities.TierNetwork:
		return "HTTPS requests to any public host."
	case capabilities.TierNetworkAdvanced:
		return "HTTPS and plain HTTP requests to any public host."
	default:
		return "Requests to allowlisted hosts only."
	}
}

// FormatNonInteractiveError creates a helpful error message for non-interactive mode.
func FormatNonInteractiveError(m *extension.Manifest, missing []capabilities.Scope) error {
	var msg strings.Builder
	fmt.Fprintf(&msg, "%s requires scopes (running in non-interactive mode)\n\n", m.Key())
	msg.WriteString("Requested scopes:\n")
	for _, sc := range missing {
		fmt.Fprintf(&msg, "  - %s\n", DescribeScope(sc))
	}
	msg.WriteString("\nTo grant them:\n")
	msg.WriteString("  1. Run interactively and approve when prompted\n")
	msg.WriteString("  2. Pass --grant with a comma-separated scope list\n")
	msg.WriteString("  3. Pass --grant-all to grant everything declared\n")
	return fmt.Errorf("%s", msg.String())
}
