package services

import (
	"fmt"
	"log/slog"

	apperrors "github.com/guildhook/guildhook/internal/application/errors"
	"github.com/guildhook/guildhook/internal/application/ports"
	"github.com/guildhook/guildhook/internal/domain/capabilities"
	"github.com/guildhook/guildhook/internal/domain/extension"
)

// SecurityLevel controls how high-risk scopes are granted at install time.
type SecurityLevel string

const (
	// SecurityStrict never grants high-risk scopes or network approval without an explicit preset.
	SecurityStrict SecurityLevel = "strict"
	// SecurityStandard prompts for every scope.
	SecurityStandard SecurityLevel = "standard"
	// SecurityPermissive grants everything declared without prompting.
	SecurityPermissive SecurityLevel = "permissive"
)

// ParseSecurityLevel parses a level name. An empty name is standard.
func ParseSecurityLevel(raw string) (SecurityLevel, error) {
	switch SecurityLevel(raw) {
	case "", SecurityStandard:
		return SecurityStandard, nil
	case SecurityStrict, SecurityPermissive:
		return SecurityLevel(raw), nil
	default:
		return "", fmt.Errorf("unknown security level %q (want strict, standard or permissive)", raw)
	}
}

// GrantOptions carry the operator's non-interactive decisions.
type GrantOptions struct {
	// Preset grants exactly these scopes, intersected with what the manifest declares.
	Preset []capabilities.Scope
	// GrantAll grants every declared scope.
	GrantAll bool
	// ApproveNetwork records the human review a network tier requires.
	// GrantAll does not imply it.
	ApproveNetwork bool
}

// ScopeGatekeeper decides which declared scopes a tenant grants an extension.
type ScopeGatekeeper struct {
	prompter ports.ScopePrompter
	level    SecurityLevel
	logger   *slog.Logger
}

// NewScopeGatekeeper creates a new scope gatekeeper. A nil prompter makes every
// decision non-interactive.
func NewScopeGatekeeper(prompter ports.ScopePrompter, level SecurityLevel, logger *slog.Logger) *ScopeGatekeeper {
	if level == "" {
		level = SecurityStandard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScopeGatekeeper{prompter: prompter, level: level, logger: logger}
}

// GrantScopes returns the granted set and whether network access was approved.
func (g *ScopeGatekeeper) GrantScopes(m *extension.Manifest, opts GrantOptions) (capabilities.Set, bool, error) {
	declared := m.RequiredScopes

	granted, err := g.grant(m, declared, opts)
	if err != nil {
		return capabilities.Set{}, false, err
	}

	approved, err := g.approveNetwork(m, granted, opts)
	if err != nil {
		return capabilities.Set{}, false, err
	}
	return granted, approved, nil
}

func (g *ScopeGatekeeper) grant(m *extension.Manifest, declared capabilities.Set, opts GrantOptions) (capabilities.Set, error) {
	if opts.GrantAll {
		g.logger.Warn("granting all declared scopes", "extension", m.Key(), "scopes", declared.Strings())
		return declared, nil
	}

	if opts.Preset != nil {
		var undeclared []capabilities.Scope
		for _, sc := range opts.Preset {
			if !declared.Contains(sc) {
				undeclared = append(undeclared, sc)
			}
		}
		if len(undeclared) > 0 {
			return capabilities.Set{}, apperrors.NewScopeError(
				fmt.Sprintf("%s does not declare %v", m.Key(), undeclared), undeclared)
		}
		return capabilities.Granted(declared, capabilities.NewSet(opts.Preset...)), nil
	}

	candidates := declared.Slice()
	if len(candidates) == 0 {
		return capabilities.NewSet(), nil
	}

	switch g.level {
	case SecurityPermissive:
		g.logger.Warn("auto-granting declared scopes (permissive mode)", "extension", m.Key(), "scopes", declared.Strings())
		return declared, nil

	case SecurityStrict:
		var allowed []capabilities.Scope
		for _, sc := range candidates {
			if sc.RiskLevel() >= capabilities.RiskLevelHigh {
				g.logger.Error("high-risk scope denied by security policy",
					"level", string(SecurityStrict), "extension", m.Key(), "scope", string(sc))
				continue
			}
			allowed = append(allowed, sc)
		}
		candidates = allowed
		if len(candidates) == 0 {
			return capabilities.NewSet(), nil
		}
	}

	if g.prompter == nil || !g.prompter.IsInteractive() {
		return capabilities.Set{}, apperrors.NewScopeError(
			fmt.Sprintf("%s requests scopes and no interactive terminal is available", m.Key()), candidates)
	}

	selected, err := g.prompter.PromptForScopes(m, candidates)
	if err != nil {
		return capabilities.Set{}, fmt.Errorf("scope prompt: %w", err)
	}
	return capabilities.Granted(capabilities.NewSet(candidates...), capabilities.NewSet(selected...)), nil
}

func (g *ScopeGatekeeper) approveNetwork(m *extension.Manifest, granted capabilities.Set, opts GrantOptions) (bool, error) {
	if !m.Tier().RequiresApproval() || !granted.Contains(capabilities.ScopeNetwork) {
		return false, nil
	}
	if opts.ApproveNetwork {
		g.logger.Info("network access approved by operator", "extension", m.Key(), "tier", m.Tier().String())
		return true, nil
	}
	if g.level == SecurityStrict || g.prompter == nil || !g.prompter.IsInteractive() {
		g.logger.Warn("network access left unapproved", "extension", m.Key(), "tier", m.Tier().String())
		return false, nil
	}

	approved, err := g.prompter.ConfirmNetworkApproval(m)
	if err != nil {
		return false, fmt.Errorf("network approval prompt: %w", err)
	}
	return approved, nil
}
