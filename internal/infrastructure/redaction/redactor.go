// Package redaction scrubs credentials out of guest output and extension configuration.
package redaction

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
)

// Placeholder replaces redacted text unless hash mode is on.
const Placeholder = "[REDACTED]"

// Redactor scrubs secrets from strings and plain-data documents.
// It is read-only after construction and safe for concurrent use.
type Redactor struct {
	patterns []*regexp.Regexp
	fields   []string
	hashMode bool
	salt     string

	// detector is nil when gitleaks is disabled or its rules failed to load.
	detector *detect.Detector
}

// Config configures a Redactor.
type Config struct {
	// Patterns are extra regular expressions to scrub.
	Patterns []string
	// Fields are config keys whose string values are always replaced, such as "api_key".
	// A field matches at any depth.
	Fields []string
	// HashMode replaces secrets with a salted HMAC so repeated values can be correlated.
	HashMode bool
	Salt     string
	// DisableGitleaks restricts scrubbing to the built-in and custom patterns.
	DisableGitleaks bool
}

// New creates a Redactor. A gitleaks rule load failure is returned only when
// no fallback patterns exist.
func New(cfg Config) (*Redactor, error) {
	r := &Redactor{
		fields:   normalizeFields(cfg.Fields),
		hashMode: cfg.HashMode,
		salt:     cfg.Salt,
		patterns: make([]*regexp.Regexp, 0, len(cfg.Patterns)+len(builtinPatterns)),
	}

	for _, p := range append(append([]string{}, builtinPatterns...), cfg.Patterns...) {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to compile redaction pattern %s: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}

	if !cfg.DisableGitleaks {
		detector, err := newGitleaksDetector()
		if err != nil && len(r.patterns) == 0 {
			return nil, err
		}
		r.detector = detector
	}
	return r, nil
}

func newGitleaksDetector() (*detect.Detector, error) {
	v := viper.New()
	v.SetConfigType("toml")
	if err := v.ReadConfig(strings.NewReader(config.DefaultConfig)); err != nil {
		return nil, fmt.Errorf("failed to read gitleaks config: %w", err)
	}

	var vc config.ViperConfig
	if err := v.Unmarshal(&vc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gitleaks config: %w", err)
	}

	cfg, err := vc.Translate()
	if err != nil {
		return nil, fmt.Errorf("failed to translate gitleaks config: %w", err)
	}
	return detect.NewDetector(cfg), nil
}

// ScrubString replaces every detected secret in input.
func (r *Redactor) ScrubString(input string) string {
	if input == "" {
		return ""
	}
	result := input

	if r.detector != nil {
		for _, finding := range r.detector.Detect(detect.Fragment{Raw: result}) {
			if finding.Secret == "" {
				continue
			}
			result = strings.ReplaceAll(result, finding.Secret, r.replacement(finding.Secret))
		}
	}

	for _, re := range r.patterns {
		result = re.ReplaceAllStringFunc(result, r.replacement)
	}
	return result
}

// RedactConfig returns a scrubbed deep copy of an installation config document.
// The input is never modified.
func (r *Redactor) RedactConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return nil
	}
	out, _ := r.walk(cfg, "").(map[string]any)
	return out
}

func (r *Redactor) walk(data any, key string) any {
	switch v := data.(type) {
	case string:
		if r.isSensitiveField(key) {
			return r.replacement(v)
		}
		return r.ScrubString(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = r.walk(val, k)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = r.walk(val, key)
		}
		return out
	default:
		return v
	}
}

func (r *Redactor) isSensitiveField(key string) bool {
	if key == "" {
		return false
	}
	key = strings.ToLower(key)
	for _, f := range r.fields {
		if key == f || strings.HasSuffix(key, "_"+f) {
			return true
		}
	}
	return false
}

func (r *Redactor) replacement(secret string) string {
	if !r.hashMode {
		return Placeholder
	}
	mac := hmac.New(sha256.New, []byte(r.salt))
	mac.Write([]byte(secret))
	return fmt.Sprintf("[hmac:%s]", hex.EncodeToString(mac.Sum(nil))[:16])
}

func normalizeFields(in []string) []string {
	out := make([]string, 0, len(in)+len(DefaultFields))
	seen := make(map[string]bool)
	for _, f := range append(append([]string{}, DefaultFields...), in...) {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// DefaultFields are config keys treated as secrets in every installation.
var DefaultFields = []string{"token", "secret", "password", "api_key", "webhook_url"}

// builtinPatterns cover chat-platform credentials gitleaks does not know about.
var builtinPatterns = []string{
	// Bot token: base64 user id, timestamp, HMAC.
	`\b[MNO][A-Za-z\d_-]{23,27}\.[A-Za-z\d_-]{6}\.[A-Za-z\d_-]{27,40}\b`,
	// Incoming webhook URL with its token.
	`https://(?:ptb\.|canary\.)?discord(?:app)?\.com/api/webhooks/\d+/[A-Za-z\d_-]+`,
	`-----BEGIN [A-Z ]+ PRIVATE KEY-----`,
	`gh[pousr]_[A-Za-z0-9_]{36,255}`,
}
