// Package services contains stateless domain services shared by the dispatcher
// and the installer.
package services

import (
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/guildhook/guildhook/internal/domain/extension"
)

// maxFilterNodes bounds filter complexity.
const maxFilterNodes = 500

// OccurrenceEnv is the variable set a trigger filter is evaluated against.
type OccurrenceEnv struct {
	Kind        string         `expr:"kind"`
	Name        string         `expr:"name"`
	ChannelID   string         `expr:"channel_id"`
	ChannelName string         `expr:"channel_name"`
	UserID      string         `expr:"user_id"`
	Bot         bool           `expr:"bot"`
	Content     string         `expr:"content"`
	Roles       []string       `expr:"roles"`
	Options     map[string]any `expr:"options"`
	Payload     map[string]any `expr:"payload"`
}

// NewOccurrenceEnv flattens an occurrence into filter variables.
// Absent objects leave their fields at the zero value.
func NewOccurrenceEnv(occ *extension.Occurrence) OccurrenceEnv {
	env := OccurrenceEnv{
		Roles:   []string{},
		Options: map[string]any{},
		Payload: map[string]any{},
	}
	if occ == nil {
		return env
	}
	env.Kind = string(occ.Kind)
	env.Name = occ.Name
	if occ.Payload != nil {
		env.Payload = occ.Payload
	}

	if occ.Channel != nil {
		env.ChannelID = occ.Channel.ID
		env.ChannelName = occ.Channel.Name
	}

	user := occ.User
	if occ.Member != nil {
		env.Roles = append(env.Roles, occ.Member.RoleIDs...)
		if user == nil {
			user = occ.Member.User
		}
	}
	if msg := occ.Message; msg != nil {
		env.Content = msg.Content
		if env.ChannelID == "" {
			env.ChannelID = msg.ChannelID
		}
		if user == nil {
			user = msg.Author
		}
	}
	if in := occ.Interaction; in != nil {
		if in.Options != nil {
			env.Options = in.Options
		}
		if env.ChannelID == "" {
			env.ChannelID = in.ChannelID
		}
		if user == nil {
			user = in.User
		}
	}
	if user != nil {
		env.UserID = user.ID
		env.Bot = user.Bot
	}
	return env
}

// CompileFilter compiles a filter expression. An empty source compiles to nil.
func CompileFilter(src string) (*vm.Program, error) {
	if strings.TrimSpace(src) == "" {
		return nil, nil
	}
	program, err := expr.Compile(src,
		expr.Env(OccurrenceEnv{}),
		expr.AsBool(),
		expr.MaxNodes(maxFilterNodes),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid trigger filter: %w", err)
	}
	return program, nil
}

// TriggerMatcher decides whether an occurrence fires a trigger.
// Compiled filters are cached by source and safe for concurrent use.
type TriggerMatcher struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

// NewTriggerMatcher creates a matcher with an empty program cache.
func NewTriggerMatcher() *TriggerMatcher {
	return &TriggerMatcher{programs: make(map[string]*vm.Program)}
}

// Matches checks the trigger's kind and name, then its filter expression.
// A filter that fails to compile or evaluate is an error and never matches.
func (m *TriggerMatcher) Matches(t extension.Trigger, occ *extension.Occurrence) (bool, error) {
	if !t.Matches(occ) {
		return false, nil
	}
	if strings.TrimSpace(t.Filter) == "" {
		return true, nil
	}

	program, err := m.program(t.Filter)
	if err != nil {
		return false, err
	}

	out, err := expr.Run(program, NewOccurrenceEnv(occ))
	if err != nil {
		return false, fmt.Errorf("trigger filter: %w", err)
	}
	matched, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("trigger filter returned %T, want bool", out)
	}
	return matched, nil
}

func (m *TriggerMatcher) program(src string) (*vm.Program, error) {
	m.mu.RLock()
	program, found := m.programs[src]
	m.mu.RUnlock()
	if found {
		return program, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if program, found := m.programs[src]; found {
		return program, nil
	}
	program, err := CompileFilter(src)
	if err != nil {
		return nil, err
	}
	m.programs[src] = program
	return program, nil
}
