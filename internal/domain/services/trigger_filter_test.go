package services

import (
	"sync"
	"testing"

	"github.com/guildhook/guildhook/internal/domain/extension"
	"github.com/guildhook/guildhook/internal/domain/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messageOccurrence(content string, bot bool) *extension.Occurrence {
	author := &platform.User{ID: "u1", Username: "alice", Bot: bot}
	return &extension.Occurrence{
		Kind:    extension.OccurrenceEvent,
		Name:    "messageCreate",
		Channel: &platform.Channel{ID: "c1", Name: "general"},
		Member:  &platform.Member{User: author, RoleIDs: []string{"r-mod"}},
		Message: &platform.Message{ID: "m1", ChannelID: "c1", Author: author, Content: content},
	}
}

func TestNewOccurrenceEnv(t *testing.T) {
	t.Parallel()

	env := NewOccurrenceEnv(messageOccurrence("!rank", false))
	assert.Equal(t, "event", env.Kind)
	assert.Equal(t, "messageCreate", env.Name)
	assert.Equal(t, "c1", env.ChannelID)
	assert.Equal(t, "general", env.ChannelName)
	assert.Equal(t, "u1", env.UserID)
	assert.Equal(t, "!rank", env.Content)
	assert.Equal(t, []string{"r-mod"}, env.Roles)

	empty := NewOccurrenceEnv(nil)
	assert.Empty(t, empty.Kind)
	assert.NotNil(t, empty.Roles)
	assert.NotNil(t, empty.Payload)
}

func TestCompileFilter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		src     string
		wantNil bool
		wantErr bool
	}{
		{"empty", "  ", true, false},
		{"boolean", `content startsWith "!" && !bot`, false, false},
		{"unknown variable", `author == "x"`, false, true},
		{"not boolean", `content`, false, true},
		{"syntax error", `content ==`, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			program, err := CompileFilter(tt.src)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid trigger filter")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantNil, program == nil)
		})
	}
}

func TestTriggerMatcher_Matches(t *testing.T) {
	t.Parallel()

	event := extension.Trigger{Kind: extension.TriggerEvent, Event: "messageCreate"}
	filtered := event
	filtered.Filter = `content startsWith "!rank" && !bot && "r-mod" in roles`

	tests := []struct {
		name    string
		trigger extension.Trigger
		occ     *extension.Occurrence
		want    bool
		wantErr bool
	}{
		{"no filter", event, messageOccurrence("hello", false), true, false},
		{"filter passes", filtered, messageOccurrence("!rank me", false), true, false},
		{"filter rejects content", filtered, messageOccurrence("hello", false), false, false},
		{"filter rejects bots", filtered, messageOccurrence("!rank", true), false, false},
		{"kind mismatch skips filter", extension.Trigger{Kind: extension.TriggerCommand, Command: "rank", Filter: "bad =="}, messageOccurrence("!rank", false), false, false},
		{"broken filter", extension.Trigger{Kind: extension.TriggerEvent, Event: "messageCreate", Filter: "content =="}, messageOccurrence("x", false), false, true},
	}

	matcher := NewTriggerMatcher()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := matcher.Matches(tt.trigger, tt.occ)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTriggerMatcher_ConcurrentCache(t *testing.T) {
	t.Parallel()

	matcher := NewTriggerMatcher()
	trigger := extension.Trigger{Kind: extension.TriggerEvent, Event: "messageCreate", Filter: `channel_name == "general"`}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := matcher.Matches(trigger, messageOccurrence("x", false))
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()

	matcher.mu.RLock()
	defer matcher.mu.RUnlock()
	assert.Len(t, matcher.programs, 1)
}
