package config

import (
	"strings"
	"testing"
	"time"

	"github.com/guildhook/guildhook/internal/domain/extension"
	"github.com/guildhook/guildhook/internal/domain/platform"
	"github.com/guildhook/guildhook/internal/infrastructure/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const commandFixture = `
tenant:
  id: guild-1
  name: Test Guild
  settings:
    prefix: "!"
  roles:
    - {id: r1, name: Member}
    - {id: r-bot, name: Bot, managed: true}
  channels:
    - {id: c1, name: general}
installation:
  scopes: [interactions, points]
  network_approved: false
occurrence:
  kind: command
  name: rank
  channel: c1
  user: {id: u1, username: alice}
  member_roles: [r1]
  interaction:
    id: i1
    token: tok
    options: {public: true}
points:
  u1: 40
`

func TestLoadFixture_Command(t *testing.T) {
	t.Parallel()

	fx, err := LoadFixtureFromReader(strings.NewReader(commandFixture))
	require.NoError(t, err)

	guild := fx.Guild()
	assert.Equal(t, "guild-1", guild.ID)
	require.Len(t, guild.Roles, 2)
	assert.True(t, guild.Roles[1].Managed)
	assert.Equal(t, platform.ChannelText, guild.Channels[0].Type)

	inst := fx.Installation("ranks")
	assert.Equal(t, "guild-1/ranks", inst.Key())
	assert.True(t, inst.Enabled)
	assert.Equal(t, []string{"interactions", "points"}, inst.GrantedScopes.Strings())

	occ := fx.Occurrence(guild)
	assert.Equal(t, extension.OccurrenceCommand, occ.Kind)
	assert.Equal(t, "general", occ.Channel.Name)
	assert.Equal(t, "alice", occ.Member.User.Username)
	require.NotNil(t, occ.Interaction)
	assert.Equal(t, "rank", occ.Interaction.CommandName)
	assert.Equal(t, "tok", occ.Interaction.Token)
	assert.Equal(t, int64(40), fx.Points["u1"])
	assert.NotEmpty(t, occ.ID)
}

func TestLoadFixture_Errors(t *testing.T) {
	t.Parallel()

	_, err := LoadFixtureFromReader(strings.NewReader("occurrence: {kind: event}"))
	assert.ErrorContains(t, err, "tenant.id")

	_, err = LoadFixtureFromReader(strings.NewReader("tenant: {id: g}\noccurrence: {kind: earthquake}"))
	assert.ErrorContains(t, err, "unknown occurrence kind")

	fx, err := LoadFixtureFromReader(strings.NewReader("tenant: {id: g}"))
	require.NoError(t, err)
	assert.Equal(t, string(extension.OccurrenceEvent), fx.OccurrenceSpec.Kind)
}

func TestFromSystemConfig(t *testing.T) {
	t.Parallel()

	sys := system.DefaultConfig()
	sys.Sandbox.Timeout = 3 * time.Second
	sys.Redaction.HashMode.Enabled = true
	sys.Network.RedisAddr = "localhost:6379"

	rc := FromSystemConfig(sys)
	rc.ApplyDefaults()

	assert.Equal(t, 3*time.Second, rc.Engine.Timeout)
	assert.Equal(t, system.DefaultMemoryLimitMB, rc.Engine.MemoryLimitMB)
	assert.True(t, rc.Redaction.HashMode)
	assert.Equal(t, "localhost:6379", rc.RedisAddr)
	assert.Equal(t, system.DefaultConcurrency, rc.Concurrency)

	empty := &RuntimeConfig{}
	empty.ApplyDefaults()
	assert.Positive(t, empty.Concurrency)
	assert.Equal(t, system.DefaultRateLimitMax, empty.RateLimitMax)
}
