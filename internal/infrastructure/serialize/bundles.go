package serialize

import (
	"github.com/guildhook/guildhook/internal/domain/capabilities"
	"github.com/guildhook/guildhook/internal/domain/extension"
)

// Bundle names resolvable by guest code through require.
const (
	BundleEvent       = "event"
	BundleGuild       = "guild"
	BundleChannel     = "channel"
	BundleMember      = "member"
	BundleUser        = "user"
	BundleMessage     = "message"
	BundleInteraction = "interaction"
	BundleConfig      = "config"
	BundleExtension   = "extension"
	BundleTenant      = "tenant"
)

// OccurrenceBundles serializes the occurrence and every platform object it carries.
// Objects the occurrence does not carry are omitted.
func OccurrenceBundles(o *extension.Occurrence) map[string]any {
	out := make(map[string]any, 7)
	if o == nil {
		return out
	}
	out[BundleEvent] = SerializeOccurrence(o)
	if g := SerializeGuild(o.Guild); g != nil {
		out[BundleGuild] = g
	}
	if c := SerializeChannel(o.Channel); c != nil {
		out[BundleChannel] = c
	}
	if m := SerializeMember(o.Member); m != nil {
		out[BundleMember] = m
	}

	user := o.User
	if user == nil && o.Member != nil {
		user = o.Member.User
	}
	if u := SerializeUser(user); u != nil {
		out[BundleUser] = u
	}
	if m := SerializeMessage(o.Message); m != nil {
		out[BundleMessage] = m
	}
	if i := SerializeInteraction(o.Interaction); i != nil {
		out[BundleInteraction] = i
	}
	return out
}

// Extension is the metadata a guest sees about itself.
type Extension struct {
	ID          string   `json:"id"`
	Version     string   `json:"version"`
	Name        string   `json:"name"`
	Scopes      []string `json:"scopes"`
	NetworkTier string   `json:"network_tier"`
}

// Tenant identifies the tenant a run belongs to.
type Tenant struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// RunBundles returns every bundle of one run: the occurrence objects, the
// resolved configuration, the extension's own metadata and its tenant.
func RunBundles(o *extension.Occurrence, m *extension.Manifest, granted capabilities.Set, config map[string]any) map[string]any {
	out := OccurrenceBundles(o)

	cfg := ClonePlain(config)
	if cfg == nil {
		cfg = map[string]any{}
	}
	out[BundleConfig] = cfg

	if m != nil {
		out[BundleExtension] = &Extension{
			ID:          m.ID,
			Version:     m.Version,
			Name:        m.Name,
			Scopes:      granted.Strings(),
			NetworkTier: m.Tier().String(),
		}
	}
	if o != nil {
		t := &Tenant{ID: o.TenantID}
		if o.Guild != nil {
			t.Name = o.Guild.Name
		}
		out[BundleTenant] = t
	}
	return out
}
