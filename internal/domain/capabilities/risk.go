package capabilities

// RiskLevel represents the security risk level of a scope.
type RiskLevel int

const (
	// RiskLevelLow represents effects confined to the extension's own data.
	RiskLevelLow RiskLevel = iota
	// RiskLevelMedium represents visible effects on the tenant (messages, roles, channels).
	RiskLevelMedium
	// RiskLevelHigh represents effects that leave the platform or punish members.
	RiskLevelHigh
)

// String returns a human-readable representation of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLevelLow:
		return "low"
	case RiskLevelMedium:
		return "medium"
	case RiskLevelHigh:
		return "high"
	default:
		return "unknown"
	}
}

// RiskLevel returns the risk level of this scope.
// Unknown scopes are treated as high risk.
func (s Scope) RiskLevel() RiskLevel {
	switch s {
	case ScopeStorage, ScopePoints, ScopeInteractions:
		return RiskLevelLow
	case ScopeMessagesWrite, ScopeRolesManage, ScopeChannelsManage, ScopeSettingsWrite:
		return RiskLevelMedium
	default:
		return RiskLevelHigh
	}
}

// Description explains what granting the scope allows.
func (s Scope) Description() string {
	switch s {
	case ScopeMessagesWrite:
		return "Extension can send, edit and delete messages"
	case ScopeRolesManage:
		return "Extension can add and remove member roles"
	case ScopeMembersModerate:
		return "Extension can kick, ban and time out members"
	case ScopeChannelsManage:
		return "Extension can change channel topic and slowmode"
	case ScopeStorage:
		return "Extension can read and write its own key/value store"
	case ScopePoints:
		return "Extension can read balances and write points ledger entries"
	case ScopeNetwork:
		return "Extension can make outbound HTTP requests"
	case ScopeGameServer:
		return "Extension can query and send commands to linked game servers"
	case ScopeInteractions:
		return "Extension can reply to slash command interactions"
	case ScopeSettingsWrite:
		return "Extension can change protected server settings"
	default:
		return "Extension requires scope: " + string(s)
	}
}
