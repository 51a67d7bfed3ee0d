package auth

import (
	"encoding/json"
	"strings"
)

// Permission is a capability tag granted to a session key.
type Permission string

const (
	PermViewDashboard   Permission = "VIEW_DASHBOARD"
	PermViewMembers     Permission = "VIEW_MEMBERS"
	PermViewLogs        Permission = "VIEW_LOGS"
	PermViewConnections Permission = "VIEW_CONNECTIONS"
	PermViewTickets     Permission = "VIEW_TICKETS"
	PermWarnMember      Permission = "WARN_MEMBER"
	PermAddNote         Permission = "ADD_NOTE"
	PermTempMute        Permission = "TEMP_MUTE"
	PermRequestBan      Permission = "REQUEST_BAN"
	PermTempBan         Permission = "TEMP_BAN"
	PermPermBan         Permission = "PERM_BAN"
	PermRemoveBan       Permission = "REMOVE_BAN"
	PermKickMember      Permission = "KICK_MEMBER"
	PermManageKeys      Permission = "MANAGE_KEYS"
	PermManageTickets   Permission = "MANAGE_TICKETS"

	// wildcardTag is the stored form of the "all permissions" grant.
	wildcardTag = "*"
)

// AllPermissions is the closed set of valid permission tags, in display order.
var AllPermissions = []Permission{
	PermViewDashboard,
	PermViewMembers,
	PermViewLogs,
	PermViewConnections,
	PermViewTickets,
	PermWarnMember,
	PermAddNote,
	PermTempMute,
	PermRequestBan,
	PermTempBan,
	PermPermBan,
	PermRemoveBan,
	PermKickMember,
	PermManageKeys,
	PermManageTickets,
}

var permissionIndex = func() map[Permission]int {
	m := make(map[Permission]int, len(AllPermissions))
	for i, p := range AllPermissions {
		m[p] = i
	}
	return m
}()

// Valid reports whether p belongs to the permission enumeration.
func (p Permission) Valid() bool {
	_, ok := permissionIndex[p]
	return ok
}

// Role is a staff rank. Ranks are totally ordered.
type Role string

const (
	RoleModerator  Role = "Modérateur"
	RoleAdmin      Role = "Admin"
	RoleSuperAdmin Role = "SuperAdmin"
	RoleFounder    Role = "Fondateur"
)

// Roles lists every role from lowest to highest rank.
var Roles = []Role{RoleModerator, RoleAdmin, RoleSuperAdmin, RoleFounder}

func (r Role) rank() int {
	for i, candidate := range Roles {
		if candidate == r {
			return i
		}
	}
	return -1
}

// Valid reports whether r is one of the four ranks.
func (r Role) Valid() bool { return r.rank() >= 0 }

// ParseRole converts a stored or requested role name.
func ParseRole(raw string) (Role, bool) {
	r := Role(strings.TrimSpace(raw))
	return r, r.Valid()
}

// AtLeast reports whether role ranks at or above min. Unknown roles never pass.
func AtLeast(role, min Role) bool {
	have, want := role.rank(), min.rank()
	if have < 0 || want < 0 {
		return false
	}
	return have >= want
}

// PermissionSet is a resolved grant. The wildcard is a distinct state of the set,
// not a member tag.
type PermissionSet struct {
	all  bool
	tags map[Permission]struct{}
}

// WildcardSet grants every permission.
func WildcardSet() PermissionSet {
	return PermissionSet{all: true}
}

// NewPermissionSet builds a set from known tags, silently dropping unknown ones.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := PermissionSet{tags: make(map[Permission]struct{}, len(perms))}
	for _, p := range perms {
		if p.Valid() {
			set.tags[p] = struct{}{}
		}
	}
	return set
}

// ParsePermissionSet reads the stored representation. A "*" entry yields the wildcard set.
func ParsePermissionSet(raw []string) PermissionSet {
	perms := make([]Permission, 0, len(raw))
	for _, item := range raw {
		item = strings.TrimSpace(item)
		if item == wildcardTag {
			return WildcardSet()
		}
		perms = append(perms, Permission(item))
	}
	return NewPermissionSet(perms...)
}

// IsWildcard reports whether the set grants everything.
func (s PermissionSet) IsWildcard() bool { return s.all }

// Allows reports whether the set grants p.
func (s PermissionSet) Allows(p Permission) bool {
	if s.all {
		return true
	}
	_, ok := s.tags[p]
	return ok
}

// Len returns the number of explicit tags. The wildcard set has length 0.
func (s PermissionSet) Len() int { return len(s.tags) }

// Strings returns the stored representation: ["*"] for the wildcard, otherwise the
// tags in enumeration order.
func (s PermissionSet) Strings() []string {
	if s.all {
		return []string{wildcardTag}
	}
	out := make([]string, 0, len(s.tags))
	for _, p := range AllPermissions {
		if _, ok := s.tags[p]; ok {
			out = append(out, string(p))
		}
	}
	return out
}

func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = ParsePermissionSet(raw)
	return nil
}

var roleDefaults = map[Role][]Permission{
	RoleModerator: {
		PermViewDashboard, PermViewMembers, PermViewTickets, PermWarnMember,
		PermAddNote, PermTempMute, PermRequestBan, PermKickMember,
	},
	RoleAdmin: {
		PermViewDashboard, PermViewMembers, PermViewLogs, PermViewTickets, PermWarnMember,
		PermAddNote, PermTempMute, PermRequestBan, PermKickMember, PermManageTickets,
	},
	RoleSuperAdmin: {
		PermViewDashboard, PermViewMembers, PermViewLogs, PermViewConnections, PermViewTickets,
		PermWarnMember, PermAddNote, PermTempMute, PermRequestBan, PermTempBan, PermPermBan,
		PermRemoveBan, PermKickMember, PermManageTickets,
	},
}

// DefaultPermissions returns the fixed grant of a role before extras.
func DefaultPermissions(role Role) PermissionSet {
	if role == RoleFounder {
		return WildcardSet()
	}
	return NewPermissionSet(roleDefaults[role]...)
}

// Resolve computes the effective grant for role plus requested extras. Founders get
// the wildcard and extras are ignored. Unknown extras are dropped.
func Resolve(role Role, extras []string) PermissionSet {
	defaults := DefaultPermissions(role)
	if defaults.IsWildcard() {
		return defaults
	}
	for _, item := range extras {
		p := Permission(strings.TrimSpace(item))
		if p.Valid() {
			defaults.tags[p] = struct{}{}
		}
	}
	return defaults
}
