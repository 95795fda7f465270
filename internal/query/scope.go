package query

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidScope is returned for an unrecognized scope token or a scope
// missing the id it needs.
var ErrInvalidScope = errors.New("invalid scope")

// ScopeKind selects the aggregation boundary.
type ScopeKind int

const (
	Global ScopeKind = iota
	Community
	User
)

func (k ScopeKind) String() string {
	switch k {
	case Global:
		return "global"
	case Community:
		return "community"
	case User:
		return "user"
	}
	return fmt.Sprintf("ScopeKind(%d)", int(k))
}

// Scope bounds a query. CommunityID is required for Community and optional
// for User, where it narrows the user's records to one community.
type Scope struct {
	Kind        ScopeKind
	CommunityID string
	UserID      string
}

// GlobalScope covers every community.
func GlobalScope() Scope { return Scope{Kind: Global} }

// CommunityScope covers one community.
func CommunityScope(communityID string) Scope {
	return Scope{Kind: Community, CommunityID: communityID}
}

// UserScope covers one user, optionally within one community.
func UserScope(userID, communityID string) Scope {
	return Scope{Kind: User, UserID: userID, CommunityID: communityID}
}

// ParseScope maps a user-facing token to a Scope. communityID and userID are
// the context of the request. An empty token means global.
func ParseScope(token, communityID, userID string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "", "global", "overall", "all":
		return GlobalScope(), nil
	case "guild", "server", "community":
		s := CommunityScope(communityID)
		return s, s.Validate()
	case "user", "me":
		s := UserScope(userID, communityID)
		return s, s.Validate()
	}
	return Scope{}, fmt.Errorf("%w: %q (want global, guild or me)", ErrInvalidScope, token)
}

// Validate checks that the scope carries the ids its kind needs.
func (s Scope) Validate() error {
	switch s.Kind {
	case Global:
		return nil
	case Community:
		if s.CommunityID == "" {
			return fmt.Errorf("%w: community scope needs a community", ErrInvalidScope)
		}
		return nil
	case User:
		if s.UserID == "" {
			return fmt.Errorf("%w: user scope needs a user", ErrInvalidScope)
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidScope, s.Kind)
}

func (s Scope) matches(userID, communityID string) bool {
	switch s.Kind {
	case Community:
		return communityID == s.CommunityID
	case User:
		if userID != s.UserID {
			return false
		}
		return s.CommunityID == "" || communityID == s.CommunityID
	}
	return true
}
