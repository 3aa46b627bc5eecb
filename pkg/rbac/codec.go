package rbac

import (
	"fmt"
	"strings"
)

// Storage tokens as written to the profile and role-assignment stores
const (
	TokenLearner           = "learner"
	TokenTeachingAssistant = "teaching_assistant"
	TokenTeacher           = "teacher"
	TokenAdministrator     = "administrator"
)

var roleTokens = map[Role]string{
	Learner:           TokenLearner,
	TeachingAssistant: TokenTeachingAssistant,
	Teacher:           TokenTeacher,
	Administrator:     TokenAdministrator,
}

var tokenRoles = map[string]Role{
	TokenLearner:           Learner,
	TokenTeachingAssistant: TeachingAssistant,
	TokenTeacher:           Teacher,
	TokenAdministrator:     Administrator,
}

// ToStorage maps a role to its storage token.
// Roles outside the enumeration map to the default role's token.
func ToStorage(r Role) string {
	if token, ok := roleTokens[r]; ok {
		return token
	}
	return TokenLearner
}

// ToDisplay maps a storage token to a role. Absent or unknown tokens map to
// Learner; it never fails.
func ToDisplay(token string) Role {
	if r, ok := tokenRoles[token]; ok {
		return r
	}
	return DefaultRole
}

// ToDisplayPtr is ToDisplay for nullable columns and optional claims
func ToDisplayPtr(token *string) Role {
	if token == nil {
		return DefaultRole
	}
	return ToDisplay(*token)
}

// ParseRole strictly parses a storage token or display name, case-insensitively.
// Use it for user input, where silently degrading to Learner would be wrong.
func ParseRole(s string) (Role, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	if r, ok := tokenRoles[normalized]; ok {
		return r, nil
	}
	for _, r := range AllRoles() {
		if strings.ToLower(r.String()) == normalized {
			return r, nil
		}
	}
	return DefaultRole, fmt.Errorf("%w: %q", ErrUnknownRole, s)
}
