package auth

// UserContext is the authenticated caller of a request.
type UserContext struct {
	Subject   string   `json:"subject"`
	Scopes    []string `json:"scopes"`
	TokenType string   `json:"token_type"` // jwt or dev
}

// HasScope reports whether the caller was granted scope.
func (u *UserContext) HasScope(scope string) bool {
	for _, s := range u.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Scopes for authorization
const (
	ScopeResearchRead  = "research:read"
	ScopeResearchWrite = "research:write"
)

// AllScopes is granted to development callers when auth is disabled.
var AllScopes = []string{ScopeResearchRead, ScopeResearchWrite}
