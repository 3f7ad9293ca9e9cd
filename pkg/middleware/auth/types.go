package auth

// Authentication providers recorded on User.
const (
	ProviderAppLink   = "applink"
	ProviderAssertion = "assert"
	ProviderDev       = "dev"
)

type AuthenticationSource struct {
	Provider string `json:"provider"`
}

// User is the resolved caller. For AppLink traffic it is the Salesforce user
// of the invoking org.
type User struct {
	Username             string               `json:"username"`
	UserID               string               `json:"userId,omitempty"`
	OrgID                string               `json:"orgId,omitempty"`
	AuthenticationSource AuthenticationSource `json:"authenticationSource"`
}
