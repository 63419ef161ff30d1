package auth

// Provider is the closed set of supported auth providers. Dispatch happens
// in Service.SignIn, not through string comparisons at call sites.
type Provider string

const (
	ProviderCredentials Provider = "credentials"
	ProviderGoogle      Provider = "google"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderCredentials, ProviderGoogle:
		return true
	}
	return false
}

func (p Provider) String() string {
	return string(p)
}
