package credential

import "strings"

// MinNativeSERPSecretLength is the minimum acceptable length for a
// native-SERP secret submitted through add().
const MinNativeSERPSecretLength = 32

var placeholderDenyList = []string{
	"your_api_key_here",
	"your_key_here",
	"change_me",
	"replace_with",
	"replace_me",
	"xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx",
	"test_key",
	"example_key",
}

// IsPlaceholder reports whether secret matches one of the known
// placeholder patterns configuration templates ship with.
func IsPlaceholder(secret string) bool {
	lower := strings.ToLower(strings.TrimSpace(secret))
	if lower == "" {
		return true
	}
	for _, deny := range placeholderDenyList {
		if strings.Contains(lower, deny) {
			return true
		}
	}
	return false
}

// ValidateSecret enforces the format rule add() applies to a
// newly-submitted secret: non-empty, not a known placeholder, and at
// least MinNativeSERPSecretLength characters for native-SERP
// credentials (custom-search secrets are shorter in practice, so only
// the placeholder/empty checks apply to them).
func ValidateSecret(provider Provider, secret string) error {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return &ValidationError{Reason: "secret must not be empty"}
	}
	if IsPlaceholder(trimmed) {
		return &ValidationError{Reason: "secret matches a known placeholder pattern"}
	}
	if provider == NativeSERP && len(trimmed) < MinNativeSERPSecretLength {
		return &ValidationError{Reason: "native SERP secret is shorter than the minimum length"}
	}
	return nil
}

// ValidationError reports why a candidate secret was rejected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "credential: " + e.Reason
}
