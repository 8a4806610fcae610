package rankconfig

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// unmarshalProviderConfig reads and parses the numbered credential
// entries from a provider config YAML file.
func unmarshalProviderConfig(location string) ([]ProviderEntry, error) {
	data, err := os.ReadFile(location)
	if err != nil {
		return nil, err
	}
	var file providerConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return file.Credentials, nil
}

// writeDefaultProviderConfig creates a provider config file with a
// commented example entry, so a first run gives the operator a
// template to fill in rather than a cryptic missing-file error.
func writeDefaultProviderConfig(location string) error {
	if err := os.MkdirAll(filepath.Dir(location), 0o755); err != nil {
		return err
	}

	const template = `# serpengine provider configuration
# Each entry is one credential in the pool. provider is either
# "native_serp" or "custom_search"; search_engine_id is only used by
# custom_search entries.
#
# credentials:
#   - provider: native_serp
#     secret: your_api_key_here
#     daily_limit: 100
#     monthly_limit: 3000
#     priority: 1
#   - provider: custom_search
#     secret: your_api_key_here
#     search_engine_id: your_search_engine_id
#     daily_limit: 100
#     monthly_limit: 3000
#     priority: 2

credentials: []
`
	return os.WriteFile(location, []byte(template), 0o600)
}
