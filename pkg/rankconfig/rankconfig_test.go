package rankconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankpilot/serpengine/pkg/credential"
)

func TestWithDefaultsFillsSpecMandatedValues(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, "priority", o.RotationStrategy)
	assert.Equal(t, 5, o.BulkBatchSize)
	assert.Equal(t, 2, o.BulkMaxConcurrent)
	assert.Equal(t, 90, o.CleanupRetentionDays)
	assert.Equal(t, 2, o.BulkMaxRetries)
	assert.True(t, o.RequestTimeout > 0)
}

func TestWithDefaultsPreservesExplicitValues(t *testing.T) {
	o := Options{RotationStrategy: "least_used", BulkBatchSize: 10}.withDefaults()
	assert.Equal(t, "least_used", o.RotationStrategy)
	assert.Equal(t, 10, o.BulkBatchSize)
}

func TestWriteDefaultProviderConfigThenUnmarshalRoundTrips(t *testing.T) {
	dir := t.TempDir()
	location := filepath.Join(dir, "provider-config.yaml")

	require.NoError(t, writeDefaultProviderConfig(location))

	entries, err := unmarshalProviderConfig(location)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUnmarshalProviderConfigReadsCredentials(t *testing.T) {
	dir := t.TempDir()
	location := filepath.Join(dir, "provider-config.yaml")
	content := `credentials:
  - provider: native_serp
    secret: abcdefghijklmnopqrstuvwxyz123456
    daily_limit: 100
    monthly_limit: 3000
    priority: 1
`
	require.NoError(t, os.WriteFile(location, []byte(content), 0o600))

	entries, err := unmarshalProviderConfig(location)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "native_serp", entries[0].Provider)
	assert.Equal(t, 100, entries[0].DailyLimit)
}

func TestToCredentialsConvertsEntries(t *testing.T) {
	o := &Options{Providers: []ProviderEntry{
		{Provider: "native_serp", Secret: "abcdefghijklmnopqrstuvwxyz123456", DailyLimit: 100, MonthlyLimit: 3000, Priority: 2},
	}}
	creds := o.ToCredentials()
	require.Len(t, creds, 1)
	assert.Equal(t, credential.NativeSERP, creds[0].Provider)
	assert.Equal(t, 2, creds[0].Priority)
	assert.Equal(t, credential.OriginConfigured, creds[0].Origin)
}
