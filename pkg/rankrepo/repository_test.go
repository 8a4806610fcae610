package rankrepo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildWhereIncludesCollectionAndFilters(t *testing.T) {
	where, args := buildWhere("credentials", Filter{"status": "active"})
	assert.Contains(t, where, "collection = $1")
	assert.Contains(t, where, "body->>'status' = $2")
	assert.Equal(t, []any{"credentials", "active"}, args)
}

func TestSQLColumnMapsKnownFieldsDirectly(t *testing.T) {
	assert.Equal(t, "domain", sqlColumn("domain"))
	assert.Equal(t, "found", sqlColumn("found"))
	assert.Equal(t, "body->>'secret'", sqlColumn("secret"))
}

func TestBuildOrderByEmptyWhenNoSort(t *testing.T) {
	assert.Equal(t, "", buildOrderBy(nil))
}

func TestBuildOrderByDescending(t *testing.T) {
	clause := buildOrderBy([]SortField{{Field: "created_at", Desc: true}})
	assert.Equal(t, " ORDER BY created_at DESC", clause)
}

func TestAsIntAndAsFloatTolerateJSONNumbers(t *testing.T) {
	assert.Equal(t, 5, asInt(float64(5)))
	assert.Equal(t, 0, asInt(nil))
	assert.Equal(t, 2.5, asFloat(float64(2.5)))
}
