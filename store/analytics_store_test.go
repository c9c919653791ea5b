package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketExpr(t *testing.T) {
	expr, err := bucketExpr("Hour")
	require.NoError(t, err)
	assert.Equal(t, "toStartOfHour(timestamp)", expr)

	for _, bad := range []string{"", "hour", "Day); DROP TABLE events; --"} {
		_, err := bucketExpr(bad)
		assert.Error(t, err, bad)
	}
}
