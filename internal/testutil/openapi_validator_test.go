package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOpenAPIValidator(t *testing.T) {
	v, err := LoadOpenAPIValidator()
	require.NoError(t, err)
	require.NotNil(t, v.doc.Paths.Find("/api/v1/notifications"))
	require.NotNil(t, v.doc.Paths.Find("/api/v1/alerts/{id}/broadcast"))
}
