package db

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOperationOf(t *testing.T) {
	require.Equal(t, "select", operationOf("\n  SELECT id FROM emails"))
	require.Equal(t, "insert", operationOf("INSERT INTO workflow_runs VALUES ($1)"))
	require.Equal(t, "unknown", operationOf("   "))
}
