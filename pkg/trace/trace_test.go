package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureKeepsExistingTraceID(t *testing.T) {
	ctx := WithContext(context.Background(), "abc")
	require.Equal(t, "abc", FromContext(Ensure(ctx)))
}

func TestEnsureGeneratesTraceID(t *testing.T) {
	ctx := Ensure(context.Background())
	require.Len(t, FromContext(ctx), 32)
}
