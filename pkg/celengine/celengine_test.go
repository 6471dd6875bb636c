package celengine

import (
	"testing"

	"github.com/google/cel-go/cel"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(map[string]*cel.Type{
		"status":       cel.StringType,
		"failed_count": cel.IntType,
		"hosts":        cel.ListType(cel.StringType),
	})
	require.NoError(t, err)
	return e
}

func TestEvaluate(t *testing.T) {
	e := newEngine(t)
	attrs := map[string]any{
		"status":       "Partial",
		"failed_count": int64(2),
		"hosts":        []string{"web-1", "db-1"},
	}

	ok, err := e.Evaluate(`status == "Partial" && failed_count >= 2`, attrs)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.Evaluate(`"db-2" in hosts`, attrs)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestValidateRejectsNonBool(t *testing.T) {
	e := newEngine(t)
	require.Error(t, e.Validate(`failed_count + 1`))
	require.Error(t, e.Validate(`unknown_var == 1`))
	require.NoError(t, e.Validate(`status != "Succeeded"`))
}
