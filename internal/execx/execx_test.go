package execx

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSRunnerOutput(t *testing.T) {
	t.Parallel()

	out, err := NewOSRunner().Output(context.Background(), "sh", "-c", "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
}

func TestOSRunnerOutput_ErrorCarriesStderr(t *testing.T) {
	t.Parallel()

	_, err := NewOSRunner().Output(context.Background(), "sh", "-c", "echo broken radio >&2; exit 3")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "broken radio"), err.Error())
}

func TestOSRunnerOutput_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewOSRunner().Output(ctx, "sh", "-c", "sleep 5")
	assert.Error(t, err)
}
