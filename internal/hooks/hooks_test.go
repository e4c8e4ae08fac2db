package hooks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qbak-io/backupd/internal/logging"
)

func TestRun_EmptyCommandIsNoop(t *testing.T) {
	require.NoError(t, Run(context.Background(), "", 0, logging.Nop()))
}

func TestRun_SuccessfulCommand(t *testing.T) {
	require.NoError(t, Run(context.Background(), "exit 0", time.Second, logging.Nop()))
}

func TestRun_NonZeroExitIsError(t *testing.T) {
	err := Run(context.Background(), "exit 7", time.Second, logging.Nop())
	require.Error(t, err)
}

func TestRun_TimeoutExceededIsError(t *testing.T) {
	err := Run(context.Background(), "sleep 5", 50*time.Millisecond, logging.Nop())
	require.Error(t, err)
}
