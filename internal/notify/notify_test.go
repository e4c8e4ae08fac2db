package notify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogSink_NotifySuccess(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))

	sink.Notify(Outcome{Mode: "full", FilesCopied: 3})

	require.Equal(t, 1, logs.Len())
	require.Equal(t, zapcore.InfoLevel, logs.All()[0].Level)
}

func TestLogSink_NotifyFailureLogsWarn(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))

	sink.Notify(Outcome{Mode: "incremental", Err: errors.New("sink failed")})

	require.Equal(t, 1, logs.Len())
	require.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
}
