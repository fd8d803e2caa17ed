package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestFormatterRendersFieldsInFixedOrder(t *testing.T) {
	logger := logrus.New()
	logger.SetFormatter(&Formatter{})
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	logger.WithFields(logrus.Fields{"command": "echo", "call_id": 3, "service": "echo"}).Info("call completed")

	line := buf.String()
	require.Contains(t, line, "[info ]")
	require.Contains(t, line, "call_id=3 service=echo command=echo")
	require.Contains(t, line, "call completed")
}

func TestSetLevelFallsBackToInfoOnBadName(t *testing.T) {
	SetLevel("not-a-level")
	require.Equal(t, logrus.InfoLevel, logrus.GetLevel())

	SetLevel("debug")
	require.Equal(t, logrus.DebugLevel, logrus.GetLevel())
}

func TestToFileRotatesIntoDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, ToFile(dir, 1))
	logrus.Info("hello from the file sink")
	require.NoError(t, ToFile("", 1))
}
