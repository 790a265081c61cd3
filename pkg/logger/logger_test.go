package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestNewSetsLevelAndFormat(t *testing.T) {
	log := New(LoggingConfig{Level: "debug", Format: "json"})
	require.Equal(t, logrus.DebugLevel, log.GetLevel())
	require.IsType(t, &logrus.JSONFormatter{}, log.Formatter)
}

func TestNewFallsBackToInfoOnUnknownLevel(t *testing.T) {
	log := New(LoggingConfig{Level: "chatty"})
	require.Equal(t, logrus.InfoLevel, log.GetLevel())
	require.IsType(t, &logrus.TextFormatter{}, log.Formatter)
}

func TestNewSelectsOutputStream(t *testing.T) {
	require.Equal(t, os.Stderr, New(LoggingConfig{Output: "stderr"}).Out)
	require.Equal(t, os.Stdout, New(LoggingConfig{Output: "stdout"}).Out)
	require.Equal(t, os.Stdout, New(LoggingConfig{}).Out)
}

func TestWithFieldsCarriesContext(t *testing.T) {
	log := New(LoggingConfig{Level: "info", Format: "json"})
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.WithFields(map[string]interface{}{"project": "p1", "block": 42}).Warn("decode failed")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "p1", line["project"])
	require.Equal(t, float64(42), line["block"])
	require.Equal(t, "decode failed", line["msg"])
}
