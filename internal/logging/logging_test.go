package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ParsesLevelAndFormat(t *testing.T) {
	logger, err := New("debug", "json")
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	_, ok := logger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)
}

func TestNew_DefaultsToTextFormatter(t *testing.T) {
	logger, err := New("info", "anything-else")
	require.NoError(t, err)
	_, ok := logger.Formatter.(*logrus.TextFormatter)
	assert.True(t, ok)
}

func TestNew_RejectsInvalidLevel(t *testing.T) {
	_, err := New("not-a-level", "text")
	assert.Error(t, err)
}
