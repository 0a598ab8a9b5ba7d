package log

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerLogrusAdapter_LevelMapping(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.TraceLevel)
	adapter := NewBadgerLogrusAdapter(logrus.NewEntry(logger).WithField("component", "badgerdb"))

	adapter.Errorf("error %s", "x")
	adapter.Warningf("warning %d", 42)
	adapter.Infof("replaying %v", true)
	adapter.Debugf("compaction")

	entries := hook.AllEntries()
	require.Len(t, entries, 4)
	assert.Equal(t, logrus.ErrorLevel, entries[0].Level)
	assert.Equal(t, logrus.WarnLevel, entries[1].Level)
	assert.Equal(t, logrus.DebugLevel, entries[2].Level)
	assert.Equal(t, "replaying true", entries[2].Message)
	assert.Equal(t, logrus.TraceLevel, entries[3].Level)
	assert.Equal(t, "badgerdb", entries[0].Data["component"])
}

func TestBadgerLogrusAdapter_InfoHiddenAtInfoLevel(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetOutput(io.Discard)
	adapter := NewBadgerLogrusAdapter(logrus.NewEntry(logger))

	adapter.Infof("chatty")
	assert.Empty(t, hook.AllEntries())
}
