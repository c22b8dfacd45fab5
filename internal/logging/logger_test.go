package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, ERROR, ParseLevel("ERROR"))
	assert.Equal(t, INFO, ParseLevel("неизвестно"))
}

// TestWriterLoggerFiltersLevels проверяет, что сообщения ниже порога отбрасываются
func TestWriterLoggerFiltersLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger("network", &buf, WARN)

	logger.Info("не должно попасть")
	logger.Warn("соединение %d закрыто", 7)
	logger.Error("ошибка")

	out := buf.String()
	assert.NotContains(t, out, "не должно попасть")
	assert.Contains(t, out, "[WARN] [network] соединение 7 закрыто")
	assert.Equal(t, 2, strings.Count(out, "\n"))
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	assert.NotPanics(t, func() { logger.Info("ничего") })
}
