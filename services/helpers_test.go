package services

import (
	"io"

	"github.com/replk8/voice-agent/logger"
)

func testLogger() *logger.Logger {
	return logger.NewLogger(io.Discard, logger.DEBUG, "test")
}
