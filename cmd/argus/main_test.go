package main

import "testing"

func TestSetupLoggerAcceptsAllLevelsAndFormats(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		for _, format := range []string{"text", "json", "bogus"} {
			setupLogger(level, format)
		}
	}
}
