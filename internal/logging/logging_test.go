package logging

import (
	"testing"

	"go.uber.org/zap"
)

func TestNewLevels(t *testing.T) {
	cases := []struct {
		name       string
		production bool
		level      string
		debug      bool
	}{
		{name: "production default", production: true, debug: false},
		{name: "development default", production: false, debug: true},
		{name: "explicit debug", production: true, level: "debug", debug: true},
		{name: "explicit warn", production: false, level: "warn", debug: false},
		{name: "garbage falls back", production: true, level: "loud", debug: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			logger := New(tc.production, tc.level)
			if got := logger.Core().Enabled(zap.DebugLevel); got != tc.debug {
				t.Errorf("debug enabled = %v, want %v", got, tc.debug)
			}
		})
	}
}
