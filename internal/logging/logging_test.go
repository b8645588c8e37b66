package logging_test

import (
	"testing"

	"production-ledger/internal/logging"

	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	testCases := []struct {
		level, format string
		enabled       zap.AtomicLevel
		wantErr       bool
	}{
		{"debug", "json", zap.NewAtomicLevelAt(zap.DebugLevel), false},
		{"warn", "console", zap.NewAtomicLevelAt(zap.WarnLevel), false},
		{"", "console", zap.NewAtomicLevelAt(zap.InfoLevel), false},
		{"verbose", "json", zap.AtomicLevel{}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.level+"/"+tc.format, func(t *testing.T) {
			logger, err := logging.New(tc.level, tc.format)
			if tc.wantErr {
				if err == nil {
					t.Fatal("Expected an error for unknown level")
				}
				return
			}
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			want := tc.enabled.Level()
			if !logger.Core().Enabled(want) {
				t.Errorf("Expected %s to be enabled", want)
			}
			if want > zap.DebugLevel && logger.Core().Enabled(want-1) {
				t.Errorf("Expected %s to be disabled", want-1)
			}
		})
	}
}
