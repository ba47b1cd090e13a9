package logging

import "testing"

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level, format string
		wantErr       bool
	}{
		{level: "info", format: "json"},
		{level: "debug", format: "console"},
		{level: "warn", format: ""},
		{level: "loud", format: "json", wantErr: true},
		{level: "info", format: "xml", wantErr: true},
	}
	for _, tt := range tests {
		logger, err := New(tt.level, tt.format)
		if (err != nil) != tt.wantErr {
			t.Fatalf("New(%q, %q) err=%v, wantErr=%v", tt.level, tt.format, err, tt.wantErr)
		}
		if logger != nil {
			_ = logger.Sync()
		}
	}
}
