package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func setSingletonForTest(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, recorded := observer.New(zap.DebugLevel)
	prev := singleton.Load()
	SetLogger(zap.New(core).Sugar())
	t.Cleanup(func() { singleton.Store(prev) })
	return recorded
}

func TestLogLevels(t *testing.T) { //nolint:paralleltest // mutates singleton
	recorded := setSingletonForTest(t)

	Debug("debug msg")
	Infof("info %s", "formatted")
	Warnw("warn kv", "key", "val")
	Error("error msg")

	if recorded.Len() != 4 {
		t.Fatalf("expected 4 log entries, got %d", recorded.Len())
	}
}

func TestMaskToken(t *testing.T) {
	tests := []struct {
		token string
		want  string
	}{
		{"", "***"},
		{"short", "***"},
		{"abcdefgh12345678", "abcdefgh..."},
	}
	for _, tt := range tests {
		if got := MaskToken(tt.token); got != tt.want {
			t.Errorf("MaskToken(%q) = %q, want %q", tt.token, got, tt.want)
		}
	}
}

func TestAuditTagsEntries(t *testing.T) { //nolint:paralleltest // mutates singleton
	recorded := setSingletonForTest(t)

	Audit("permission denied", "category", "properties")

	entries := recorded.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	found := false
	for _, f := range entries[0].Context {
		if f.Key == "audit" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected audit field on logged entry")
	}
}
