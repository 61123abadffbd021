// internal/types/ids_test.go
package types

import (
	"strings"
	"testing"
)

func TestNewTempEventID(t *testing.T) {
	id := NewTempEventID(PendingUserEcho)
	if !strings.HasPrefix(string(id), "temp-user-echo-") {
		t.Errorf("expected temp-user-echo prefix, got %s", id)
	}
	if !id.IsTemp() {
		t.Error("temp id should report IsTemp")
	}
	if EventID("60d5ec49abf8a7b6a0f3e8f1").IsTemp() {
		t.Error("server id should not report IsTemp")
	}
}

func TestTempEventIDsDistinct(t *testing.T) {
	a := NewTempEventID(PendingThinking)
	b := NewTempEventID(PendingThinking)
	if a == b {
		t.Errorf("expected distinct temp ids, got %s twice", a)
	}
}
