package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    Verdict
	}{
		{"explicit sentinel", "Lab connected successfully!", VerdictReady},
		{"sentinel case insensitive", "CONNECTED SUCCESSFULLY", VerdictReady},
		{"user prompt", "ubuntu@host:~$ ", VerdictReady},
		{"root prompt", "root@lab-42:/etc# ", VerdictReady},
		{"being created", "Your lab environment is being created", VerdictProvisioning},
		{"being set up", "The sandbox is being set up for you", VerdictProvisioning},
		{"starting", "Starting services...", VerdictProvisioning},
		{"please wait", "Please wait a moment", VerdictProvisioning},
		{"plain output", "total 52\ndrwxr-xr-x 5 root root", VerdictNone},
		{"empty", "", VerdictNone},
		{"prompt wins over starting", "starting done\nubuntu@host:~$ ", VerdictReady},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.message))
		})
	}
}

func TestParseControlFrame(t *testing.T) {
	frame, ok := parseControlFrame([]byte(`{"type":"ready"}`))
	assert.True(t, ok)
	assert.Equal(t, "ready", frame.Type)

	frame, ok = parseControlFrame([]byte(`  {"type":"provisioning","stage":"boot"}` + "\n"))
	assert.True(t, ok)
	assert.Equal(t, "boot", frame.Stage)

	frame, ok = parseControlFrame([]byte(`{"type":"data","payload":"x"}`))
	assert.True(t, ok)
	assert.Equal(t, "x", frame.Payload)

	// Raw shell bytes, malformed JSON and unknown types pass through.
	for _, raw := range []string{"ls -la", `{"type":"other"}`, `{"broken`, "", "{}"} {
		if _, ok := parseControlFrame([]byte(raw)); ok {
			t.Errorf("parseControlFrame(%q) should not be a control frame", raw)
		}
	}
}
