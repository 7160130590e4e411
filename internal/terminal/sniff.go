package terminal

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

// The lab backend streams raw shell bytes with no framing, so the client has
// to infer readiness by inspecting message text. This is best-effort string
// sniffing, not a protocol: a shell that happens to print one of the markers
// below will be misclassified. Servers that speak the newer tagged control
// frames (see controlFrame) bypass the sniffing entirely.

// Verdict classifies one inbound message for readiness detection.
type Verdict int

const (
	VerdictNone Verdict = iota
	VerdictReady
	VerdictProvisioning
)

// readyMarker is the explicit sentinel some lab images print once the shell
// is interactive.
const readyMarker = "connected successfully"

// promptPattern matches shell-prompt-looking output such as "ubuntu@host:~$ ".
var promptPattern = regexp.MustCompile(`[\w.\-]+@[\w.\-]+[^\r\n]*[#$]\s*$`)

// provisioningMarkers are phrases the provisioner prints while the sandbox is
// still being built.
var provisioningMarkers = []string{
	"being created",
	"being set up",
	"starting",
	"please wait",
}

// Classify inspects one inbound message for readiness or provisioning markers.
func Classify(message string) Verdict {
	lower := strings.ToLower(message)

	if strings.Contains(lower, readyMarker) || promptPattern.MatchString(message) {
		return VerdictReady
	}
	for _, marker := range provisioningMarkers {
		if strings.Contains(lower, marker) {
			return VerdictProvisioning
		}
	}
	return VerdictNone
}

// controlFrame is the structured alternative to marker sniffing: a single
// JSON object multiplexed into the byte stream. Recognised types:
//
//	{"type":"ready"}
//	{"type":"provisioning","stage":"..."}
//	{"type":"data","payload":"..."}
type controlFrame struct {
	Type    string `json:"type"`
	Stage   string `json:"stage,omitempty"`
	Payload string `json:"payload,omitempty"`
}

// parseControlFrame reports whether data is a recognised control frame.
// Anything that does not parse as one is treated as raw shell bytes.
func parseControlFrame(data []byte) (controlFrame, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return controlFrame{}, false
	}
	var frame controlFrame
	if err := json.Unmarshal(trimmed, &frame); err != nil {
		return controlFrame{}, false
	}
	switch frame.Type {
	case "ready", "provisioning", "data":
		return frame, true
	}
	return controlFrame{}, false
}
