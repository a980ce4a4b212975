package hooks

import (
	"encoding/json"
	"strings"
	"testing"
)

func withFlow(t *testing.T, on bool) {
	t.Helper()
	old := flowEnabled
	flowEnabled = func() bool { return on }
	t.Cleanup(func() { flowEnabled = old })
}

func TestToolPostsObservation(t *testing.T) {
	withFlow(t, true)
	out := captureStdout(t)
	ts, requests := fakeServer(t, "")
	client := newClient(ts.URL, "ana")

	in := `{"session_id":"s 1","hook_event_name":"PostToolUse","tool_name":"Bash","tool_input":{"command":"go build ./..."},"tool_response":"ok\nok\nok"}`
	if err := dispatch(client, "tool", strings.NewReader(in)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	reqs := requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %+v, want one", reqs)
	}
	if reqs[0].path != "/api/sessions/s%201/observations" || reqs[0].owner != "ana" {
		t.Errorf("request = %+v", reqs[0])
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(reqs[0].body), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body["tool_name"] != "Bash" || body["tool_response"] != "ok\nok\nok" {
		t.Errorf("body = %v", body)
	}
	if !strings.Contains(body["tool_input"], `"command":"go build ./..."`) {
		t.Errorf("tool_input = %q, want raw JSON", body["tool_input"])
	}
	if out.Len() != 0 {
		t.Errorf("built-in tool output replaced: %q", out.String())
	}
}

func TestToolReplacesMCPOutput(t *testing.T) {
	withFlow(t, true)
	out := captureStdout(t)
	ts, _ := fakeServer(t, "")
	client := newClient(ts.URL, "ana")

	in := `{"session_id":"s1","tool_name":"mcp__ci__logs","tool_response":"long log"}`
	if err := dispatch(client, "tool", strings.NewReader(in)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	var parsed ToolOutput
	if err := json.Unmarshal(out.Bytes(), &parsed); err != nil {
		t.Fatalf("output %q: %v", out.String(), err)
	}
	if parsed.HookSpecificOutput.HookEventName != "PostToolUse" {
		t.Errorf("event = %q", parsed.HookSpecificOutput.HookEventName)
	}
	if got := parsed.HookSpecificOutput.UpdatedMCPToolOutput; got != "[compressed] built 3 packages" {
		t.Errorf("updated output = %q", got)
	}
}

func TestToolSkips(t *testing.T) {
	tests := []struct {
		name  string
		flow  bool
		input string
	}{
		{"flow off", false, `{"session_id":"s1","tool_name":"Bash","tool_response":"x"}`},
		{"bookkeeping tool", true, `{"session_id":"s1","tool_name":"TodoWrite","tool_response":"x"}`},
		{"no tool name", true, `{"session_id":"s1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withFlow(t, tt.flow)
			captureStdout(t)
			ts, requests := fakeServer(t, "")
			if err := dispatch(newClient(ts.URL, "ana"), "tool", strings.NewReader(tt.input)); err != nil {
				t.Fatalf("dispatch: %v", err)
			}
			if reqs := requests(); len(reqs) != 0 {
				t.Errorf("requests = %+v, want none", reqs)
			}
		})
	}
}

func TestToolRequiresSession(t *testing.T) {
	withFlow(t, true)
	ts, _ := fakeServer(t, "")
	err := dispatch(newClient(ts.URL, "ana"), "tool", strings.NewReader(`{"tool_name":"Bash"}`))
	if err == nil {
		t.Fatal("expected error without session id")
	}
}
