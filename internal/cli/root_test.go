package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func executeCommand(args ...string) (string, error) {
	cmd := NewRootCmd()
	var buf, errBuf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&errBuf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCmd_Help(t *testing.T) {
	out, err := executeCommand("run", "--help")
	if err != nil {
		t.Fatalf("run --help error = %v", err)
	}
	for _, flag := range []string{"--stages", "--vus", "--metrics-addr", "--env"} {
		if !strings.Contains(out, flag) {
			t.Errorf("help output missing %s", flag)
		}
	}
}

func TestRootCmd_InvalidLogging(t *testing.T) {
	if _, err := executeCommand("run", "--log-level", "loud"); err == nil || !strings.Contains(err.Error(), "invalid log level") {
		t.Errorf("expected invalid log level error, got %v", err)
	}

	t.Setenv("VURAMP_LOG_FORMAT", "xml")
	if _, err := executeCommand("run"); err == nil || !strings.Contains(err.Error(), "invalid log format") {
		t.Errorf("expected invalid log format error, got %v", err)
	}
}

func TestRootCmd_TooManyArgs(t *testing.T) {
	if _, err := executeCommand("run", "a.yaml", "b.yaml"); err == nil {
		t.Error("expected an error for two scenario files")
	}
}

func TestRootCmd_RunFromFlagsAndEnvironment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	t.Setenv("VURAMP_STAGES", "200ms:2,100ms:0")
	out, err := executeCommand("run", "--url", server.URL, "--json")
	if err != nil {
		t.Fatalf("run error = %v\n%s", err, out)
	}

	var report reportJSON
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if report.Result.Reason != "completed" {
		t.Errorf("Reason = %q, want completed", report.Result.Reason)
	}
	if report.Result.SpawnedVUs == 0 {
		t.Error("expected VUs to be spawned")
	}
}
