package runtime

import (
	"context"
	"testing"
)

func TestOutput_LastLine(t *testing.T) {
	tests := []struct {
		logs string
		want string
	}{
		{"cdo sellonlatbox: Open failed on >in.nc<\n", "cdo sellonlatbox: Open failed on >in.nc<"},
		{"warning: chunking\nERROR: lon out of range  \n\n", "ERROR: lon out of range"},
		{"", ""},
		{"\n\n", ""},
	}

	for _, tt := range tests {
		if got := (Output{Logs: tt.logs}).LastLine(); got != tt.want {
			t.Errorf("LastLine(%q) = %q, want %q", tt.logs, got, tt.want)
		}
	}
}

func TestCheckCommand(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	out, err := Run(context.Background(), rt, StartOptions{Command: checkCommand([]string{"sh", "ls"})})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.ExitCode != 0 {
		t.Errorf("expected exit 0 when every binary exists, got %d (%s)", out.ExitCode, out.Logs)
	}

	out, err = Run(context.Background(), rt, StartOptions{
		Command: checkCommand([]string{"sh", "isimip-no-such-tool", "ls"}),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.ExitCode != 127 {
		t.Errorf("expected exit 127 for a missing binary, got %d", out.ExitCode)
	}
	if out.LastLine() != "isimip-no-such-tool" {
		t.Errorf("expected the missing binary name, got %q", out.LastLine())
	}
}
