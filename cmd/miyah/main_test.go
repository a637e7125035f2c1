package main

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/miyah/internal/ui"
)

func TestMain(m *testing.M) {
	ui.SetColor(false)
	os.Exit(m.Run())
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// flagCommand returns a command carrying the config override flags.
func flagCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	for _, name := range []string{"server", "token", "nats", "transport", "codec"} {
		cmd.Flags().String(name, "", "")
	}
	return cmd
}

func TestLoadConfig_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("MIYAH_CONFIG", "")
	t.Setenv("MIYAH_SERVER_URL", "http://env:8080")
	t.Setenv("MIYAH_NATS_URL", "nats://env:4222")

	cmd := flagCommand()
	if err := cmd.Flags().Set("server", "http://flag:9090"); err != nil {
		t.Fatal(err)
	}
	if err := cmd.Flags().Set("transport", "kv"); err != nil {
		t.Fatal(err)
	}

	c, err := loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if c.ServerURL != "http://flag:9090" {
		t.Errorf("ServerURL = %q, want flag value", c.ServerURL)
	}
	if c.NATSURL != "nats://env:4222" {
		t.Errorf("NATSURL = %q, want env value", c.NATSURL)
	}
	if c.Transport != "kv" {
		t.Errorf("Transport = %q, want kv", c.Transport)
	}
	if c.Codec != "json" {
		t.Errorf("Codec = %q, want default json", c.Codec)
	}
}

func TestLoadConfig_InvalidFlag(t *testing.T) {
	t.Setenv("MIYAH_CONFIG", "")
	for _, tc := range []struct {
		flag, value string
	}{
		{"transport", "carrier-pigeon"},
		{"codec", "xml"},
	} {
		t.Run(tc.flag, func(t *testing.T) {
			cmd := flagCommand()
			if err := cmd.Flags().Set(tc.flag, tc.value); err != nil {
				t.Fatal(err)
			}
			if _, err := loadConfig(cmd); err == nil {
				t.Fatalf("expected error for --%s=%s", tc.flag, tc.value)
			}
		})
	}
}

func TestRootCommandTree(t *testing.T) {
	want := map[string]string{
		"request": "mesh",
		"watch":   "mesh",
		"peers":   "mesh",
		"reports": "reports",
		"serve":   "system",
		"hub":     "system",
		"health":  "system",
	}
	for _, c := range rootCmd.Commands() {
		group, ok := want[c.Name()]
		if !ok {
			continue
		}
		if c.GroupID != group {
			t.Errorf("%s: group = %q, want %q", c.Name(), c.GroupID, group)
		}
		delete(want, c.Name())
	}
	for name := range want {
		t.Errorf("command %q not registered", name)
	}
}
