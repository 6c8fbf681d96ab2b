package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMaskFieldRedactsSecrets(t *testing.T) {
	if got := MaskField("Authorization", "Bearer abc").Value.String(); got != "Bearer "+RedactedValue {
		t.Fatalf("expected bearer scheme with redacted token, got %q", got)
	}
	if got := MaskField("hmac_secret", "abc").Value.String(); got != RedactedValue {
		t.Fatalf("expected redacted secret, got %q", got)
	}
	if got := MaskField("staker", "0xabc"); got.Value.String() != "0xabc" {
		t.Fatalf("ordinary keys should pass through, got %q", got.Value.String())
	}
	if got := MaskField("token", "  "); got.Value.String() != "  " {
		t.Fatalf("empty values should not be masked")
	}
	masked := MaskField("authorization", "Bearer abc")
	if again := redactAttr(masked); again.Value.String() != masked.Value.String() {
		t.Fatalf("masking must be idempotent, got %q", again.Value.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupWritesRotatedFile(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	path := filepath.Join(t.TempDir(), "stakingd.log")
	logger := Setup("stakingd", "test", Options{File: path, MaxSizeMB: 1})
	logger.Info("ledger initialised", slog.String("component", "stakerewards"), slog.String("dsn", "postgres://ledger:hunter2@db/ledger"))

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(raw)
	for _, want := range []string{`"message":"ledger initialised"`, `"severity":"INFO"`, `"service":"stakingd"`, `"env":"test"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line missing %s: %s", want, line)
		}
	}
	if strings.Contains(line, "hunter2") {
		t.Fatalf("dsn leaked into log output: %s", line)
	}
}
