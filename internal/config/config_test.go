package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func emptyLookup(string) (string, bool) { return "", false }

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(emptyLookup, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("ListenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.UploadListenAddr != DefaultUploadListenAddr {
		t.Fatalf("UploadListenAddr=%q, want %q", cfg.UploadListenAddr, DefaultUploadListenAddr)
	}
	if cfg.SignalingWSIdleTimeout != DefaultSignalingWSIdleTimeout {
		t.Fatalf("SignalingWSIdleTimeout=%v, want %v", cfg.SignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	}
	if cfg.SignalingWSPingInterval != DefaultSignalingWSPingInterval {
		t.Fatalf("SignalingWSPingInterval=%v, want %v", cfg.SignalingWSPingInterval, DefaultSignalingWSPingInterval)
	}
	if cfg.MaxSignalingMessageBytes != DefaultMaxSignalingMessageBytes {
		t.Fatalf("MaxSignalingMessageBytes=%d, want %d", cfg.MaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	}
	if cfg.SignalingSendQueueSize != DefaultSignalingSendQueueSize {
		t.Fatalf("SignalingSendQueueSize=%d, want %d", cfg.SignalingSendQueueSize, DefaultSignalingSendQueueSize)
	}
	if cfg.UploadDir != DefaultUploadDir || cfg.UploadFieldName != DefaultUploadFieldName {
		t.Fatalf("upload dir/field=%q/%q", cfg.UploadDir, cfg.UploadFieldName)
	}
	if cfg.TURNREST.Enabled() {
		t.Fatalf("TURN REST enabled by default")
	}
	if cfg.ICEConfigError() != nil {
		t.Fatalf("ICEConfigError=%v", cfg.ICEConfigError())
	}
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	cfg, err := load(emptyLookup, []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
}

func TestExplicitLogFormatWinsOverMode(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarMode:      "prod",
		envVarLogFormat: "text",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
}

func TestPortOnlyEnvVars(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarSocketPort: "3000",
		envVarUploadPort: "3001",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":3000" {
		t.Fatalf("ListenAddr=%q, want %q", cfg.ListenAddr, ":3000")
	}
	if cfg.UploadListenAddr != ":3001" {
		t.Fatalf("UploadListenAddr=%q, want %q", cfg.UploadListenAddr, ":3001")
	}

	cfg, err = load(lookupMap(map[string]string{
		envVarSocketPort: "3000",
		envVarListenAddr: "127.0.0.1:9000",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9000" {
		t.Fatalf("ListenAddr=%q, want the full address to win", cfg.ListenAddr)
	}

	if _, err := load(lookupMap(map[string]string{envVarSocketPort: "70000"}), nil); err == nil {
		t.Fatal("expected error for out of range port")
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarListenAddr:             "127.0.0.1:1111",
		envVarSignalingSendQueueSize: "8",
	}), []string{"--listen-addr", "127.0.0.1:2222", "--signaling-send-queue-size=16"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:2222" {
		t.Fatalf("ListenAddr=%q", cfg.ListenAddr)
	}
	if cfg.SignalingSendQueueSize != 16 {
		t.Fatalf("SignalingSendQueueSize=%d, want 16", cfg.SignalingSendQueueSize)
	}
}

func TestSignalingLimitsValidation(t *testing.T) {
	for _, tc := range []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "ping not below idle",
			env:     map[string]string{envVarSignalingWSIdleTimeout: "10s", envVarSignalingWSPingInterval: "10s"},
			wantErr: "--signaling-ws-ping-interval must be <",
		},
		{
			name:    "zero message bytes",
			env:     map[string]string{envVarMaxSignalingMessageBytes: "0"},
			wantErr: "--max-signaling-message-bytes must be > 0",
		},
		{
			name:    "zero messages per second",
			env:     map[string]string{envVarMaxSignalingMessagesPerSecond: "0"},
			wantErr: "--max-signaling-messages-per-second must be > 0",
		},
		{
			name:    "zero send queue",
			env:     map[string]string{envVarSignalingSendQueueSize: "0"},
			wantErr: "--signaling-send-queue-size must be > 0",
		},
		{
			name:    "bad duration",
			env:     map[string]string{envVarSignalingWSIdleTimeout: "soon"},
			wantErr: envVarSignalingWSIdleTimeout,
		},
		{
			name:    "negative upload size",
			env:     map[string]string{envVarUploadMaxBytes: "-1"},
			wantErr: "--upload-max-bytes must be > 0",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(lookupMap(tc.env), nil)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err=%q, want substring %q", err, tc.wantErr)
			}
		})
	}
}

func TestAllowedOriginsNormalized(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarAllowedOrigins: "HTTPS://Example.com:443, http://localhost:5173,*",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"https://example.com", "http://localhost:5173", "*"}
	if strings.Join(cfg.AllowedOrigins, ",") != strings.Join(want, ",") {
		t.Fatalf("AllowedOrigins=%v, want %v", cfg.AllowedOrigins, want)
	}

	if _, err := load(lookupMap(map[string]string{envVarAllowedOrigins: "example.com"}), nil); err == nil {
		t.Fatal("expected error for origin without scheme")
	}
}

func TestTURNRESTValidation(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarTURNRESTSharedSecret: "s3cret",
		envTurnURLs:                "turn:turn.example.com:3478",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.TURNREST.Enabled() {
		t.Fatalf("TURN REST should be enabled")
	}
	if cfg.ICEConfigError() != nil {
		t.Fatalf("TURN urls without static creds should be accepted with TURN REST: %v", cfg.ICEConfigError())
	}

	if _, err := load(lookupMap(map[string]string{
		envVarTURNRESTSharedSecret:   "s3cret",
		envVarTURNRESTUsernamePrefix: "a:b",
	}), nil); err == nil {
		t.Fatal("expected error for username prefix containing ':'")
	}
}

func TestInvalidICEConfigDoesNotFailLoad(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envICEServersJSON: `[{"urls":["http://nope"]}]`,
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatal("expected ICEConfigError")
	}
	if len(cfg.ICEServers) != 0 {
		t.Fatalf("ICEServers=%v, want none", cfg.ICEServers)
	}
}

func TestConfigFileLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	const body = `
listen_addr: 127.0.0.1:7000
mode: prod
allowed_origins:
  - https://app.example.com
signaling:
  ping_interval: 5s
  idle_timeout: 30s
  send_queue_size: 32
upload:
  dir: /var/lib/uploads
  field_name: recording
ice:
  stun_urls:
    - stun:stun.example.com:3478
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	file, err := loadFile(path)
	if err != nil {
		t.Fatalf("loadFile: %v", err)
	}
	cfg, err := load(layered(lookupMap(map[string]string{
		envVarListenAddr: "127.0.0.1:7100",
	}), file), []string{"--config", path})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != "127.0.0.1:7100" {
		t.Fatalf("ListenAddr=%q, env should win over file", cfg.ListenAddr)
	}
	if cfg.Mode != ModeProd || cfg.LogFormat != LogFormatJSON {
		t.Fatalf("mode/logFormat=%q/%q", cfg.Mode, cfg.LogFormat)
	}
	if cfg.SignalingWSPingInterval != 5*time.Second || cfg.SignalingWSIdleTimeout != 30*time.Second {
		t.Fatalf("ping/idle=%v/%v", cfg.SignalingWSPingInterval, cfg.SignalingWSIdleTimeout)
	}
	if cfg.SignalingSendQueueSize != 32 {
		t.Fatalf("SignalingSendQueueSize=%d", cfg.SignalingSendQueueSize)
	}
	if cfg.UploadDir != "/var/lib/uploads" || cfg.UploadFieldName != "recording" {
		t.Fatalf("upload=%q/%q", cfg.UploadDir, cfg.UploadFieldName)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://app.example.com" {
		t.Fatalf("AllowedOrigins=%v", cfg.AllowedOrigins)
	}
	if len(cfg.ICEServers) != 1 {
		t.Fatalf("ICEServers=%v", cfg.ICEServers)
	}
}

func TestConfigFileRejectsMalformedYAML(t *testing.T) {
	if _, err := parseFile([]byte("signaling: [")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestConfigPathFromArgs(t *testing.T) {
	for _, tc := range []struct {
		args []string
		want string
	}{
		{args: nil, want: ""},
		{args: []string{"--config", "a.yaml"}, want: "a.yaml"},
		{args: []string{"-config=b.yaml"}, want: "b.yaml"},
		{args: []string{"--mode", "prod", "--config=c.yaml"}, want: "c.yaml"},
		{args: []string{"--", "--config", "d.yaml"}, want: ""},
	} {
		if got := configPathFromArgs(tc.args); got != tc.want {
			t.Fatalf("configPathFromArgs(%v)=%q, want %q", tc.args, got, tc.want)
		}
	}
}
