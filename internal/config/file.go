package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileConfig is the optional YAML config file. Every key maps onto the
// environment variable of the same setting; real environment variables and
// flags take precedence over it. ${VAR} references are expanded before
// parsing so secrets can stay in the environment.
type fileConfig struct {
	ListenAddr      string   `yaml:"listen_addr"`
	PublicBaseURL   string   `yaml:"public_base_url"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	Mode            string   `yaml:"mode"`
	LogFormat       string   `yaml:"log_format"`
	LogLevel        string   `yaml:"log_level"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`

	Signaling struct {
		IdleTimeout          string `yaml:"idle_timeout"`
		PingInterval         string `yaml:"ping_interval"`
		MaxMessageBytes      int64  `yaml:"max_message_bytes"`
		MaxMessagesPerSecond int    `yaml:"max_messages_per_second"`
		SendQueueSize        int    `yaml:"send_queue_size"`
	} `yaml:"signaling"`

	Upload struct {
		ListenAddr string `yaml:"listen_addr"`
		Dir        string `yaml:"dir"`
		FieldName  string `yaml:"field_name"`
		MaxBytes   int64  `yaml:"max_bytes"`
	} `yaml:"upload"`

	ICE struct {
		ServersJSON    string   `yaml:"servers_json"`
		StunURLs       []string `yaml:"stun_urls"`
		TurnURLs       []string `yaml:"turn_urls"`
		TurnUsername   string   `yaml:"turn_username"`
		TurnCredential string   `yaml:"turn_credential"`
	} `yaml:"ice"`

	TURNREST struct {
		SharedSecret   string `yaml:"shared_secret"`
		TTLSeconds     int64  `yaml:"ttl_seconds"`
		UsernamePrefix string `yaml:"username_prefix"`
		Realm          string `yaml:"realm"`
	} `yaml:"turn_rest"`
}

func loadFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return parseFile([]byte(os.ExpandEnv(string(raw))))
}

func parseFile(raw []byte) (map[string]string, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	values := map[string]string{}
	set := func(key, value string) {
		if strings.TrimSpace(value) != "" {
			values[key] = value
		}
	}
	setInt := func(key string, n int64) {
		if n != 0 {
			values[key] = strconv.FormatInt(n, 10)
		}
	}

	set(envVarListenAddr, fc.ListenAddr)
	set(envVarPublicBaseURL, fc.PublicBaseURL)
	set(envVarAllowedOrigins, strings.Join(fc.AllowedOrigins, ","))
	set(envVarMode, fc.Mode)
	set(envVarLogFormat, fc.LogFormat)
	set(envVarLogLevel, fc.LogLevel)
	set(envVarShutdownTimeout, fc.ShutdownTimeout)

	set(envVarSignalingWSIdleTimeout, fc.Signaling.IdleTimeout)
	set(envVarSignalingWSPingInterval, fc.Signaling.PingInterval)
	setInt(envVarMaxSignalingMessageBytes, fc.Signaling.MaxMessageBytes)
	setInt(envVarMaxSignalingMessagesPerSecond, int64(fc.Signaling.MaxMessagesPerSecond))
	setInt(envVarSignalingSendQueueSize, int64(fc.Signaling.SendQueueSize))

	set(envVarUploadListenAddr, fc.Upload.ListenAddr)
	set(envVarUploadDir, fc.Upload.Dir)
	set(envVarUploadFieldName, fc.Upload.FieldName)
	setInt(envVarUploadMaxBytes, fc.Upload.MaxBytes)

	set(envICEServersJSON, fc.ICE.ServersJSON)
	set(envStunURLs, strings.Join(fc.ICE.StunURLs, ","))
	set(envTurnURLs, strings.Join(fc.ICE.TurnURLs, ","))
	set(envTurnUsername, fc.ICE.TurnUsername)
	set(envTurnCredential, fc.ICE.TurnCredential)

	set(envVarTURNRESTSharedSecret, fc.TURNREST.SharedSecret)
	setInt(envVarTURNRESTTTLSeconds, fc.TURNREST.TTLSeconds)
	set(envVarTURNRESTUsernamePrefix, fc.TURNREST.UsernamePrefix)
	set(envVarTURNRESTRealm, fc.TURNREST.Realm)

	return values, nil
}

// layered consults primary first and falls back to the file values.
func layered(primary func(string) (string, bool), file map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := primary(key); ok && v != "" {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	}
}

// configPathFromArgs finds --config ahead of the full flag parse, since the
// file supplies flag defaults.
func configPathFromArgs(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return ""
		}
		for _, prefix := range []string{"--config", "-config"} {
			if arg == prefix && i+1 < len(args) {
				return args[i+1]
			}
			if strings.HasPrefix(arg, prefix+"=") {
				return strings.TrimPrefix(arg, prefix+"=")
			}
		}
	}
	return ""
}
