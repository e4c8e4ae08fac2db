// Package config loads the INI-style configuration surface of spec.md
// §6 via gopkg.in/ini.v1, substituting ${ENV_VAR} placeholders from the
// process environment before validation.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/ini.v1"
)

// ConfigError names the offending section/key so a misconfiguration is
// actionable without re-reading the whole file.
type ConfigError struct {
	Section string
	Key     string
	Reason  string
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("config: [%s]: %s", e.Section, e.Reason)
	}
	return fmt.Sprintf("config: [%s].%s: %s", e.Section, e.Key, e.Reason)
}

// Config is the fully parsed, validated configuration surface.
type Config struct {
	SourceDir       string
	Mode            string
	CompressType    string
	ExcludePatterns []string
	ParallelCopies  int

	BackupDirs []string

	SSHServers     []string
	SSHUsername    string
	SSHPassword    string
	BandwidthLimit int

	S3Bucket    string
	S3Prefix    string
	S3Region    string
	S3AccessKey string
	S3SecretKey string

	ModeLocal bool
	ModeSSH   bool
	ModeS3    bool
	ModeDB    bool

	ScheduleTimes   []string
	IntervalMinutes int

	RetentionMaxAgeDays int
	RetentionMaxCount   int

	EncryptionEnabled    bool
	EncryptionKeyFile    string
	EncryptionPassphrase string

	HookPreBackup  string
	HookPostBackup string

	NotifyReceiverEmails []string
	NotifyBot            string
}

var envPlaceholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads path, substitutes ${ENV_VAR} placeholders in every value,
// and validates the required fields, returning a populated Config or the
// first ConfigError encountered.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	substituted, err := substituteEnv(string(raw))
	if err != nil {
		return nil, err
	}

	file, err := ini.Load([]byte(substituted))
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return build(file)
}

func substituteEnv(text string) (string, error) {
	var firstMissing string
	result := envPlaceholder.ReplaceAllStringFunc(text, func(match string) string {
		name := envPlaceholder.FindStringSubmatch(match)[1]
		value, ok := os.LookupEnv(name)
		if !ok {
			if firstMissing == "" {
				firstMissing = name
			}
			return match
		}
		return value
	})
	if firstMissing != "" {
		return "", &ConfigError{Reason: fmt.Sprintf("environment variable %q referenced but not set", firstMissing)}
	}
	return result, nil
}

func build(file *ini.File) (*Config, error) {
	def := file.Section("DEFAULT")
	cfg := &Config{
		SourceDir:      def.Key("source_dir").String(),
		Mode:           def.Key("mode").MustString("full"),
		CompressType:   def.Key("compress_type").MustString("none"),
		ParallelCopies: def.Key("parallel_copies").MustInt(1),
	}
	if cfg.SourceDir == "" {
		return nil, &ConfigError{Section: "DEFAULT", Key: "source_dir", Reason: "required"}
	}
	if cfg.Mode != "full" && cfg.Mode != "incremental" && cfg.Mode != "differential" {
		return nil, &ConfigError{Section: "DEFAULT", Key: "mode", Reason: "must be full, incremental, or differential"}
	}
	if cfg.ParallelCopies < 1 {
		return nil, &ConfigError{Section: "DEFAULT", Key: "parallel_copies", Reason: "must be >= 1"}
	}
	cfg.ExcludePatterns = splitCSV(def.Key("exclude_patterns").String())

	backups := file.Section("BACKUPS")
	cfg.BackupDirs = splitCSV(backups.Key("backup_dirs").String())

	ssh := file.Section("SSH")
	cfg.SSHServers = splitCSV(ssh.Key("ssh_servers").String())
	cfg.SSHUsername = ssh.Key("username").String()
	cfg.SSHPassword = ssh.Key("password").String()
	cfg.BandwidthLimit = ssh.Key("bandwidth_limit").MustInt(0)

	s3 := file.Section("S3")
	cfg.S3Bucket = s3.Key("bucket").String()
	cfg.S3Prefix = s3.Key("prefix").String()
	cfg.S3Region = s3.Key("region").String()
	cfg.S3AccessKey = s3.Key("access_key").String()
	cfg.S3SecretKey = s3.Key("secret_key").String()

	modes := file.Section("MODES")
	cfg.ModeLocal = modes.Key("local").MustBool(true)
	cfg.ModeSSH = modes.Key("ssh").MustBool(false)
	cfg.ModeS3 = modes.Key("s3").MustBool(false)
	cfg.ModeDB = modes.Key("db").MustBool(false)

	schedule := file.Section("SCHEDULE")
	cfg.ScheduleTimes = splitCSV(schedule.Key("times").String())
	cfg.IntervalMinutes = schedule.Key("interval_minutes").MustInt(0)

	retention := file.Section("RETENTION")
	cfg.RetentionMaxAgeDays = retention.Key("max_age_days").MustInt(0)
	cfg.RetentionMaxCount = retention.Key("max_count").MustInt(0)
	if cfg.RetentionMaxAgeDays < 0 {
		return nil, &ConfigError{Section: "RETENTION", Key: "max_age_days", Reason: "must be >= 0"}
	}
	if cfg.RetentionMaxCount < 0 {
		return nil, &ConfigError{Section: "RETENTION", Key: "max_count", Reason: "must be >= 0"}
	}

	encryption := file.Section("ENCRYPTION")
	cfg.EncryptionEnabled = encryption.Key("enabled").MustBool(false)
	cfg.EncryptionKeyFile = encryption.Key("key_file").String()
	cfg.EncryptionPassphrase = encryption.Key("passphrase").String()
	if cfg.EncryptionEnabled && cfg.EncryptionKeyFile == "" && cfg.EncryptionPassphrase == "" {
		return nil, &ConfigError{Section: "ENCRYPTION", Reason: "enabled requires either key_file or passphrase"}
	}

	hooks := file.Section("HOOKS")
	cfg.HookPreBackup = hooks.Key("pre_backup").String()
	cfg.HookPostBackup = hooks.Key("post_backup").String()

	notifications := file.Section("NOTIFICATIONS")
	cfg.NotifyReceiverEmails = splitCSV(notifications.Key("receiver_emails").String())
	for _, addr := range cfg.NotifyReceiverEmails {
		if !isPlausibleEmail(addr) {
			return nil, &ConfigError{Section: "NOTIFICATIONS", Key: "receiver_emails", Reason: fmt.Sprintf("invalid email %q", addr)}
		}
	}
	cfg.NotifyBot = notifications.Key("bot").String()

	return cfg, nil
}

// isPlausibleEmail applies the same shallow syntax check as the rest of
// this validator: one "@", with at least one character on each side and
// a "." somewhere in the domain part.
func isPlausibleEmail(addr string) bool {
	at := strings.Index(addr, "@")
	if at <= 0 || at != strings.LastIndex(addr, "@") {
		return false
	}
	domain := addr[at+1:]
	return strings.Contains(domain, ".") && !strings.HasPrefix(domain, ".") && !strings.HasSuffix(domain, ".")
}

func splitCSV(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
