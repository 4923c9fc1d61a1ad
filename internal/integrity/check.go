// Package integrity verifies the kernel binary checksum at startup.
// The expected hash is embedded at build time via ldflags. A running
// binary that does not match is refused: every proof-plane guarantee
// assumes the kernel itself has not been swapped out.
package integrity

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ExpectedHash is set at build time via:
//
//	-ldflags "-X github.com/ppiankov/trustplane/internal/integrity.ExpectedHash=<sha256hex>"
//
// When empty (dev builds), verification falls back to a checksum file.
var ExpectedHash string

// TamperLogDir is where tamper events are written.
// Defaults to /var/log/trustplane. Override for testing.
var TamperLogDir = "/var/log/trustplane"

// ChecksumPaths are checked in order for a sha256 checksum file holding
// a single hex-encoded SHA-256 digest. Override for testing.
var ChecksumPaths = []string{
	"/etc/trustplane/binary.sha256",
	"$HOME/.trustplane/binary.sha256",
}

// TamperEvent records a kernel binary integrity violation.
type TamperEvent struct {
	Timestamp    string `json:"timestamp"`
	Binary       string `json:"binary"`
	ExpectedHash string `json:"expected_hash"`
	ActualHash   string `json:"actual_hash"`
	Hostname     string `json:"hostname"`
	Type         string `json:"type"`
}

// Verify checks that the running binary matches ExpectedHash, falling
// back to the checksum file when no build-time hash is set. With
// neither available (dev mode) it warns and passes. On mismatch a
// tamper event is persisted and alert webhooks fire before the error
// returns.
func Verify() error {
	expected := ExpectedHash
	if expected == "" {
		expected = loadChecksumFile()
	}
	if expected == "" {
		fmt.Fprintf(os.Stderr, "integrity: WARNING no build-time hash or checksum file found (dev build, integrity check skipped)\n")
		return nil
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("integrity: cannot resolve executable path: %w", err)
	}

	actual, err := hashFile(exePath)
	if err != nil {
		return fmt.Errorf("integrity: cannot hash binary: %w", err)
	}

	if actual == expected {
		fmt.Fprintf(os.Stderr, "integrity: kernel binary verified (%s...%s)\n",
			actual[:8], actual[len(actual)-8:])
		return nil
	}

	event := TamperEvent{
		Timestamp:    time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Binary:       exePath,
		ExpectedHash: expected,
		ActualHash:   actual,
		Type:         "binary_tamper",
	}
	event.Hostname, _ = os.Hostname()

	writeTamperEvent(event)

	return fmt.Errorf("integrity: kernel binary checksum mismatch (expected %s, got %s)", expected, actual)
}

// HashSelf returns the SHA-256 hex digest of the running binary, for
// writing the checksum file after install.
func HashSelf() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("integrity: cannot resolve executable path: %w", err)
	}
	return hashFile(exePath)
}

// loadChecksumFile reads the expected hash from the first readable
// checksum file, empty string when none parses.
func loadChecksumFile() string {
	for _, p := range ChecksumPaths {
		path := os.ExpandEnv(p)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		hash := strings.TrimSpace(string(data))
		if len(hash) == 64 && isHex(hash) {
			return hash
		}
	}
	return ""
}

func isHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeTamperEvent appends the event to the tamper log, echoes it to
// stderr for the systemd journal, and fires webhook alerts.
func writeTamperEvent(event TamperEvent) {
	line, err := json.Marshal(event)
	if err != nil {
		return
	}

	logPath := filepath.Join(TamperLogDir, "tamper.jsonl")
	if err := os.MkdirAll(TamperLogDir, 0700); err == nil {
		if f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600); err == nil {
			f.Write(append(line, '\n'))
			f.Sync()
			f.Close()
		}
	}

	fmt.Fprintf(os.Stderr, "TAMPER ALERT: %s\n", string(line))

	dispatchTamperAlert(event)
}

// dispatchTamperAlert fires the event to every configured webhook
// subscribed to binary_tamper. It parses only the alerts section of
// the kernel config, since this runs before full config init.
func dispatchTamperAlert(event TamperEvent) {
	configs := loadAlertConfigs()
	if len(configs) == 0 {
		return
	}

	payload := alertPayloadFromTamper(event)
	for _, cfg := range configs {
		for _, e := range cfg.Events {
			if e == "binary_tamper" {
				// Synchronous, the process is about to exit anyway.
				sendWebhook(cfg, payload)
				break
			}
		}
	}
}

// alertConfig is the minimal shape for parsing just the alerts section.
type alertConfig struct {
	URL     string            `yaml:"url"`
	Events  []string          `yaml:"events"`
	Headers map[string]string `yaml:"headers"`
}

type alertsSection struct {
	Alerts []alertConfig `yaml:"alerts"`
}

// loadAlertConfigs reads the alerts section from the kernel config.
func loadAlertConfigs() []alertConfig {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	path := filepath.Join(home, ".trustplane", "trustplane.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var section alertsSection
	if err := yaml.Unmarshal(data, &section); err != nil {
		return nil
	}
	return section.Alerts
}

// tamperAlertPayload is the webhook body for tamper events.
type tamperAlertPayload struct {
	Timestamp    string `json:"timestamp"`
	Type         string `json:"type"`
	Source       string `json:"source"`
	Binary       string `json:"binary"`
	ExpectedHash string `json:"expected_hash"`
	ActualHash   string `json:"actual_hash"`
	Hostname     string `json:"hostname"`
	Severity     string `json:"severity"`
	Reason       string `json:"reason"`
}

func alertPayloadFromTamper(event TamperEvent) tamperAlertPayload {
	return tamperAlertPayload{
		Timestamp:    event.Timestamp,
		Type:         "binary_tamper",
		Source:       "trustplane",
		Binary:       event.Binary,
		ExpectedHash: event.ExpectedHash,
		ActualHash:   event.ActualHash,
		Hostname:     event.Hostname,
		Severity:     "critical",
		Reason:       fmt.Sprintf("kernel binary checksum mismatch: expected %s, got %s", event.ExpectedHash, event.ActualHash),
	}
}

// sendWebhook posts the tamper alert to one webhook.
func sendWebhook(cfg alertConfig, payload tamperAlertPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}

	req, err := http.NewRequest(http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "TAMPER ALERT webhook failed: %v\n", err)
		return
	}
	resp.Body.Close()
}
