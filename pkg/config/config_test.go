package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stevedore.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const validConfig = `
cache:
  root: /var/cache/stevedore
journal:
  path: /var/lib/stevedore/journal.db
feeds:
  - id: feeds-myget
    type: index
    uri: https://feed.example.com/api/v2
  - id: github-public
    type: github
    uri: https://api.github.com
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("Retry.MaxAttempts = %d, want default 5", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.Backoff.Std() != 10*time.Second {
		t.Errorf("Retry.Backoff = %v, want default 10s", cfg.Retry.Backoff.Std())
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Output != "stderr" {
		t.Errorf("logging defaults not applied: %+v", cfg.Logging)
	}
}

func TestLoadParsesHumanReadableBackoff(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
cache:
  root: /tmp/cache
journal:
  path: /tmp/journal.db
retry:
  max_attempts: 3
  backoff: 1m30s
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.Backoff.Std() != 90*time.Second {
		t.Errorf("Backoff = %v, want 1m30s", cfg.Retry.Backoff.Std())
	}
}

func TestLoadRejectsMissingCacheRoot(t *testing.T) {
	_, err := Load(writeConfig(t, `
journal:
  path: /var/lib/stevedore/journal.db
`))
	if err == nil {
		t.Fatal("expected validation to reject a missing cache root")
	}
}

func TestLoadRejectsUnknownFeedType(t *testing.T) {
	_, err := Load(writeConfig(t, `
cache:
  root: /tmp/cache
journal:
  path: /tmp/journal.db
feeds:
  - id: bad
    type: carrier-pigeon
    uri: coop://roof
`))
	if err == nil {
		t.Fatal("expected validation to reject an unknown feed type")
	}
}

func TestLoadRejectsDuplicateFeedIDs(t *testing.T) {
	_, err := Load(writeConfig(t, `
cache:
  root: /tmp/cache
journal:
  path: /tmp/journal.db
feeds:
  - id: twin
    type: github
    uri: https://api.github.com
  - id: twin
    type: index
    uri: https://feed.example.com
`))
	if err == nil || !strings.Contains(err.Error(), "duplicate feed id") {
		t.Fatalf("err = %v, want duplicate feed rejection", err)
	}
}

func TestLoadRejectsStdoutLogging(t *testing.T) {
	_, err := Load(writeConfig(t, `
logging:
  output: stdout
cache:
  root: /tmp/cache
journal:
  path: /tmp/journal.db
`))
	if err == nil || !strings.Contains(err.Error(), "service messages") {
		t.Fatalf("err = %v, stdout logging must be rejected", err)
	}
}

func TestEnvironmentOverridesCredentials(t *testing.T) {
	t.Setenv("STEVEDORE_FEED_FEEDS_MYGET_PASSWORD", "hunter2")
	t.Setenv("STEVEDORE_FEED_GITHUB_PUBLIC_TOKEN", "ghp_secret")

	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	myget, err := cfg.FeedByID("feeds-myget")
	if err != nil {
		t.Fatalf("FeedByID: %v", err)
	}
	if myget.Credentials.Password != "hunter2" {
		t.Errorf("password = %q, environment override not applied", myget.Credentials.Password)
	}

	github, err := cfg.FeedByID("github-public")
	if err != nil {
		t.Fatalf("FeedByID: %v", err)
	}
	if github.Credentials.Token != "ghp_secret" {
		t.Errorf("token = %q, environment override not applied", github.Credentials.Token)
	}
}

func TestFeedByIDUnknown(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := cfg.FeedByID("nope"); err == nil {
		t.Fatal("expected an error for an unconfigured feed")
	}
}
