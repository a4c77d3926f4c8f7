package app

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestNewRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand(&bytes.Buffer{})

	for _, name := range []Command{CommandServe, CommandCleanup, CommandMigrate, CommandHealthcheck} {
		cmd, _, err := root.Find([]string{string(name)})
		if err != nil {
			t.Errorf("Find(%q) error: %v", name, err)
			continue
		}
		if cmd.Name() != string(name) {
			t.Errorf("Find(%q) = %q", name, cmd.Name())
		}
	}
}

func TestCommandString(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{CommandServe, "serve"},
		{CommandCleanup, "cleanup"},
		{CommandMigrate, "migrate"},
		{CommandHealthcheck, "healthcheck"},
	}

	for _, tt := range tests {
		if got := string(tt.cmd); got != tt.want {
			t.Errorf("Command(%q) string = %q, want %q", tt.cmd, got, tt.want)
		}
	}
}

func TestRun_UnknownCommand_ReturnsError(t *testing.T) {
	err := Run(&bytes.Buffer{}, []string{"worker"})
	if err == nil {
		t.Fatal("unknown subcommand should return error")
	}
	if !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("error = %v", err)
	}
}

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	unsetEnv(t, "COGNITO_REGION", "COGNITO_USER_POOL_ID", "COGNITO_USER_POOL_CLIENT_ID", "API_BASE_URL", "BASE_URL")

	for _, args := range [][]string{{}, {"serve"}, {"cleanup", "--once"}, {"migrate"}} {
		if err := Run(&bytes.Buffer{}, args); err == nil {
			t.Errorf("Run(%v) with missing env should return error", args)
		}
	}
}

func TestRun_Migrate_RejectsRedisStore(t *testing.T) {
	setTestEnv(t)
	t.Setenv("SESSION_STORE", "redis")

	err := Run(&bytes.Buffer{}, []string{"migrate"})
	if err == nil || !strings.Contains(err.Error(), "postgres") {
		t.Errorf("err = %v, want postgres-only error", err)
	}
}

func TestRun_Migrate_RejectsUnknownDirection(t *testing.T) {
	setTestEnv(t)

	if err := Run(&bytes.Buffer{}, []string{"migrate", "sideways"}); err == nil {
		t.Fatal("unknown direction should return error")
	}
}

func TestRun_Healthcheck(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"healthy", http.StatusOK, false},
		{"unavailable", http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/health" {
					t.Errorf("path = %q, want /health", r.URL.Path)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			u, _ := url.Parse(srv.URL)
			err := Run(&bytes.Buffer{}, []string{"healthcheck", "--port", u.Port()})
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRun_Healthcheck_NoServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	u, _ := url.Parse(srv.URL)
	srv.Close()

	if err := Run(&bytes.Buffer{}, []string{"healthcheck", "--port", u.Port()}); err == nil {
		t.Fatal("healthcheck against a closed port should fail")
	}
}
