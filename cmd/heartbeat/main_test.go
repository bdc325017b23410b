package main

import (
	"strings"
	"testing"
)

// TestRunFailsFastOnMissingConfig verifies that an incomplete environment is
// rejected by config.Load before run attempts to reach Postgres, Supabase, or
// any other network dependency.
func TestRunFailsFastOnMissingConfig(t *testing.T) {
	for _, key := range []string{
		"SUPABASE_URL", "SUPABASE_SERVICE_ROLE_KEY", "DATABASE_URL",
		"SERVER_SECRET", "RESEND_API_KEY", "RESEND_FROM_EMAIL", "VIEWER_BASE_URL",
	} {
		t.Setenv(key, "")
	}

	err := run(false)
	if err == nil {
		t.Fatal("run() returned nil error, want a config load error")
	}
	if !strings.Contains(err.Error(), "load config") {
		t.Errorf("error = %q, want it to wrap a config load failure", err.Error())
	}
}
