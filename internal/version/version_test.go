package version

import (
	"strings"
	"testing"
)

func TestFullIncludesCommit(t *testing.T) {
	if !strings.Contains(Full(), Commit) {
		t.Fatalf("version string should include commit: %s", Full())
	}
	if !strings.HasPrefix(UserAgent(), "octopus-cache/") {
		t.Fatalf("unexpected user agent: %s", UserAgent())
	}
}
