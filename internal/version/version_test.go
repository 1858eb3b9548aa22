package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	old := Version
	defer func() { Version = old }()

	Version = "v1.2.3"
	got := String()
	if !strings.Contains(got, "v1.2.3") || !strings.Contains(got, GitSHA) {
		t.Errorf("String() = %q", got)
	}
}
