package buildinfo

import "testing"

func TestInfoPrefersLinkerValues(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version, Commit = old, "" })
	Version, Commit = "1.2.3", "abc"
	info := Info()
	if info["version"] != "1.2.3" || info["commit"] != "abc" {
		t.Fatalf("unexpected info %v", info)
	}
}
