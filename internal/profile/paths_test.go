package profile

import (
	"strings"
	"testing"
)

func TestNameSanitizesHost(t *testing.T) {
	k := Key{ServerURL: "https://market.example.com:8443", UserID: 42}
	name := k.Name()
	if strings.ContainsAny(name, "/:") {
		t.Errorf("name %q contains path-hostile characters", name)
	}
	if !strings.HasSuffix(name, "_u42") {
		t.Errorf("name %q should end with user suffix", name)
	}
}

func TestNameDistinctPerUser(t *testing.T) {
	a := Key{ServerURL: "https://market.example.com", UserID: 1}
	b := Key{ServerURL: "https://market.example.com", UserID: 2}
	if a.Name() == b.Name() {
		t.Errorf("profiles for different users must not collide: %q", a.Name())
	}
}

func TestNameDistinctPerServer(t *testing.T) {
	a := Key{ServerURL: "https://one.example.com", UserID: 1}
	b := Key{ServerURL: "https://two.example.com", UserID: 1}
	if a.Name() == b.Name() {
		t.Errorf("profiles for different servers must not collide: %q", a.Name())
	}
}

func TestPathsUnderProfileDir(t *testing.T) {
	k := Key{ServerURL: "https://market.example.com", UserID: 7}
	dir := Dir(k)
	for _, p := range []string{CacheDBPath(k), LogPath(k)} {
		if !strings.HasPrefix(p, dir) {
			t.Errorf("path %q not under profile dir %q", p, dir)
		}
	}
}
