package cache

import "testing"

type hashConfig struct {
	Permissions hashPerms      `json:"permissions"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type hashPerms struct {
	Deny  []string `json:"deny,omitempty"`
	Allow []string `json:"allow,omitempty"`
}

func TestHashStable(t *testing.T) {
	cfg := hashConfig{Permissions: hashPerms{Deny: []string{"*.exe"}, Allow: []string{"*.md"}}}
	if Hash(cfg) != Hash(cfg) {
		t.Error("hashing the same value twice must agree")
	}
}

func TestHashIgnoresArrayOrder(t *testing.T) {
	a := hashConfig{Permissions: hashPerms{Deny: []string{"*.exe", "*.sh"}}}
	b := hashConfig{Permissions: hashPerms{Deny: []string{"*.sh", "*.exe"}}}
	if Hash(a) != Hash(b) {
		t.Error("rule order within a tier must not change the content address")
	}
}

func TestHashIgnoresMetadata(t *testing.T) {
	plain := hashConfig{Permissions: hashPerms{Deny: []string{"*.exe"}}}
	annotated := hashConfig{
		Permissions: hashPerms{Deny: []string{"*.exe"}},
		Metadata:    map[string]any{"author": "ops", "timestamp": "2026-08-27T00:00:00Z"},
	}
	if Hash(plain) != Hash(annotated) {
		t.Error("metadata must not change the content address")
	}
}

func TestHashDistinguishesContent(t *testing.T) {
	a := hashConfig{Permissions: hashPerms{Deny: []string{"*.exe"}}}
	b := hashConfig{Permissions: hashPerms{Deny: []string{"*.dll"}}}
	if Hash(a) == Hash(b) {
		t.Error("different rule sets must not collide")
	}
	c := hashConfig{Permissions: hashPerms{Allow: []string{"*.exe"}}}
	if Hash(a) == Hash(c) {
		t.Error("the same pattern in a different tier must not collide")
	}
}

func TestHashUnserializableInput(t *testing.T) {
	// Channels cannot be marshaled; hashing must still return an address.
	if Hash(make(chan int)) == "" {
		t.Error("unserializable values still need a stable hash")
	}
}
