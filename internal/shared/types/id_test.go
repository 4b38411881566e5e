package types

import "testing"

func TestParseID(t *testing.T) {
	id := NewID()
	got, err := ParseID(id.String())
	if err != nil || got != id {
		t.Errorf("Expected %s to parse, got %s, %v", id, got, err)
	}

	upper, err := ParseID("6BA7B810-9DAD-11D1-80B4-00C04FD430C8")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if upper != "6ba7b810-9dad-11d1-80b4-00c04fd430c8" {
		t.Errorf("Expected lower-case form, got %s", upper)
	}

	if _, err := ParseID("not-a-uuid"); err == nil {
		t.Error("Expected error for invalid ID")
	}
}

func TestPrefix(t *testing.T) {
	if got := ID("abcdef").Prefix(8); got != "abcdef" {
		t.Errorf("Expected whole id, got %s", got)
	}
	if got := ID("6ba7b810-9dad").Prefix(8); got != "6ba7b810" {
		t.Errorf("Expected 6ba7b810, got %s", got)
	}
}
