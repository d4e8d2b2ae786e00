package models

import (
	"strings"
	"testing"
)

func TestCanonicalJSONSortsKeys(t *testing.T) {
	out, err := CanonicalJSON(map[string]interface{}{
		"zulu":  1,
		"alpha": map[string]interface{}{"b": true, "a": "x"},
	})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"alpha":{"a":"x","b":true},"zulu":1}`
	if string(out) != want {
		t.Fatalf("expected %s got=%s", want, out)
	}
}

func TestCanonicalJSONStableAcrossOrder(t *testing.T) {
	a, err := CanonicalJSON(map[string]interface{}{"x": 1, "y": []interface{}{"a", 2}})
	if err != nil {
		t.Fatalf("canonicalize a: %v", err)
	}
	b, err := CanonicalJSON(map[string]interface{}{"y": []interface{}{"a", 2}, "x": 1})
	if err != nil {
		t.Fatalf("canonicalize b: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("expected identical canonical forms, got %s vs %s", a, b)
	}
}

func TestCanonicalJSONPreservesNumberTokens(t *testing.T) {
	out, err := CanonicalJSON(map[string]interface{}{"score": 0.85})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if !strings.Contains(string(out), "0.85") {
		t.Fatalf("expected float token preserved, got %s", out)
	}
}

func TestHashText(t *testing.T) {
	h := HashText("Economy passengers are entitled to 2 pieces of checked baggage")
	if len(h) != 64 {
		t.Fatalf("expected 64 hex chars got=%d", len(h))
	}
	if h == HashText("different text") {
		t.Fatal("distinct inputs must not collide on equality check")
	}
	if h != HashText("Economy passengers are entitled to 2 pieces of checked baggage") {
		t.Fatal("hash must be deterministic")
	}
}

func TestHashJSONChangesWithContent(t *testing.T) {
	h1, err := HashJSON(map[string]interface{}{"trace_id": "t-1", "events": []string{"a"}})
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := HashJSON(map[string]interface{}{"trace_id": "t-1", "events": []string{"a", "b"}})
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 == h2 {
		t.Fatal("expected hash to change when event list changes")
	}
}
