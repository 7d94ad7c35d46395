package contextx

import (
	"slices"
	"testing"
)

func TestWithActorRoundTrip(t *testing.T) {
	a := Actor{Subject: "ops", Scopes: []string{"admin:read", "admin:write"}}

	got, ok := ActorFromContext(WithActor(t.Context(), a))
	if !ok {
		t.Fatal("expected actor in context")
	}
	if got.Subject != a.Subject {
		t.Fatalf("Subject: got %q, want %q", got.Subject, a.Subject)
	}
	if !slices.Equal(got.Scopes, a.Scopes) {
		t.Fatalf("Scopes: got %v, want %v", got.Scopes, a.Scopes)
	}
}

func TestActorFromContextMissing(t *testing.T) {
	if _, ok := ActorFromContext(t.Context()); ok {
		t.Fatal("expected no actor in empty context")
	}
}

func TestActorHasScope(t *testing.T) {
	a := Actor{Scopes: []string{"admin:read"}}
	if !a.HasScope("admin:read") {
		t.Fatal("expected admin:read")
	}
	if a.HasScope("admin:write") {
		t.Fatal("unexpected admin:write")
	}
}
