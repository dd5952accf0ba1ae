package storage

import "testing"

func TestQuoteTable(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "default", input: "", want: `"auth_user"`},
		{name: "simple", input: "users", want: `"users"`},
		{name: "schema qualified", input: "auth.users", want: `"auth"."users"`},
		{name: "whitespace trimmed", input: "  auth_user  ", want: `"auth_user"`},
		{name: "quote injection", input: `users"; DROP TABLE users; --`, wantErr: true},
		{name: "too many parts", input: "a.b.c", wantErr: true},
		{name: "leading digit", input: "1users", wantErr: true},
		{name: "empty segment", input: "auth.", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := quoteTable(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("quoteTable(%q) succeeded, want error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("quoteTable(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Fatalf("quoteTable(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidIdent(t *testing.T) {
	valid := []string{"users", "auth_user", "Users2", "_private"}
	for _, s := range valid {
		if !validIdent(s) {
			t.Fatalf("validIdent(%q) = false, want true", s)
		}
	}
	invalid := []string{"", "1users", "us-ers", `us"ers`, "us ers", "users;"}
	for _, s := range invalid {
		if validIdent(s) {
			t.Fatalf("validIdent(%q) = true, want false", s)
		}
	}
}

func TestNewPostgresRepositoryRequiresDSN(t *testing.T) {
	if _, err := NewPostgresRepository(PostgresConfig{}); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
