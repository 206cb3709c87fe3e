package model

import "testing"

func TestParseAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want EmailAddress
	}{
		{
			name: "named mailbox",
			in:   "Alice Liddell <alice@example.com>",
			want: EmailAddress{Name: "Alice Liddell", Address: "alice@example.com"},
		},
		{
			name: "bare address",
			in:   "bob@example.com",
			want: EmailAddress{Address: "bob@example.com"},
		},
		{
			name: "surrounding whitespace",
			in:   "  carol@example.com  ",
			want: EmailAddress{Address: "carol@example.com"},
		},
		{
			name: "unparseable kept verbatim",
			in:   "not an address",
			want: EmailAddress{Address: "not an address"},
		},
		{
			name: "empty",
			in:   "",
			want: EmailAddress{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ParseAddress(tt.in); got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseAddressList(t *testing.T) {
	t.Parallel()

	got := ParseAddressList("Alice <alice@example.com>, bob@example.com")
	if len(got) != 2 {
		t.Fatalf("count: got %d, want 2", len(got))
	}
	if got[0].Name != "Alice" || got[0].Address != "alice@example.com" {
		t.Errorf("first: got %+v", got[0])
	}
	if got[1].Address != "bob@example.com" {
		t.Errorf("second: got %+v", got[1])
	}

	if got := ParseAddressList(""); got != nil {
		t.Errorf("empty: got %v, want nil", got)
	}

	// Malformed lists fall back to a naive split instead of dropping
	// everything.
	fallback := ParseAddressList("broken <<>, bob@example.com")
	if len(fallback) == 0 {
		t.Fatal("malformed list should still surface entries")
	}
}

func TestEmailAddressString(t *testing.T) {
	t.Parallel()

	named := EmailAddress{Name: "Alice", Address: "alice@example.com"}
	if got := named.String(); got != "Alice <alice@example.com>" {
		t.Errorf("named: got %q", got)
	}

	bare := EmailAddress{Address: "bob@example.com"}
	if got := bare.String(); got != "bob@example.com" {
		t.Errorf("bare: got %q", got)
	}
}

func TestProviderValid(t *testing.T) {
	t.Parallel()

	for _, p := range []Provider{ProviderGmail, ProviderOutlook, ProviderYahoo} {
		if !p.Valid() {
			t.Errorf("%q should be valid", p)
		}
	}
	if Provider("aol").Valid() {
		t.Error("unknown provider should be invalid")
	}
}
