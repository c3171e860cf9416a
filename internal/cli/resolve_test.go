package cli

import (
	"errors"
	"reflect"
	"testing"
)

func TestResolveID(t *testing.T) {
	ids := []string{
		"3f2a9c10-1111-4c1e-8d4a-000000000001",
		"3f2b0000-2222-4c1e-8d4a-000000000002",
		"a0b1c2d3-3333-4c1e-8d4a-000000000003",
		"abc",
	}

	tests := []struct {
		name    string
		arg     string
		want    string
		wantErr error
	}{
		{name: "full id", arg: ids[0], want: ids[0]},
		{name: "unique prefix", arg: "3f2a", want: ids[0]},
		{name: "longer prefix", arg: "a0b1c2d3", want: ids[2]},
		{name: "exact short id wins", arg: "abc", want: "abc"},
		{name: "surrounding space", arg: " 3f2b0 ", want: ids[1]},
		{name: "ambiguous", arg: "3f2", wantErr: ErrAmbiguous},
		{name: "too short", arg: "a0", wantErr: ErrAmbiguous},
		{name: "no match", arg: "ffff", wantErr: ErrNoMatch},
		{name: "empty", arg: "", wantErr: ErrNoMatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveID(tt.arg, ids)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ResolveID(%q) error = %v, want %v", tt.arg, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveID(%q) unexpected error: %v", tt.arg, err)
			}
			if got != tt.want {
				t.Errorf("ResolveID(%q) = %s, want %s", tt.arg, got, tt.want)
			}
		})
	}
}

func TestResolveIDs(t *testing.T) {
	ids := []string{"aaaa-1", "bbbb-2", "cccc-3"}

	got, err := ResolveIDs([]string{"bbbb", "aaaa-1", "bbbb-2"}, ids)
	if err != nil {
		t.Fatalf("ResolveIDs failed: %v", err)
	}
	if want := []string{"bbbb-2", "aaaa-1"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ResolveIDs() = %v, want %v", got, want)
	}

	if _, err := ResolveIDs([]string{"aaaa", "zzzz"}, ids); !errors.Is(err, ErrNoMatch) {
		t.Errorf("expected ErrNoMatch, got %v", err)
	}
}

func TestShortID(t *testing.T) {
	if got := ShortID("3f2a9c10-1111"); got != "3f2a9c10" {
		t.Errorf("ShortID() = %s", got)
	}
	if got := ShortID("abc"); got != "abc" {
		t.Errorf("ShortID() = %s", got)
	}
}
