package address

import (
	"errors"
	"fmt"
	"testing"

	"github.com/coreos/go-semver/semver"
	"pgregory.net/rapid"

	spaceerrors "github.com/wippyai/wasm-space/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		names   []string
		version string
		path    string
	}{
		{input: "localhost", names: []string{"localhost"}},
		{input: "localhost:my-files", names: []string{"localhost", "my-files"}},
		{input: "localhost:my-files:/index.html", names: []string{"localhost", "my-files"}, path: "/index.html"},
		{input: "localhost:config:1.0.0", names: []string{"localhost", "config"}, version: "1.0.0"},
		{input: "localhost:config:1.0.0:/routes.conf", names: []string{"localhost", "config"}, version: "1.0.0", path: "/routes.conf"},
		{input: "localhost:config:2.1.0-rc.1", names: []string{"localhost", "config"}, version: "2.1.0-rc.1"},
		{input: "a:/dir/with:colon", names: []string{"a"}, path: "/dir/with:colon"},
		{input: "a:/", names: []string{"a"}, path: "/"},
		{input: "site.v1:web_root", names: []string{"site.v1", "web_root"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			a, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.input, err)
			}
			names := a.Names()
			if fmt.Sprint(names) != fmt.Sprint(tt.names) {
				t.Errorf("names = %v, want %v", names, tt.names)
			}
			gotVersion := ""
			if v := a.Version(); v != nil {
				gotVersion = v.String()
			}
			if gotVersion != tt.version {
				t.Errorf("version = %q, want %q", gotVersion, tt.version)
			}
			if a.Path() != tt.path {
				t.Errorf("path = %q, want %q", a.Path(), tt.path)
			}
			if a.String() != tt.input {
				t.Errorf("String() = %q, want %q", a.String(), tt.input)
			}
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	inputs := []string{
		"",
		":",
		"a:",
		":a",
		"a::b",
		"/path",
		"a:b<App>",
		"a<Space>:b",
		"a:b<App",
		"a:bApp>",
		"a:b<>",
		"a:b<<App>>",
		"a:b<App>x",
		"1.0.0",
		"a:1.0.0:2.0.0",
		"a:1.0.0:b",
		"a:01.0.0",
		"a:1.2.3.4",
		"-a",
		"a b",
		"a:b!",
	}

	for _, in := range inputs {
		t.Run(fmt.Sprintf("%q", in), func(t *testing.T) {
			_, err := Parse(in)
			if err == nil {
				t.Fatalf("Parse(%q) should fail", in)
			}
			if !errors.Is(err, &spaceerrors.Error{Kind: spaceerrors.KindMalformedAddress}) {
				t.Errorf("error kind = %v, want malformed_address", err)
			}
		})
	}
}

func TestParseTemplate(t *testing.T) {
	a, err := ParseTemplate("localhost:my-app<App>")
	if err != nil {
		t.Fatalf("ParseTemplate failed: %v", err)
	}
	if a.Kind() != "App" {
		t.Errorf("Kind = %q, want App", a.Kind())
	}
	if a.Key() != "localhost:my-app" {
		t.Errorf("Key = %q", a.Key())
	}
	if a.String() != "localhost:my-app<App>" {
		t.Errorf("String = %q", a.String())
	}
	if !a.WithoutKind().Equal(MustParse("localhost:my-app")) {
		t.Error("WithoutKind should drop the tag")
	}

	for _, bad := range []string{"a<Space>:b<App>", "a:b<App>:/x", "a:1.0.0<App>", "a:b<1App>"} {
		if _, err := ParseTemplate(bad); err == nil {
			t.Errorf("ParseTemplate(%q) should fail", bad)
		}
	}
}

func TestParseProperty(t *testing.T) {
	addr, key, err := ParseProperty("localhost::config")
	if err != nil {
		t.Fatalf("ParseProperty failed: %v", err)
	}
	if addr.String() != "localhost" || key != "config" {
		t.Errorf("got (%q, %q)", addr.String(), key)
	}

	addr, key, err = ParseProperty("localhost:my-app::wasm")
	if err != nil {
		t.Fatalf("ParseProperty failed: %v", err)
	}
	if addr.String() != "localhost:my-app" || key != "wasm" {
		t.Errorf("got (%q, %q)", addr.String(), key)
	}

	for _, bad := range []string{"localhost", "localhost::", "::config", "a:1.0.0::k", "a::b::c"} {
		if _, _, err := ParseProperty(bad); err == nil {
			t.Errorf("ParseProperty(%q) should fail", bad)
		}
	}
}

func TestAddressNavigation(t *testing.T) {
	a := MustParse("localhost:config:1.0.0:/routes.conf")

	if got := a.Resource().String(); got != "localhost:config" {
		t.Errorf("Resource = %q", got)
	}
	if got := a.Parent().String(); got != "localhost" {
		t.Errorf("Parent = %q", got)
	}
	if !MustParse("localhost").Parent().IsRoot() {
		t.Error("parent of a single segment should be root")
	}
	if !Root().Parent().IsRoot() {
		t.Error("parent of root should be root")
	}
	if got := Root().Child("localhost").Child("www").String(); got != "localhost:www" {
		t.Errorf("Child chain = %q", got)
	}
	if got := a.Prefix(1).String(); got != "localhost" {
		t.Errorf("Prefix(1) = %q", got)
	}
	if !MustParse("localhost").IsAncestorOf(a) {
		t.Error("localhost should be an ancestor")
	}
	if a.Resource().IsAncestorOf(a) {
		t.Error("an address is not its own ancestor")
	}

	v := semver.New("2.0.0")
	if got := a.Resource().WithVersion(v).WithPath("/x").String(); got != "localhost:config:2.0.0:/x" {
		t.Errorf("WithVersion/WithPath = %q", got)
	}
	if Root().Key() != "" {
		t.Errorf("root key = %q", Root().Key())
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"a:b", "a:b", true},
		{"a:b", "a:c", false},
		{"a:b:1.0.0", "a:b:1.0.0", true},
		{"a:b:1.0.0", "a:b:1.0.1", false},
		{"a:b:1.0.0", "a:b", false},
		{"a:b:/x", "a:b:/x", true},
		{"a:b:/x", "a:b:/y", false},
	}
	for _, tt := range tests {
		if got := MustParse(tt.a).Equal(MustParse(tt.b)); got != tt.want {
			t.Errorf("Equal(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func genAddress() *rapid.Generator[Address] {
	return rapid.Custom(func(t *rapid.T) Address {
		names := rapid.SliceOfN(rapid.StringMatching(`[a-z][a-z0-9_-]{0,8}`), 1, 5).Draw(t, "names")
		a := New(names...)
		if rapid.Bool().Draw(t, "versioned") {
			v := &semver.Version{
				Major: rapid.Int64Range(0, 20).Draw(t, "major"),
				Minor: rapid.Int64Range(0, 20).Draw(t, "minor"),
				Patch: rapid.Int64Range(0, 20).Draw(t, "patch"),
			}
			a = a.WithVersion(v)
		}
		if rapid.Bool().Draw(t, "pathed") {
			a = a.WithPath(rapid.StringMatching(`/[a-z0-9/._:-]{0,16}`).Draw(t, "path"))
		}
		return a
	})
}

func TestParseRoundTrip_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := genAddress().Draw(t, "addr")
		parsed, err := Parse(a.String())
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", a.String(), err)
		}
		if !parsed.Equal(a) {
			t.Fatalf("round trip mismatch: %q -> %q", a.String(), parsed.String())
		}
	})
}

func TestParseTotal_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringMatching(`[a-z0-9:<>/.A-Z-]{0,24}`).Draw(t, "text")
		a, err := ParseTemplate(text)
		if err != nil {
			if spaceerrors.KindOf(err) != spaceerrors.KindMalformedAddress {
				t.Fatalf("unexpected error kind for %q: %v", text, err)
			}
			return
		}
		again, err := ParseTemplate(a.String())
		if err != nil || !again.Equal(a) {
			t.Fatalf("canonical form %q of %q does not reparse", a.String(), text)
		}
	})
}
