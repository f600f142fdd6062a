package command

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-space/bundle"
	"github.com/wippyai/wasm-space/config"
	"github.com/wippyai/wasm-space/errors"
	"github.com/wippyai/wasm-space/runtime"
	"github.com/wippyai/wasm-space/store"
)

func newRuntime(t *testing.T) *runtime.Runtime {
	t.Helper()
	rt, err := runtime.New(context.Background(), config.InMemory(), runtime.WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("runtime.New failed: %v", err)
	}
	t.Cleanup(func() { rt.Close(context.Background()) })
	return rt
}

func TestSplit(t *testing.T) {
	tests := []struct {
		line    string
		want    []string
		wantErr bool
	}{
		{line: "read localhost:www:/a", want: []string{"read", "localhost:www:/a"}},
		{line: "  ls\tlocalhost  ", want: []string{"ls", "localhost"}},
		{line: `invoke localhost:web "hello world"`, want: []string{"invoke", "localhost:web", "hello world"}},
		{line: `set a::b 'it''s'`, want: []string{"set", "a::b", "its"}},
		{line: `invoke x a\ b`, want: []string{"invoke", "x", "a b"}},
		{line: `invoke x ""`, want: []string{"invoke", "x", ""}},
		{line: `invoke x "say \"hi\""`, want: []string{"invoke", "x", `say "hi"`}},
		{line: "create localhost:web<App> # staging", want: []string{"create", "localhost:web<App>"}},
		{line: "", want: nil},
		{line: "# only a comment", want: nil},
		{line: `read "open`, wantErr: true},
		{line: `read 'open`, wantErr: true},
		{line: `read open\`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := Split(tt.line)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Split(%q) succeeded, want error", tt.line)
				}
				return
			}
			if err != nil {
				t.Fatalf("Split(%q) failed: %v", tt.line, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Split(%q) = %q, want %q", tt.line, got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		line    string
		want    Command
		wantErr bool
	}{
		{line: "create localhost<Space>", want: Command{Name: Create, Args: []string{"localhost<Space>"}}},
		{line: "SET localhost::port 8080 --literal", want: Command{Name: Set, Args: []string{"localhost::port", "8080"}, Literal: true}},
		{line: "ls", want: Command{Name: List}},
		{line: "frobnicate x", wantErr: true},
		{line: "read", wantErr: true},
		{line: "publish localhost:config 1.0.0", wantErr: true},
		{line: "   ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := Parse(tt.line)
			if tt.wantErr {
				if !errors.Is(err, &errors.Error{Kind: errors.KindInvalidInput}) {
					t.Fatalf("Parse(%q) err = %v, want invalid_input", tt.line, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.line, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestCommand_Mutates(t *testing.T) {
	mutating := map[Name]bool{Create: true, Publish: true, Copy: true, Set: true, Remove: true}
	for _, n := range Names() {
		c := Command{Name: n}
		if c.Mutates() != mutating[n] {
			t.Errorf("%s Mutates = %v", n, c.Mutates())
		}
		if Usage(n) == "" {
			t.Errorf("%s has no usage", n)
		}
	}
}

func TestDecode_Rejects(t *testing.T) {
	if _, err := Decode([]byte("{")); err == nil {
		t.Error("Decode of truncated entry succeeded")
	}
	if _, err := Decode([]byte(`{"name":"format"}`)); err == nil {
		t.Error("Decode of unknown command succeeded")
	}
}

func run(t *testing.T, ex *Executor, line string) *Result {
	t.Helper()
	c, err := Parse(line)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", line, err)
	}
	res, err := ex.Run(context.Background(), c)
	if err != nil {
		t.Fatalf("%s failed: %v", line, err)
	}
	return res
}

func TestExecutor_Scenario(t *testing.T) {
	dir := t.TempDir()
	page := filepath.Join(dir, "index.html")
	if err := os.WriteFile(page, []byte("<html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	bundleDir := filepath.Join(dir, "config")
	if err := os.Mkdir(bundleDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bundleDir, "routes.conf"), []byte("/ -> www"), 0o644); err != nil {
		t.Fatal(err)
	}

	journal := store.NewMemoryJournal()
	ex := NewExecutor(newRuntime(t), journal, zaptest.NewLogger(t))

	run(t, ex, "create localhost<Space>")
	run(t, ex, "create localhost:my-files<FileSystem>")
	run(t, ex, "cp "+page+" localhost:my-files:/index.html")
	if res := run(t, ex, "read localhost:my-files:/index.html"); string(res.Data) != "<html>" {
		t.Errorf("read = %q", res.Data)
	}
	run(t, ex, "publish localhost:config 1.0.0 "+bundleDir)
	res := run(t, ex, "set localhost::config localhost:config:1.0.0:/routes.conf")
	if res.Report == nil || len(res.Report.Bindings) != 1 {
		t.Fatalf("set report = %+v", res.Report)
	}
	if got := res.Report.Bindings[0].Target; got != "localhost:config:1.0.0:/routes.conf" {
		t.Errorf("binding target = %s", got)
	}
	if res := run(t, ex, "read localhost:config:1.0.0:/routes.conf"); string(res.Data) != "/ -> www" {
		t.Errorf("read bundle file = %q", res.Data)
	}
	run(t, ex, "set localhost::port 8080 --literal")
	if res := run(t, ex, "ls"); strings.Join(res.Entries, ",") != "localhost" {
		t.Errorf("ls root = %v", res.Entries)
	}
	if res := run(t, ex, "inspect localhost"); res.Report.Kind != "Space" || len(res.Report.Bindings) != 2 {
		t.Errorf("inspect = %+v", res.Report)
	}

	entries, err := journal.Entries(context.Background())
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	// reads, ls and inspect are not journaled
	if len(entries) != 6 {
		t.Errorf("journal entries = %d, want 6", len(entries))
	}
	var first Command
	if err := json.Unmarshal(entries[2].Command, &first); err != nil || string(first.Data) != "<html>" {
		t.Errorf("cp entry = %+v, %v", first, err)
	}
}

func TestExecutor_FailedCommandNotJournaled(t *testing.T) {
	journal := store.NewMemoryJournal()
	ex := NewExecutor(newRuntime(t), journal, nil)

	c, _ := Parse("create nowhere:x<Space>")
	if _, err := ex.Run(context.Background(), c); err == nil {
		t.Fatal("create without parent succeeded")
	}
	entries, _ := journal.Entries(context.Background())
	if len(entries) != 0 {
		t.Errorf("journal entries = %d, want 0", len(entries))
	}
}

func TestExecutor_Replay(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	routes := filepath.Join(dir, "routes.conf")
	if err := os.WriteFile(routes, []byte("/ -> www"), 0o644); err != nil {
		t.Fatal(err)
	}

	journal := store.NewMemoryJournal()
	first := NewExecutor(newRuntime(t), journal, nil)
	run(t, first, "create localhost<Space>")
	run(t, first, "create localhost:tmp<FileSystem>")
	run(t, first, "publish localhost:config 1.0.0 "+routes)
	run(t, first, "set localhost::config localhost:config")
	run(t, first, "rm localhost:tmp")

	// the file is gone; replay must not need it
	if err := os.Remove(routes); err != nil {
		t.Fatal(err)
	}

	rt := newRuntime(t)
	second := NewExecutor(rt, journal, zaptest.NewLogger(t))
	applied, err := second.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if applied != 5 {
		t.Errorf("applied = %d, want 5", applied)
	}

	entries, _ := rt.List(ctx, "localhost")
	if strings.Join(entries, ",") != "config" {
		t.Errorf("children after replay = %v", entries)
	}
	res, err := rt.Read(ctx, "localhost:config")
	if err != nil || string(res.Data) != "/ -> www" {
		t.Errorf("bundle after replay = %v, %v", res, err)
	}
	rep, _ := rt.Inspect("localhost")
	if len(rep.Bindings) != 1 || rep.Bindings[0].Version != "1.0.0" {
		t.Errorf("bindings after replay = %+v", rep.Bindings)
	}
}

func TestWrite_Formats(t *testing.T) {
	res := &Result{Entries: []string{"a", "b/"}}

	var text bytes.Buffer
	if err := Write(&text, res, FormatText); err != nil {
		t.Fatalf("text failed: %v", err)
	}
	if text.String() != "a\nb/\n" {
		t.Errorf("text = %q", text.String())
	}

	var js bytes.Buffer
	if err := Write(&js, res, FormatJSON); err != nil {
		t.Fatalf("json failed: %v", err)
	}
	var decoded Result
	if err := json.Unmarshal(js.Bytes(), &decoded); err != nil || len(decoded.Entries) != 2 {
		t.Errorf("json = %s (%v)", js.String(), err)
	}

	var ym bytes.Buffer
	if err := Write(&ym, res, FormatYAML); err != nil {
		t.Fatalf("yaml failed: %v", err)
	}
	var fromYAML Result
	if err := yaml.Unmarshal(ym.Bytes(), &fromYAML); err != nil || len(fromYAML.Entries) != 2 {
		t.Errorf("yaml = %s (%v)", ym.String(), err)
	}

	if err := Write(&bytes.Buffer{}, res, "xml"); err == nil {
		t.Error("unknown format accepted")
	}
}

func TestCommand_LoadDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "app.conf"), []byte("port: 8080"), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := New("publish", "localhost:config", "1.0.0", dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Load(); err != nil {
		t.Fatalf("Load of a directory failed: %v", err)
	}
	b, err := bundle.Open(c.Data)
	if err != nil {
		t.Fatalf("published data is not a bundle: %v", err)
	}
	if got, ok := b.Read("/app.conf"); !ok || string(got) != "port: 8080" {
		t.Errorf("/app.conf = %q, %v", got, ok)
	}

	cp, err := New("cp", dir, "localhost:www:/x")
	if err != nil {
		t.Fatal(err)
	}
	if err := cp.Load(); !errors.Is(err, &errors.Error{Kind: errors.KindInvalidInput}) {
		t.Errorf("cp of a directory err = %v", err)
	}
}
