package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-space/address"
	spaceerrors "github.com/wippyai/wasm-space/errors"
	"github.com/wippyai/wasm-space/handler"
	"github.com/wippyai/wasm-space/handler/app"
	"github.com/wippyai/wasm-space/handler/configbundle"
	"github.com/wippyai/wasm-space/handler/filesystem"
	"github.com/wippyai/wasm-space/handler/space"
	"github.com/wippyai/wasm-space/registry"
	"github.com/wippyai/wasm-space/resolve"
	"github.com/wippyai/wasm-space/telemetry"
)

// recorder is a FileSystem-kind handler that records overlapping calls and
// can be told to misbehave.
type recorder struct {
	handler.Base
	active    atomic.Int32
	overlap   atomic.Bool
	shared    atomic.Int32
	maxShared atomic.Int32
	fail      error
	transits  []handler.Transition
	hold      time.Duration
	inner     func(ctx context.Context) error
}

func newRecorder() *recorder {
	return &recorder{Base: handler.NewBase(registry.KindFileSystem, handler.OpRead, handler.OpWrite, handler.OpList)}
}

func (p *recorder) Write(ctx context.Context, req *handler.Request) (*handler.Result, error) {
	if p.active.Add(1) > 1 {
		p.overlap.Store(true)
	}
	defer p.active.Add(-1)
	time.Sleep(p.hold)
	if p.inner != nil {
		if err := p.inner(ctx); err != nil {
			return nil, err
		}
	}
	if p.fail != nil {
		return nil, p.fail
	}
	return &handler.Result{Transitions: p.transits}, nil
}

func (p *recorder) Read(ctx context.Context, req *handler.Request) (*handler.Result, error) {
	if p.active.Load() > 0 {
		p.overlap.Store(true)
	}
	n := p.shared.Add(1)
	defer p.shared.Add(-1)
	for {
		max := p.maxShared.Load()
		if n <= max || p.maxShared.CompareAndSwap(max, n) {
			break
		}
	}
	time.Sleep(p.hold)
	if p.inner != nil {
		if err := p.inner(ctx); err != nil {
			return nil, err
		}
	}
	if p.fail != nil {
		return nil, p.fail
	}
	return &handler.Result{Data: []byte("ok"), Transitions: p.transits}, nil
}

type env struct {
	reg      *registry.Registry
	resolver *resolve.Resolver
	router   *Router
	metrics  *telemetry.Metrics
}

func newEnv(t *testing.T, handlers ...handler.Handler) *env {
	t.Helper()
	reg := registry.New()
	t.Cleanup(func() { reg.Close() })
	base := []handler.Handler{space.New(), configbundle.New(reg, 0), app.New(nil, nil, nil)}
	set := handler.NewSet(append(base, handlers...)...)
	m := telemetry.NewMetrics()
	e := &env{
		reg:      reg,
		resolver: resolve.New(reg, set),
		router:   New(reg, WithLogger(zaptest.NewLogger(t)), WithMetrics(m)),
		metrics:  m,
	}
	e.create(t, "localhost<Space>")
	return e
}

func (e *env) create(t *testing.T, text string) *registry.Record {
	t.Helper()
	h, err := e.resolver.Parse(text, resolve.PolicyCreate)
	if err != nil {
		t.Fatalf("resolve create %s: %v", text, err)
	}
	rec, err := e.router.Create(context.Background(), h)
	if err != nil {
		t.Fatalf("create %s: %v", text, err)
	}
	return rec
}

func (e *env) route(ctx context.Context, text string, op handler.Operation, p Payload) (*handler.Result, error) {
	h, err := e.resolver.Parse(text, resolve.PolicyRead)
	if err != nil {
		return nil, err
	}
	return e.router.Route(ctx, h, op, p)
}

func (e *env) state(t *testing.T, text string) registry.State {
	t.Helper()
	rec, ok := e.reg.Lookup(address.MustParse(text))
	if !ok {
		t.Fatalf("no record at %s", text)
	}
	return rec.State
}

func isKind(err error, k spaceerrors.Kind) bool {
	return errors.Is(err, &spaceerrors.Error{Kind: k})
}

func TestCreate_Readiness(t *testing.T) {
	e := newEnv(t, filesystem.New(nil, nil))

	if got := e.state(t, "localhost"); got != registry.StateReady {
		t.Errorf("space state = %v, want ready", got)
	}
	rec := e.create(t, "localhost:www<FileSystem>")
	if rec.State != registry.StateReady {
		t.Errorf("filesystem state = %v, want ready", rec.State)
	}
	rec = e.create(t, "localhost:api<App>")
	if rec.State != registry.StateUnconfigured {
		t.Errorf("app state = %v, want unconfigured", rec.State)
	}
	if len(rec.History) != 0 {
		t.Errorf("app history = %v", rec.History)
	}
}

func TestRoute_EndToEndFileSystem(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, filesystem.New(nil, nil))
	e.create(t, "localhost:my-files<FileSystem>")

	if _, err := e.route(ctx, "localhost:my-files:/index.html", handler.OpWrite, Payload{Data: []byte("<html>")}); err != nil {
		t.Fatalf("write: %v", err)
	}
	res, err := e.route(ctx, "localhost:my-files:/index.html", handler.OpRead, Payload{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(res.Data) != "<html>" {
		t.Errorf("read = %q", res.Data)
	}

	res, err = e.route(ctx, "localhost", handler.OpList, Payload{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if fmt.Sprint(res.Entries) != "[my-files]" {
		t.Errorf("list = %v", res.Entries)
	}
	if e.router.Locks() != 0 {
		t.Errorf("locks leaked: %d", e.router.Locks())
	}
}

func TestRoute_Gating(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, filesystem.New(nil, nil))
	e.create(t, "localhost:api<App>")
	e.create(t, "localhost:www<FileSystem>")

	tests := []struct {
		text string
		op   handler.Operation
		kind spaceerrors.Kind
	}{
		{"localhost:api", handler.OpInvoke, spaceerrors.KindNotReady},
		{"localhost:api", handler.OpRead, spaceerrors.KindUnsupported},
		{"localhost:api", handler.OpWrite, spaceerrors.KindUnsupported},
		{"localhost:www", handler.OpInvoke, spaceerrors.KindUnsupported},
		{"localhost", handler.OpWrite, spaceerrors.KindUnsupported},
		{"localhost", handler.OpConfigure, spaceerrors.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.text+"/"+tt.op.String(), func(t *testing.T) {
			_, err := e.route(ctx, tt.text, tt.op, Payload{})
			if !isKind(err, tt.kind) {
				t.Fatalf("err = %v, want %s", err, tt.kind)
			}
			var se *spaceerrors.Error
			if errors.As(err, &se) && se.Address == "" {
				t.Errorf("error not annotated with address: %v", err)
			}
		})
	}
	if got := e.state(t, "localhost:api"); got != registry.StateUnconfigured {
		t.Errorf("rejections changed state to %v", got)
	}
}

func TestRoute_ConfigureLifecycle(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, filesystem.New(nil, nil))
	e.create(t, "localhost:config<ConfigBundle>")
	e.create(t, "localhost:code<FileSystem>")
	e.create(t, "localhost:api<App>")

	if _, err := e.reg.Publish(ctx, address.MustParse("localhost:config"), "1.0.0", []byte("routes")); err != nil {
		t.Fatal(err)
	}

	target := address.MustParse("localhost:config:1.0.0")
	if _, err := e.route(ctx, "localhost:api", handler.OpConfigure, Payload{Key: "config", Target: &target}); err != nil {
		t.Fatalf("configure config: %v", err)
	}
	if got := e.state(t, "localhost:api"); got != registry.StateConfiguring {
		t.Fatalf("state after config = %v, want configuring", got)
	}
	_, err := e.route(ctx, "localhost:api", handler.OpInvoke, Payload{})
	if !isKind(err, spaceerrors.KindNotReady) {
		t.Fatalf("invoke while configuring err = %v", err)
	}

	bad := address.MustParse("localhost:missing")
	_, err = e.route(ctx, "localhost:api", handler.OpConfigure, Payload{Key: "wasm", Target: &bad})
	if !isKind(err, spaceerrors.KindBindError) {
		t.Fatalf("dangling binding err = %v", err)
	}
	wrongKind := address.MustParse("localhost:code")
	_, err = e.route(ctx, "localhost:api", handler.OpConfigure, Payload{Key: "config", Target: &wrongKind})
	if !isKind(err, spaceerrors.KindBindError) {
		t.Fatalf("incompatible binding err = %v", err)
	}
	if got := e.state(t, "localhost:api"); got != registry.StateConfiguring {
		t.Fatalf("failed binds changed state to %v", got)
	}

	code := address.MustParse("localhost:code:/app.wasm")
	if _, err := e.route(ctx, "localhost:api", handler.OpConfigure, Payload{Key: "wasm", Target: &code}); err != nil {
		t.Fatalf("configure wasm: %v", err)
	}
	rec, _ := e.reg.Lookup(address.MustParse("localhost:api"))
	if rec.State != registry.StateReady {
		t.Fatalf("state = %v, want ready", rec.State)
	}
	if len(rec.History) != 2 {
		t.Errorf("history = %+v", rec.History)
	}
	if b, ok := rec.Binding("config"); !ok || b.Version != "1.0.0" {
		t.Errorf("config binding = %+v", b)
	}
	if got := testutil.ToFloat64(e.metrics.Transitions.WithLabelValues("configuring", "ready")); got != 1 {
		t.Errorf("transition metric = %v", got)
	}
}

func TestRoute_SpaceBinding(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.create(t, "localhost:config<ConfigBundle>")
	if _, err := e.reg.Publish(ctx, address.MustParse("localhost:config"), "1.0.0", []byte("routes")); err != nil {
		t.Fatal(err)
	}

	target := address.MustParse("localhost:config:1.0.0:/")
	if _, err := e.route(ctx, "localhost", handler.OpConfigure, Payload{Key: "config", Target: &target}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	self := address.MustParse("localhost")
	_, err := e.route(ctx, "localhost", handler.OpConfigure, Payload{Key: "self", Target: &self})
	if !isKind(err, spaceerrors.KindBindError) {
		t.Fatalf("self binding err = %v", err)
	}
	if _, err := e.route(ctx, "localhost", handler.OpConfigure, Payload{Key: "region", Value: "eu"}); err != nil {
		t.Fatalf("literal configure: %v", err)
	}
	rec, _ := e.reg.Lookup(address.MustParse("localhost"))
	if b, _ := rec.Binding("region"); !b.Literal || b.Value != "eu" {
		t.Errorf("literal binding = %+v", b)
	}
}

func TestRoute_FaultFailsResource(t *testing.T) {
	ctx := context.Background()
	p := newRecorder()
	e := newEnv(t, p)
	e.create(t, "localhost:www<FileSystem>")

	p.fail = errors.New("disk on fire")
	_, err := e.route(ctx, "localhost:www:/a", handler.OpWrite, Payload{})
	if !isKind(err, spaceerrors.KindResourceFault) {
		t.Fatalf("err = %v, want resource_fault", err)
	}
	if !strings.Contains(err.Error(), "disk on fire") || !strings.Contains(err.Error(), "localhost:www") {
		t.Errorf("fault lacks cause or address: %v", err)
	}
	if got := e.state(t, "localhost:www"); got != registry.StateFailed {
		t.Fatalf("state = %v, want failed", got)
	}

	p.fail = nil
	for _, op := range []handler.Operation{handler.OpWrite, handler.OpList} {
		if _, err := e.route(ctx, "localhost:www", op, Payload{}); !isKind(err, spaceerrors.KindNotReady) {
			t.Errorf("%s on failed err = %v", op, err)
		}
	}

	res, err := e.route(ctx, "localhost:www", handler.OpRead, Payload{})
	if err != nil {
		t.Fatalf("diagnostic read: %v", err)
	}
	var report Report
	if err := yaml.Unmarshal(res.Data, &report); err != nil {
		t.Fatalf("report is not yaml: %v\n%s", err, res.Data)
	}
	if report.State != "failed" || report.Fault != "disk on fire" {
		t.Errorf("report = %+v", report)
	}
	if p.shared.Load() != 0 || p.maxShared.Load() != 0 {
		t.Error("diagnostic read reached the handler")
	}
}

func TestRoute_RejectionKeepsState(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, filesystem.New(nil, nil))
	e.create(t, "localhost:www<FileSystem>")

	_, err := e.route(ctx, "localhost:www:/missing", handler.OpRead, Payload{})
	if !isKind(err, spaceerrors.KindNotFound) {
		t.Fatalf("err = %v", err)
	}
	var se *spaceerrors.Error
	if !errors.As(err, &se) || se.Operation != "read" {
		t.Errorf("rejection not annotated: %v", err)
	}
	if got := e.state(t, "localhost:www"); got != registry.StateReady {
		t.Errorf("state = %v", got)
	}
}

func TestRoute_ContractViolation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		op       handler.Operation
		transits []handler.Transition
	}{
		{
			name: "two transitions",
			op:   handler.OpWrite,
			transits: []handler.Transition{
				{To: registry.StateFailed, Cause: "a"},
				{To: registry.StateFailed, Cause: "b"},
			},
		},
		{name: "illegal edge", op: handler.OpWrite, transits: []handler.Transition{{To: registry.StateConfiguring}}},
		{name: "transition from shared op", op: handler.OpRead, transits: []handler.Transition{{To: registry.StateFailed}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newRecorder()
			e := newEnv(t, p)
			e.create(t, "localhost:www<FileSystem>")
			p.transits = tt.transits

			_, err := e.route(ctx, "localhost:www:/a", tt.op, Payload{})
			if !isKind(err, spaceerrors.KindContractViolation) {
				t.Fatalf("err = %v, want contract_violation", err)
			}
			rec, _ := e.reg.Lookup(address.MustParse("localhost:www"))
			if rec.State != registry.StateReady || len(rec.History) != 1 {
				t.Errorf("record changed: state=%v history=%v", rec.State, rec.History)
			}
		})
	}
}

func TestRoute_ConcurrentWritesSerialized(t *testing.T) {
	ctx := context.Background()
	p := newRecorder()
	p.hold = time.Millisecond
	e := newEnv(t, p)
	e.create(t, "localhost:www<FileSystem>")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := e.route(ctx, "localhost:www:/f", handler.OpWrite, Payload{Data: []byte("x")}); err != nil {
				t.Errorf("write: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := e.route(ctx, "localhost:www:/f", handler.OpRead, Payload{}); err != nil {
				t.Errorf("read: %v", err)
			}
		}()
	}
	wg.Wait()

	if p.overlap.Load() {
		t.Fatal("a write overlapped another operation on the same address")
	}
	if e.router.Locks() != 0 {
		t.Errorf("locks leaked: %d", e.router.Locks())
	}
}

func TestRoute_ConcurrentReadsShare(t *testing.T) {
	ctx := context.Background()
	p := newRecorder()
	p.hold = 20 * time.Millisecond
	e := newEnv(t, p)
	e.create(t, "localhost:www<FileSystem>")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.route(ctx, "localhost:www:/f", handler.OpRead, Payload{})
		}()
	}
	wg.Wait()
	if p.maxShared.Load() < 2 {
		t.Errorf("reads never ran in parallel (max %d)", p.maxShared.Load())
	}
}

func TestRoute_DisjointFileSystemsIndependent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, filesystem.New(nil, nil))
	const n = 16
	for i := 0; i < n; i++ {
		e.create(t, fmt.Sprintf("localhost:fs%d<FileSystem>", i))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				text := fmt.Sprintf("localhost:fs%d:/file%d", i, j)
				if _, err := e.route(ctx, text, handler.OpWrite, Payload{Data: []byte(text)}); err != nil {
					t.Errorf("write %s: %v", text, err)
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		res, err := e.route(ctx, fmt.Sprintf("localhost:fs%d", i), handler.OpList, Payload{})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(res.Entries) != 20 {
			t.Errorf("fs%d has %d files, want 20", i, len(res.Entries))
		}
		res, err = e.route(ctx, fmt.Sprintf("localhost:fs%d:/file7", i), handler.OpRead, Payload{})
		if err != nil || string(res.Data) != fmt.Sprintf("localhost:fs%d:/file7", i) {
			t.Errorf("fs%d file7 = (%q, %v)", i, res.Data, err)
		}
	}
}

func TestRoute_Reentrant(t *testing.T) {
	ctx := context.Background()
	p := newRecorder()
	e := newEnv(t, p)
	e.create(t, "localhost:www<FileSystem>")
	e.create(t, "localhost:other<FileSystem>")

	var innerErr error
	p.inner = func(ctx context.Context) error {
		p.inner = nil
		_, innerErr = e.route(ctx, "localhost:www:/x", handler.OpRead, Payload{})
		return nil
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.route(ctx, "localhost:www:/a", handler.OpWrite, Payload{})
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reentrant call deadlocked")
	}
	if !isKind(innerErr, spaceerrors.KindReentrant) {
		t.Fatalf("inner err = %v, want reentrant", innerErr)
	}

	p.inner = func(ctx context.Context) error {
		p.inner = nil
		if got := Held(ctx); len(got) != 1 || got[0] != "localhost:www" {
			t.Errorf("Held = %v", got)
		}
		_, innerErr = e.route(ctx, "localhost:other:/x", handler.OpRead, Payload{})
		return nil
	}
	if _, err := e.route(ctx, "localhost:www:/a", handler.OpWrite, Payload{}); err != nil {
		t.Fatalf("outer: %v", err)
	}
	if innerErr != nil {
		t.Fatalf("call to a different address failed: %v", innerErr)
	}
}

func TestRoute_CrossingChainsGiveUp(t *testing.T) {
	p := newRecorder()
	e := newEnv(t, p)
	e.create(t, "localhost:a<FileSystem>")
	e.create(t, "localhost:b<FileSystem>")

	other := map[string]string{
		"localhost:a": "localhost:b:/x",
		"localhost:b": "localhost:a:/x",
	}
	var entered sync.WaitGroup
	entered.Add(2)
	p.inner = func(ctx context.Context) error {
		held := Held(ctx)
		if len(held) > 1 {
			return nil
		}
		// both writes hold their own address before crossing
		entered.Done()
		entered.Wait()
		_, err := e.route(ctx, other[held[0]], handler.OpWrite, Payload{})
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	errs := make(chan error, 2)
	for _, text := range []string{"localhost:a:/x", "localhost:b:/x"} {
		go func() {
			_, err := e.route(ctx, text, handler.OpWrite, Payload{})
			errs <- err
		}()
	}
	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			if !isKind(err, spaceerrors.KindBusy) {
				t.Errorf("err = %v, want busy in the chain", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("crossing writes still blocked after their deadline")
		}
	}

	for _, text := range []string{"localhost:a", "localhost:b"} {
		if got := e.state(t, text); got != registry.StateFailed {
			t.Errorf("%s state = %v, want failed", text, got)
		}
	}
	if e.router.Locks() != 0 {
		t.Errorf("locks leaked: %d", e.router.Locks())
	}
}

func TestRoute_LockWait(t *testing.T) {
	p := newRecorder()
	reg := registry.New()
	t.Cleanup(func() { reg.Close() })
	e := &env{
		reg:      reg,
		resolver: resolve.New(reg, handler.NewSet(space.New(), p)),
		router:   New(reg, WithLogger(zaptest.NewLogger(t)), WithLockWait(20*time.Millisecond)),
	}
	e.create(t, "localhost<Space>")
	e.create(t, "localhost:www<FileSystem>")

	started := make(chan struct{})
	release := make(chan struct{})
	p.inner = func(context.Context) error {
		close(started)
		<-release
		return nil
	}
	defer close(release)
	go func() {
		_, _ = e.route(context.Background(), "localhost:www:/a", handler.OpWrite, Payload{})
	}()
	<-started

	_, err := e.route(context.Background(), "localhost:www:/a", handler.OpRead, Payload{})
	if !isKind(err, spaceerrors.KindBusy) {
		t.Fatalf("read behind a held write err = %v, want busy", err)
	}
	if got := e.state(t, "localhost:www"); got != registry.StateReady {
		t.Errorf("lock timeout changed state to %v", got)
	}
}

func TestLockTable_CanceledWait(t *testing.T) {
	locks := newLockTable()
	unlock, err := locks.acquire(context.Background(), "k", true)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := locks.acquire(ctx, "k", false); !errors.Is(err, context.Canceled) {
		t.Fatalf("shared acquire on a held key err = %v", err)
	}
	if locks.size() != 1 {
		t.Errorf("size = %d, want 1", locks.size())
	}

	unlock()
	if locks.size() != 0 {
		t.Errorf("size after unlock = %d", locks.size())
	}
	unlock, err = locks.acquire(context.Background(), "k", false)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	unlock()
}

func (e *env) publish(ctx context.Context, text, version string) (*registry.Record, error) {
	h, err := e.resolver.Parse(text, resolve.PolicyRead)
	if err != nil {
		return nil, err
	}
	return e.router.Publish(ctx, h, version, []byte(version))
}

func TestPublish_Gated(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	rec := e.create(t, "localhost:config<ConfigBundle>")

	got, err := e.publish(ctx, "localhost:config", "1.0.0")
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if got.Latest() != "1.0.0" {
		t.Errorf("latest = %q", got.Latest())
	}

	// a writer holding the bundle keeps publishes out
	unlock, err := e.router.locks.acquire(ctx, rec.Key(), true)
	if err != nil {
		t.Fatal(err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	_, err = e.publish(waitCtx, "localhost:config", "1.1.0")
	cancel()
	unlock()
	if !isKind(err, spaceerrors.KindBusy) {
		t.Fatalf("publish behind a writer err = %v, want busy", err)
	}

	if _, err := e.reg.Transition(rec.Handle, registry.StateFailed, "corrupt archive"); err != nil {
		t.Fatal(err)
	}
	_, err = e.publish(ctx, "localhost:config", "2.0.0")
	if !isKind(err, spaceerrors.KindNotReady) {
		t.Fatalf("publish to a failed bundle err = %v, want not_ready", err)
	}
	after, _ := e.reg.Lookup(address.MustParse("localhost:config"))
	if strings.Join(after.Versions, ",") != "1.0.0" {
		t.Errorf("versions = %v", after.Versions)
	}
	if e.router.Locks() != 0 {
		t.Errorf("locks left = %d", e.router.Locks())
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, filesystem.New(nil, nil))
	e.create(t, "localhost:www<FileSystem>")

	del := func(text string) error {
		h, err := e.resolver.Parse(text, resolve.PolicyRead)
		if err != nil {
			return err
		}
		return e.router.Delete(ctx, h)
	}

	if err := del("localhost"); !isKind(err, spaceerrors.KindHasChildren) {
		t.Fatalf("delete parent err = %v", err)
	}
	if err := del("localhost:www"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := e.route(ctx, "localhost:www", handler.OpList, Payload{}); !isKind(err, spaceerrors.KindNotFound) {
		t.Fatalf("list deleted err = %v", err)
	}

	// recreate starts from a clean volume
	e.create(t, "localhost:www<FileSystem>")
	res, err := e.route(ctx, "localhost:www", handler.OpList, Payload{})
	if err != nil || len(res.Entries) != 0 {
		t.Fatalf("recreated list = (%v, %v)", res, err)
	}
}

func TestRouteRejectsWrongPolicy(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	h, err := e.resolver.Parse("localhost:x<Space>", resolve.PolicyCreate)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.router.Route(ctx, h, handler.OpList, Payload{}); !isKind(err, spaceerrors.KindInvalidInput) {
		t.Errorf("route with create handle err = %v", err)
	}
	h, _ = e.resolver.Parse("localhost", resolve.PolicyRead)
	if _, err := e.router.Create(ctx, h); !isKind(err, spaceerrors.KindInvalidInput) {
		t.Errorf("create with read handle err = %v", err)
	}
}
