package app

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/wippyai/wasm-space/address"
	spaceerrors "github.com/wippyai/wasm-space/errors"
	"github.com/wippyai/wasm-space/handler"
	"github.com/wippyai/wasm-space/registry"
)

type fakeLoader struct {
	modules map[string][]byte
}

func (l fakeLoader) Load(_ context.Context, b registry.Binding) ([]byte, error) {
	m, ok := l.modules[b.Target]
	if !ok {
		return nil, spaceerrors.NotFound(spaceerrors.PhaseHandler, b.Target, "no module")
	}
	return m, nil
}

type fakeExecutor struct {
	calls []Call
	err   error
}

func (e *fakeExecutor) Execute(_ context.Context, call Call) ([]byte, error) {
	e.calls = append(e.calls, call)
	if e.err != nil {
		return nil, e.err
	}
	return append([]byte(call.Export+":"), call.Input...), nil
}

func appRecord(state registry.State) *registry.Record {
	return &registry.Record{
		Address:  address.MustParse("localhost:api"),
		Kind:     registry.KindApp,
		State:    state,
		Bindings: map[string]registry.Binding{},
	}
}

func TestHandler_Configure(t *testing.T) {
	ctx := context.Background()
	h := New(nil, nil, zaptest.NewLogger(t))

	tests := []struct {
		name     string
		state    registry.State
		bindings []string
		want     []registry.State
	}{
		{name: "first binding", state: registry.StateUnconfigured, bindings: []string{"config"}, want: []registry.State{registry.StateConfiguring}},
		{name: "all bindings", state: registry.StateConfiguring, bindings: []string{"config", "wasm"}, want: []registry.State{registry.StateReady}},
		{name: "all at once", state: registry.StateUnconfigured, bindings: []string{"config", "wasm"}, want: []registry.State{registry.StateReady}},
		{name: "extra key only", state: registry.StateUnconfigured, bindings: []string{"debug"}},
		{name: "already ready", state: registry.StateReady, bindings: []string{"config", "wasm", "debug"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := appRecord(tt.state)
			bindings := map[string]registry.Binding{}
			for _, k := range tt.bindings {
				bindings[k] = registry.Binding{Key: k, Target: "localhost:config:1.0.0"}
			}
			last := bindings[tt.bindings[len(tt.bindings)-1]]
			res, err := h.Configure(ctx, &handler.Request{
				Record:   rec,
				Address:  rec.Address,
				Key:      last.Key,
				Binding:  &last,
				Bindings: bindings,
			})
			if err != nil {
				t.Fatalf("Configure failed: %v", err)
			}
			if len(res.Transitions) != len(tt.want) {
				t.Fatalf("transitions = %v, want %v", res.Transitions, tt.want)
			}
			for i, tr := range res.Transitions {
				if tr.To != tt.want[i] {
					t.Errorf("transition %d = %v, want %v", i, tr.To, tt.want[i])
				}
			}
		})
	}
}

func TestHandler_ConfigureRejectsLiteralRequired(t *testing.T) {
	h := New(nil, nil, nil)
	rec := appRecord(registry.StateUnconfigured)
	b := registry.LiteralBinding("wasm", "inline")
	_, err := h.Configure(context.Background(), &handler.Request{
		Record:   rec,
		Address:  rec.Address,
		Key:      "wasm",
		Binding:  &b,
		Bindings: map[string]registry.Binding{"wasm": b},
	})
	if !errors.Is(err, &spaceerrors.Error{Kind: spaceerrors.KindInvalidInput}) {
		t.Fatalf("err = %v, want invalid_input", err)
	}
}

func TestHandler_Invoke(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExecutor{}
	loader := fakeLoader{modules: map[string][]byte{"localhost:code:1.0.0": []byte("\x00asm")}}
	h := New(loader, exec, nil)

	rec := appRecord(registry.StateReady)
	bindings := map[string]registry.Binding{
		"config": {Key: "config", Target: "localhost:config:1.0.0"},
		"wasm":   {Key: "wasm", Target: "localhost:code:1.0.0"},
	}

	res, err := h.Invoke(ctx, &handler.Request{Record: rec, Address: rec.Address, Bindings: bindings, Data: []byte("x")})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if string(res.Data) != "run:x" {
		t.Errorf("Data = %q", res.Data)
	}

	res, err = h.Invoke(ctx, &handler.Request{Record: rec, Address: rec.Address.WithPath("/echo"), Path: "/echo", Bindings: bindings})
	if err != nil {
		t.Fatalf("Invoke echo failed: %v", err)
	}
	if string(res.Data) != "echo:" {
		t.Errorf("Data = %q", res.Data)
	}
	if len(exec.calls) != 2 || string(exec.calls[1].Wasm) != "\x00asm" {
		t.Errorf("calls = %+v", exec.calls)
	}

	exec.err = errors.New("unreachable executed")
	_, err = h.Invoke(ctx, &handler.Request{Record: rec, Address: rec.Address, Bindings: bindings})
	if err == nil || handler.IsRejection(err) {
		t.Errorf("trap err = %v, want a fault", err)
	}

	_, err = h.Invoke(ctx, &handler.Request{Record: rec, Address: rec.Address, Bindings: map[string]registry.Binding{}})
	if !errors.Is(err, &spaceerrors.Error{Kind: spaceerrors.KindNotReady}) {
		t.Errorf("unbound err = %v", err)
	}
}
