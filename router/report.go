package router

import (
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-space/registry"
)

// Report is the diagnostic view of a resource. It is what a read of a
// Failed resource returns.
type Report struct {
	Created  time.Time             `json:"created" yaml:"created"`
	Address  string                `json:"address" yaml:"address"`
	UID      string                `json:"uid" yaml:"uid"`
	Kind     string                `json:"kind" yaml:"kind"`
	State    string                `json:"state" yaml:"state"`
	Fault    string                `json:"fault,omitempty" yaml:"fault,omitempty"`
	Children []string              `json:"children,omitempty" yaml:"children,omitempty"`
	Versions []string              `json:"versions,omitempty" yaml:"versions,omitempty"`
	Bindings []registry.Binding    `json:"bindings,omitempty" yaml:"bindings,omitempty"`
	History  []registry.Transition `json:"history,omitempty" yaml:"history,omitempty"`
}

// NewReport builds the report of rec.
func NewReport(rec *registry.Record) Report {
	r := Report{
		Address:  rec.Address.String(),
		UID:      rec.UID.String(),
		Kind:     rec.Kind.String(),
		State:    rec.State.String(),
		Fault:    rec.Fault,
		Created:  rec.CreatedAt,
		Children: rec.Children(),
		Versions: append([]string(nil), rec.Versions...),
		History:  append([]registry.Transition(nil), rec.History...),
	}
	for _, b := range rec.Bindings {
		r.Bindings = append(r.Bindings, b)
	}
	sort.Slice(r.Bindings, func(i, j int) bool {
		return r.Bindings[i].Key < r.Bindings[j].Key
	})
	return r
}

// YAML renders the report.
func (r Report) YAML() ([]byte, error) {
	return yaml.Marshal(r)
}
