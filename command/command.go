// Package command parses and executes the CLI command tuples
// (command, address[, args]) shared by the CLI, the interactive terminal
// and journal replay.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/shlex"

	"github.com/wippyai/wasm-space/bundle"
	"github.com/wippyai/wasm-space/errors"
	"github.com/wippyai/wasm-space/router"
	"github.com/wippyai/wasm-space/runtime"
)

// Name identifies a command.
type Name string

const (
	Create  Name = "create"
	Publish Name = "publish"
	Copy    Name = "cp"
	Set     Name = "set"
	Read    Name = "read"
	List    Name = "ls"
	Invoke  Name = "invoke"
	Remove  Name = "rm"
	Inspect Name = "inspect"
)

type usage struct {
	text    string
	minArgs int
	maxArgs int
	mutates bool
}

var usages = map[Name]usage{
	Create:  {text: "create <address<Kind>>", minArgs: 1, maxArgs: 1, mutates: true},
	Publish: {text: "publish <address> <version> <file|dir>", minArgs: 3, maxArgs: 3, mutates: true},
	Copy:    {text: "cp <file> <address:/path>", minArgs: 2, maxArgs: 2, mutates: true},
	Set:     {text: "set <address::key> <target> [--literal]", minArgs: 2, maxArgs: 2, mutates: true},
	Read:    {text: "read <address>", minArgs: 1, maxArgs: 1},
	List:    {text: "ls <address>", minArgs: 0, maxArgs: 1},
	Invoke:  {text: "invoke <address[:/export]> [input]", minArgs: 1, maxArgs: 2},
	Remove:  {text: "rm <address>", minArgs: 1, maxArgs: 1, mutates: true},
	Inspect: {text: "inspect <address>", minArgs: 1, maxArgs: 1},
}

// Names returns every command name, sorted.
func Names() []Name {
	return []Name{Copy, Create, Inspect, Invoke, List, Publish, Read, Remove, Set}
}

// Usage returns the one-line synopsis of n.
func Usage(n Name) string {
	return usages[n].text
}

// Command is one parsed command. Data holds the bytes a publish or cp
// read from its file, so journaled commands replay without the file.
type Command struct {
	Name    Name     `json:"name"`
	Args    []string `json:"args,omitempty"`
	Data    []byte   `json:"data,omitempty"`
	Literal bool     `json:"literal,omitempty"`
}

// New builds a command from a name and its arguments.
func New(name string, args ...string) (Command, error) {
	n := Name(strings.ToLower(name))
	u, ok := usages[n]
	if !ok {
		return Command{}, errors.InvalidInput(errors.PhaseParse, fmt.Sprintf("unknown command %q", name))
	}

	c := Command{Name: n}
	for _, a := range args {
		if a == "--literal" && n == Set {
			c.Literal = true
			continue
		}
		c.Args = append(c.Args, a)
	}
	if len(c.Args) < u.minArgs || len(c.Args) > u.maxArgs {
		return Command{}, errors.InvalidInput(errors.PhaseParse, "usage: "+u.text)
	}
	return c, nil
}

// Parse splits a command line into a command.
func Parse(line string) (Command, error) {
	fields, err := Split(line)
	if err != nil {
		return Command{}, err
	}
	if len(fields) == 0 {
		return Command{}, errors.InvalidInput(errors.PhaseParse, "empty command")
	}
	return New(fields[0], fields[1:]...)
}

// Split breaks a line into fields with shell quoting rules. Quotes group
// and a backslash escapes the next character outside single quotes.
// A field starting with # begins a comment.
func Split(line string) ([]string, error) {
	fields, err := shlex.Split(line)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseParse, errors.KindInvalidInput, err, "split command line")
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

// Mutates reports whether c changes host state and belongs in the journal.
func (c Command) Mutates() bool {
	return usages[c.Name].mutates
}

// Address returns the address the command targets.
func (c Command) Address() string {
	switch c.Name {
	case Copy:
		return c.Args[1]
	case List:
		if len(c.Args) == 0 {
			return ""
		}
	}
	return c.Args[0]
}

func (c Command) String() string {
	parts := append([]string{string(c.Name)}, c.Args...)
	if c.Literal {
		parts = append(parts, "--literal")
	}
	return strings.Join(parts, " ")
}

// Encode renders c for the journal.
func (c Command) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// Decode reads a journaled command.
func Decode(data []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return Command{}, errors.Wrap(errors.PhaseStore, errors.KindInvalidInput, err, "decode journal entry")
	}
	if _, ok := usages[c.Name]; !ok {
		return Command{}, errors.InvalidInput(errors.PhaseStore, fmt.Sprintf("unknown journaled command %q", c.Name))
	}
	return c, nil
}

// Load reads the file a publish or cp names into Data. A directory given
// to publish is zipped into a bundle.
func (c *Command) Load() error {
	if c.Data != nil {
		return nil
	}
	var path string
	switch c.Name {
	case Publish:
		path = c.Args[2]
	case Copy:
		path = c.Args[0]
	default:
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrap(errors.PhaseParse, errors.KindInvalidInput, err, "read "+path)
	}
	var data []byte
	switch {
	case info.IsDir() && c.Name == Publish:
		data, err = bundle.Zip(path)
	case info.IsDir():
		return errors.InvalidInput(errors.PhaseParse, path+" is a directory")
	default:
		data, err = os.ReadFile(path)
		if err != nil {
			err = errors.Wrap(errors.PhaseParse, errors.KindInvalidInput, err, "read "+path)
		}
	}
	if err != nil {
		return err
	}
	if data == nil {
		data = []byte{}
	}
	c.Data = data
	return nil
}

// Result is the output of a command.
type Result struct {
	Report  *router.Report `json:"report,omitempty" yaml:"report,omitempty"`
	Data    []byte         `json:"data,omitempty" yaml:"data,omitempty"`
	Entries []string       `json:"entries,omitempty" yaml:"entries,omitempty"`
	Message string         `json:"message,omitempty" yaml:"message,omitempty"`
}

// Execute runs c against rt.
func Execute(ctx context.Context, rt *runtime.Runtime, c Command) (*Result, error) {
	if err := c.Load(); err != nil {
		return nil, err
	}

	switch c.Name {
	case Create:
		rec, err := rt.Create(ctx, c.Args[0])
		if err != nil {
			return nil, err
		}
		return reportResult(router.NewReport(rec), fmt.Sprintf("created %s (%s, %s)", rec.Address, rec.Kind, rec.State)), nil

	case Publish:
		rec, err := rt.Publish(ctx, c.Args[0], c.Args[1], c.Data)
		if err != nil {
			return nil, err
		}
		return reportResult(router.NewReport(rec), fmt.Sprintf("published %s %s (%d bytes)", rec.Address, c.Args[1], len(c.Data))), nil

	case Copy:
		if err := rt.Write(ctx, c.Args[1], c.Data); err != nil {
			return nil, err
		}
		return &Result{Message: fmt.Sprintf("copied %d bytes to %s", len(c.Data), c.Args[1])}, nil

	case Set:
		set := rt.Set
		if c.Literal {
			set = rt.SetValue
		}
		rec, err := set(ctx, c.Args[0], c.Args[1])
		if err != nil {
			return nil, err
		}
		return reportResult(router.NewReport(rec), fmt.Sprintf("%s is %s", rec.Address, rec.State)), nil

	case Read:
		res, err := rt.Read(ctx, c.Args[0])
		if err != nil {
			return nil, err
		}
		return &Result{Data: res.Data, Entries: res.Entries}, nil

	case List:
		entries, err := rt.List(ctx, c.Address())
		if err != nil {
			return nil, err
		}
		return &Result{Entries: entries}, nil

	case Invoke:
		var input []byte
		if len(c.Args) > 1 {
			input = []byte(c.Args[1])
		}
		out, err := rt.Invoke(ctx, c.Args[0], input)
		if err != nil {
			return nil, err
		}
		return &Result{Data: out}, nil

	case Remove:
		if err := rt.Delete(ctx, c.Args[0]); err != nil {
			return nil, err
		}
		return &Result{Message: "removed " + c.Args[0]}, nil

	case Inspect:
		rep, err := rt.Inspect(c.Args[0])
		if err != nil {
			return nil, err
		}
		return reportResult(rep, ""), nil

	default:
		return nil, errors.InvalidInput(errors.PhaseParse, fmt.Sprintf("unknown command %q", c.Name))
	}
}

func reportResult(rep router.Report, msg string) *Result {
	return &Result{Report: &rep, Message: msg}
}
