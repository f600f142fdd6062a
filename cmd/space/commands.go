package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-space/command"
)

var shortHelp = map[command.Name]string{
	command.Create:  "Create a resource from an address template",
	command.Publish: "Publish a version of a config bundle",
	command.Copy:    "Copy a local file into a file system resource",
	command.Set:     "Bind a property to a target address or literal",
	command.Read:    "Read a resource, property or path",
	command.List:    "List children or directory entries",
	command.Invoke:  "Invoke an app export",
	command.Remove:  "Delete a resource",
	command.Inspect: "Show the diagnostic report of a resource",
}

// tupleCommands builds one subcommand per command tuple.
func tupleCommands(g *globals) []*cobra.Command {
	cmds := make([]*cobra.Command, 0, len(command.Names()))
	for _, name := range command.Names() {
		cmds = append(cmds, tupleCommand(g, name))
	}
	return cmds
}

func tupleCommand(g *globals, name command.Name) *cobra.Command {
	var literal bool
	cmd := &cobra.Command{
		Use:   command.Usage(name),
		Short: shortHelp[name],
		RunE: func(cmd *cobra.Command, args []string) error {
			if literal {
				args = append(args, "--literal")
			}
			c, err := command.New(string(name), args...)
			if err != nil {
				return err
			}
			return g.withHost(cmd, func(h *host) error {
				res, err := h.exec.Run(cmd.Context(), c)
				if err != nil {
					return err
				}
				return command.Write(cmd.OutOrStdout(), res, g.output)
			})
		},
	}
	if name == command.Set {
		cmd.Flags().BoolVar(&literal, "literal", false, "store the target as a literal value")
	}
	return cmd
}

func newExportsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "exports <address>",
		Short: "List the callable exports of an app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withHost(cmd, func(h *host) error {
				names, err := h.rt.Exports(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return command.Write(cmd.OutOrStdout(), &command.Result{Entries: names}, g.output)
			})
		},
	}
}

// usageParams splits a usage line into its argument placeholders.
func usageParams(name command.Name) []string {
	fields := strings.Fields(command.Usage(name))
	if len(fields) < 2 {
		return nil
	}
	return fields[1:]
}
