package command

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-space/errors"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Write renders res to w in format.
func Write(w io.Writer, res *Result, format string) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case FormatYAML:
		data, err := yaml.Marshal(res)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case FormatText, "":
		return writeText(w, res)
	default:
		return errors.InvalidInput(errors.PhaseParse, fmt.Sprintf("unknown output format %q", format))
	}
}

func writeText(w io.Writer, res *Result) error {
	switch {
	case res.Data != nil:
		if _, err := w.Write(res.Data); err != nil {
			return err
		}
		if len(res.Data) > 0 && res.Data[len(res.Data)-1] != '\n' {
			_, err := io.WriteString(w, "\n")
			return err
		}
		return nil
	case res.Entries != nil:
		if len(res.Entries) == 0 {
			return nil
		}
		_, err := io.WriteString(w, strings.Join(res.Entries, "\n")+"\n")
		return err
	case res.Message != "":
		_, err := fmt.Fprintln(w, res.Message)
		return err
	case res.Report != nil:
		data, err := yaml.Marshal(res.Report)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}
	return nil
}
