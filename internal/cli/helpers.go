package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/thoas/go-funk"
	"sigs.k8s.io/yaml"
)

const (
	tableFormat = "table"
	jsonFormat  = "json"
	yamlFormat  = "yaml"
)

var (
	legalOutputTypes = []string{tableFormat, jsonFormat, yamlFormat}
)

func validateOutput(output string) error {
	if len(output) > 0 && !funk.Contains(legalOutputTypes, output) {
		return fmt.Errorf("output format must be one of %s", strings.Join(legalOutputTypes, ", "))
	}
	return nil
}

// printStructured writes v as json or yaml and reports whether output was one of them.
func printStructured(w io.Writer, output string, v any) (bool, error) {
	switch output {
	case jsonFormat:
		marshalled, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return true, fmt.Errorf("marshalling resource: %w", err)
		}
		fmt.Fprintf(w, "%s\n", string(marshalled))
		return true, nil
	case yamlFormat:
		marshalled, err := yaml.Marshal(v)
		if err != nil {
			return true, fmt.Errorf("marshalling resource: %w", err)
		}
		fmt.Fprintf(w, "%s", string(marshalled))
		return true, nil
	default:
		return false, nil
	}
}

// signalContext is cancelled on interrupt or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
