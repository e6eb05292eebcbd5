// Package cred is interactive WiFi credentials console.
package cred

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/envtele/cmd/envtele/subcmd"
	"github.com/temoto/envtele/helpers/cli"
	"github.com/temoto/envtele/internal/state"
	"github.com/temoto/envtele/internal/storage"
)

const usage = `commands:
- set_ssid <ssid>   Set WiFi SSID
- set_pass <pass>   Set WiFi password
- show              print SSID and masked password
`

var Mod = subcmd.Mod{Name: "cred", Usage: "WiFi credentials console", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.Config = config
	if err := g.InitStorage(); err != nil {
		return err
	}

	cli.MainLoop("envtele-cred", func(line string) {
		if err := Exec(g.Storage, line, os.Stdout); err != nil {
			g.Log.Error(err)
		}
	}, completer)
	return nil
}

var suggests = []prompt.Suggest{
	{Text: "set_ssid", Description: "Set WiFi SSID"},
	{Text: "set_pass", Description: "Set WiFi password"},
	{Text: "show", Description: "print SSID and masked password"},
	{Text: "help"},
}

func completer(d prompt.Document) []prompt.Suggest {
	return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
}

// Exec runs one console line.
func Exec(c storage.Credentials, line string, w io.Writer) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	switch args[0] {
	case "set_ssid":
		if len(args) != 2 {
			return errors.Errorf("Usage: set_ssid <ssid>")
		}
		if err := c.SetSSID([]byte(args[1])); err != nil {
			return errors.Annotate(err, "bad ssid")
		}
		fmt.Fprintln(w, "ssid updated")
	case "set_pass":
		if len(args) != 2 {
			return errors.Errorf("Usage: set_pass <pass>")
		}
		if err := c.SetPass([]byte(args[1])); err != nil {
			return errors.Annotate(err, "bad password")
		}
		fmt.Fprintln(w, "password updated")
	case "show":
		ssid, err := c.SSID()
		if err != nil && !errors.IsNotFound(err) {
			return err
		}
		pass, err := c.Pass()
		if err != nil && !errors.IsNotFound(err) {
			return err
		}
		fmt.Fprintf(w, "ssid=%s pass=%s\n", ssid, Mask(pass))
	case "help", "?":
		fmt.Fprint(w, usage)
	default:
		return errors.Errorf("unknown command='%s'\n%s", args[0], usage)
	}
	return nil
}

// Mask keeps first and last byte of long secrets.
func Mask(b []byte) string {
	switch {
	case len(b) == 0:
		return ""
	case len(b) < 8:
		return strings.Repeat("*", len(b))
	}
	return string(b[0]) + strings.Repeat("*", len(b)-2) + string(b[len(b)-1])
}
