package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/temoto/envtele/cmd/envtele/cred"
	"github.com/temoto/envtele/cmd/envtele/ident"
	"github.com/temoto/envtele/cmd/envtele/run"
	"github.com/temoto/envtele/cmd/envtele/subcmd"
	"github.com/temoto/envtele/internal/state"
	"github.com/temoto/envtele/log2"
)

var log = log2.NewStderr(log2.LDebug)

var modules = []subcmd.Mod{
	run.Mod,
	cred.Mod,
	ident.Mod,
}

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flagConfig := cmdline.String("config", "envtele.hcl", "")
	cmdline.Usage = func() {
		fmt.Fprintf(cmdline.Output(), "usage: %s [-config=envtele.hcl] [command]\n", os.Args[0])
		cmdline.PrintDefaults()
		fmt.Fprint(cmdline.Output(), subcmd.Usage(modules))
	}
	err := cmdline.Parse(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	command := "run"
	if cmdline.NArg() > 0 {
		command = cmdline.Arg(0)
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		cmdline.Usage()
		log.Fatal(err)
	}

	if mod.Name == "run" && subcmd.SdNotify("start") {
		// we're under systemd, assume systemd journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}
	log.SetLevel(log2.LInfo)

	config := state.MustReadConfig(log, state.NewOsFullReader(""), *flagConfig)
	ctx, _ := state.NewContext(log)
	if err := mod.Main(ctx, config); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}
