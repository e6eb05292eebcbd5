package run

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/envtele/cmd/envtele/subcmd"
	"github.com/temoto/envtele/internal/state"
)

var Mod = subcmd.Mod{Name: "run", Usage: "read sensors and deliver to server (default)", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	g.Log.Debugf("config=%+v", g.Config)
	defer func() {
		if err := g.Close(); err != nil {
			g.Log.Error(errors.ErrorStack(err))
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		g.Log.Infof("signal=%v stopping", s)
		subcmd.SdNotify(daemon.SdNotifyStopping)
		g.Alive.Stop()
	}()

	subcmd.SdNotify(daemon.SdNotifyReady)
	g.Log.Infof("systems init complete, running sensors=%d", len(g.Devices))
	err := g.Run(ctx)
	g.Alive.Stop()
	g.Alive.Wait()
	return errors.Annotate(err, "run")
}
