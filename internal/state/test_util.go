package state

import (
	"context"
	"testing"

	"github.com/temoto/envtele/internal/storage"
	"github.com/temoto/envtele/log2"
)

const TestHardwareID = "00112233445566778899aabbccddeeff"

// NewTestContext inits Global with in-memory credentials and mock network link.
// confString is prepended with minimal valid config, later keys win.
func NewTestContext(t testing.TB, confString string /* logLevel log2.Level*/) (context.Context, *Global) {
	fs := NewMockFullReader(map[string]string{
		"test-base": `
hardware_id = "` + TestHardwareID + `"
server { hostname = "127.0.0.1" }
network { link = "mock" }
storage { initial_ssid = "test-ssid" initial_pass = "test-pass" }
`,
		"test-inline": confString,
	})

	log := log2.NewTest(t, log2.LDebug)
	// log := log2.NewStderr(log2.LDebug) // useful with panics
	log.SetFlags(log2.LTestFlags)
	ctx, g := NewContext(log)
	g.Storage = storage.NewMemStore()
	g.MustInit(ctx, MustReadConfig(log, fs, "test-base", "test-inline"))
	return ctx, g
}
