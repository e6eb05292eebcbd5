// Package ident prints device fingerprint for server enrollment.
package ident

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/juju/errors"
	"github.com/skip2/go-qrcode"
	"github.com/temoto/envtele/cmd/envtele/subcmd"
	"github.com/temoto/envtele/internal/state"
)

var Mod = subcmd.Mod{Name: "ident", Usage: "print device fingerprint and enrollment QR", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.Config = config
	if err := g.InitIdentity(); err != nil {
		return err
	}
	return Print(os.Stdout, g.Fingerprint, config.SensorNames())
}

func Print(w io.Writer, fingerprint string, sensors []string) error {
	qr, err := qrcode.New(fingerprint, qrcode.Medium)
	if err != nil {
		return errors.Annotate(err, "qrcode")
	}
	fmt.Fprintf(w, "fingerprint=%s\nsensors=%s\n", fingerprint, strings.Join(sensors, ","))
	_, err = io.WriteString(w, RenderQR(qr.Bitmap()))
	return err
}

// RenderQR draws bitmap with half block characters, two rows per line.
func RenderQR(bitmap [][]bool) string {
	var b strings.Builder
	for y := 0; y < len(bitmap); y += 2 {
		for x := range bitmap[y] {
			top := bitmap[y][x]
			bottom := y+1 < len(bitmap) && bitmap[y+1][x]
			switch {
			case top && bottom:
				b.WriteRune('█')
			case top:
				b.WriteRune('▀')
			case bottom:
				b.WriteRune('▄')
			default:
				b.WriteRune(' ')
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}
