// slabnest — nest DXF part outlines on a stock sheet.
//
// Run as an HTTP service:
//   slabnest serve --config=/etc/slabnest/config.yaml
//
// Or nest drawings from the command line:
//   slabnest nest --out=layout.dxf --width=1000 --height=500 bracket.dxf:4 plate.dxf:2
//   slabnest nest --out=layout.pdf --manifest=job.xlsx
//   slabnest compare --steps=90,45,15 bracket.dxf:4
//   slabnest nest --out=layout.svg --manifest=- < job.csv
//
// Set up a config and add a machine profile:
//   slabnest config init
//   slabnest profile import shapeoko.json
//
// Build:
//   go build -o slabnest ./cmd/slabnest

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"
)

const version = "0.3.0"

const usage = `slabnest.

Usage:
  slabnest serve [--config=<path>] [--addr=<addr>]
  slabnest nest --out=<file> [options] <drawing>...
  slabnest nest --out=<file> --manifest=<file> [options]
  slabnest compare [options] [--steps=<list>] <drawing>...
  slabnest config init [--config=<path>] [--force]
  slabnest profile import <profile> [--config=<path>]
  slabnest -h | --help
  slabnest --version

Drawings are given as path[:quantity]; the quantity defaults to 1.
The output format follows the --out extension: .dxf .svg .png .pdf .gcode .nc
A manifest of "-" is read as CSV from standard input.

Options:
  -h --help          Show this screen.
  --version          Show version.
  --config=<path>    Config file, JSON or YAML (default ~/.slabnest/config.json).
  --addr=<addr>      Listen address, overrides the config.
  --out=<file>       Output file.
  --manifest=<file>  CSV or Excel list of drawings and quantities.
  --width=<mm>       Sheet width.
  --height=<mm>      Sheet height.
  --gap=<mm>         Clearance between parts and to the sheet edge.
  --step=<deg>       Rotation step in degrees.
  --mode=<mode>      Extraction mode, strict or extended.
  --profile=<name>   G-code profile for .gcode/.nc output.
  --scale=<px>       Pixels per mm for .png output [default: 1].
  --steps=<list>     Comma separated rotation steps to compare.
  --force            Overwrite an existing config file.
`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "slabnest: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case opts["serve"] == true:
		err = runServe(ctx, opts)
	case opts["nest"] == true:
		err = runNest(ctx, opts)
	case opts["compare"] == true:
		err = runCompare(ctx, opts)
	case opts["config"] == true:
		err = runConfigInit(opts)
	case opts["profile"] == true:
		err = runProfileImport(opts)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "slabnest: %v\n", err)
		stop()
		os.Exit(1)
	}
}
