package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/docopt/docopt-go"
	"github.com/piwi3910/slabnest/internal/engine"
	"github.com/piwi3910/slabnest/internal/export"
	"github.com/piwi3910/slabnest/internal/gcode"
	"github.com/piwi3910/slabnest/internal/importer"
	"github.com/piwi3910/slabnest/internal/model"
	"github.com/piwi3910/slabnest/internal/pipeline"
	"github.com/piwi3910/slabnest/internal/project"
	"github.com/piwi3910/slabnest/internal/server"
)

func runServe(ctx context.Context, opts docopt.Opts) error {
	cfg, profiles, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if addr := optString(opts, "--addr"); addr != "" {
		cfg.Addr = addr
	}
	return server.New(cfg, profiles).Run(ctx)
}

func runNest(ctx context.Context, opts docopt.Opts) error {
	cfg, profiles, err := loadConfig(opts)
	if err != nil {
		return err
	}
	sheet, err := sheetFromOpts(opts, cfg.DefaultSheet)
	if err != nil {
		return err
	}
	mode, err := modeFromOpts(opts, cfg.ExtractMode)
	if err != nil {
		return err
	}

	out := optString(opts, "--out")
	format, err := outputFormat(out)
	if err != nil {
		return err
	}

	drawings, err := drawingsFromOpts(opts)
	if err != nil {
		return err
	}

	report, err := pipeline.Run(ctx, drawings, sheet, pipeline.Options{Mode: mode})
	if err != nil {
		return err
	}
	printDiagnostics(report.Diagnostics)

	if err := writeOutput(out, format, report, sheet, cfg.Cut, profiles, opts); err != nil {
		return err
	}

	fmt.Printf("Placed %d of %d instances (%.1f%% of sheet) -> %s\n",
		report.Placed(), report.Requested, report.Result.Efficiency(sheet), out)
	return nil
}

func runCompare(ctx context.Context, opts docopt.Opts) error {
	cfg, _, err := loadConfig(opts)
	if err != nil {
		return err
	}
	sheet, err := sheetFromOpts(opts, cfg.DefaultSheet)
	if err != nil {
		return err
	}
	mode, err := modeFromOpts(opts, cfg.ExtractMode)
	if err != nil {
		return err
	}
	steps, err := parseSteps(optString(opts, "--steps"), sheet.RotationStep)
	if err != nil {
		return err
	}
	drawings, err := drawingsFromOpts(opts)
	if err != nil {
		return err
	}

	results, diags, err := pipeline.Compare(ctx, drawings, sheet, steps, pipeline.Options{Mode: mode})
	if err != nil {
		return err
	}
	printDiagnostics(diags)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tPLACED\tDROPPED\tEFFICIENCY\tUSED HEIGHT")
	for _, r := range results {
		fmt.Fprintf(tw, "%d\t%d/%d\t%d\t%.1f%%\t%.1f mm\n",
			r.RotationStep, r.Placed, r.Requested, r.Dropped, r.Efficiency, r.UsedHeight)
	}
	return tw.Flush()
}

// loadConfig reads the config file and the custom G-code profiles it names.
// A config without profiles_path uses the profiles file in ~/.slabnest.
func loadConfig(opts docopt.Opts) (model.ServerConfig, []model.GCodeProfile, error) {
	cfg, err := project.LoadServerConfig(configPath(opts))
	if err != nil {
		return model.ServerConfig{}, nil, err
	}
	if cfg.ProfilesPath == "" {
		cfg.ProfilesPath = project.DefaultProfilesPath()
	}
	profiles, err := project.LoadCustomProfiles(cfg.ProfilesPath)
	if err != nil {
		return model.ServerConfig{}, nil, err
	}
	return cfg, profiles, nil
}

func configPath(opts docopt.Opts) string {
	if path := optString(opts, "--config"); path != "" {
		return path
	}
	return project.DefaultConfigPath()
}

// runConfigInit writes a config holding the defaults, with the profiles
// file placed next to it.
func runConfigInit(opts docopt.Opts) error {
	path := configPath(opts)
	if opts["--force"] != true {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	cfg := model.DefaultServerConfig()
	cfg.ProfilesPath = filepath.Join(filepath.Dir(path), "profiles.json")
	if err := project.SaveServerConfig(path, cfg); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

// runProfileImport adds a profile to the custom profiles file, replacing
// any profile of the same name.
func runProfileImport(opts docopt.Opts) error {
	cfg, profiles, err := loadConfig(opts)
	if err != nil {
		return err
	}
	src := optString(opts, "<profile>")
	p, err := project.ImportProfile(src)
	if err != nil {
		return fmt.Errorf("import %s: %w", src, err)
	}
	profiles = mergeProfile(profiles, p)
	if err := project.SaveCustomProfiles(cfg.ProfilesPath, profiles); err != nil {
		return err
	}
	fmt.Printf("Imported profile %q into %s\n", p.Name, cfg.ProfilesPath)
	return nil
}

func mergeProfile(profiles []model.GCodeProfile, p model.GCodeProfile) []model.GCodeProfile {
	for i := range profiles {
		if profiles[i].Name == p.Name {
			profiles[i] = p
			return profiles
		}
	}
	return append(profiles, p)
}

func sheetFromOpts(opts docopt.Opts, def model.SheetSpec) (model.SheetSpec, error) {
	sheet := def
	var err error
	if sheet.Width, err = optFloat(opts, "--width", def.Width); err != nil {
		return model.SheetSpec{}, err
	}
	if sheet.Height, err = optFloat(opts, "--height", def.Height); err != nil {
		return model.SheetSpec{}, err
	}
	if sheet.Gap, err = optFloat(opts, "--gap", def.Gap); err != nil {
		return model.SheetSpec{}, err
	}
	if s := optString(opts, "--step"); s != "" {
		if sheet.RotationStep, err = strconv.Atoi(s); err != nil {
			return model.SheetSpec{}, fmt.Errorf("--step must be an integer, got %q", s)
		}
	}
	return sheet, sheet.Validate()
}

func modeFromOpts(opts docopt.Opts, def string) (string, error) {
	switch mode := optString(opts, "--mode"); mode {
	case "":
		return def, nil
	case model.ExtractStrict, model.ExtractExtended:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown --mode %q (want strict or extended)", mode)
	}
}

// drawingsFromOpts collects drawings from positional arguments or a manifest.
func drawingsFromOpts(opts docopt.Opts) ([]pipeline.Drawing, error) {
	if manifest := optString(opts, "--manifest"); manifest != "" {
		res, err := readManifest(manifest)
		if err != nil {
			return nil, err
		}
		for _, w := range res.Warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}
		if len(res.Errors) > 0 {
			return nil, fmt.Errorf("manifest %s: %s", manifest, strings.Join(res.Errors, "; "))
		}
		drawings := make([]pipeline.Drawing, 0, len(res.Entries))
		for _, e := range res.Entries {
			drawings = append(drawings, pipeline.Drawing{Path: e.Path, Name: e.Label, Quantity: e.Quantity})
		}
		return drawings, nil
	}

	args, _ := opts["<drawing>"].([]string)
	drawings := make([]pipeline.Drawing, 0, len(args))
	for _, arg := range args {
		d, err := parseDrawingArg(arg)
		if err != nil {
			return nil, err
		}
		drawings = append(drawings, d)
	}
	return drawings, nil
}

// stdin is where a "-" manifest is read from.
var stdin io.Reader = os.Stdin

func readManifest(manifest string) (importer.ManifestResult, error) {
	if manifest != "-" {
		return importer.ImportManifest(manifest), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return importer.ManifestResult{}, fmt.Errorf("read manifest from stdin: %w", err)
	}
	return importer.ImportManifestCSVFromReader(bytes.NewReader(data), importer.DetectCSVDelimiter(data)), nil
}

// parseDrawingArg splits path[:quantity]. A suffix that is not an integer
// belongs to the path, so Windows drive letters survive.
func parseDrawingArg(arg string) (pipeline.Drawing, error) {
	if i := strings.LastIndex(arg, ":"); i > 0 {
		if qty, err := strconv.Atoi(arg[i+1:]); err == nil {
			if qty < 0 {
				return pipeline.Drawing{}, fmt.Errorf("drawing %s: quantity must not be negative", arg[:i])
			}
			return pipeline.Drawing{Path: arg[:i], Quantity: qty}, nil
		}
	}
	return pipeline.Drawing{Path: arg, Quantity: 1}, nil
}

func parseSteps(list string, current int) ([]int, error) {
	if strings.TrimSpace(list) == "" {
		return engine.DefaultSteps(current), nil
	}
	var steps []int
	for _, field := range strings.Split(list, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		step, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("--steps: %q is not an integer", field)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// outputFormat maps the output file extension to a renderer name.
func outputFormat(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".dxf", ".svg", ".png", ".pdf":
		return ext[1:], nil
	case ".gcode", ".nc", ".ngc", ".tap":
		return "gcode", nil
	default:
		return "", fmt.Errorf("cannot infer output format from %q", path)
	}
}

func writeOutput(path, format string, report pipeline.Report, sheet model.SheetSpec,
	cut model.CutSettings, profiles []model.GCodeProfile, opts docopt.Opts) error {
	if format == "dxf" {
		return export.ExportDXF(path, report.Result)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	switch format {
	case "svg":
		err = export.WriteSVG(f, report.Result, sheet)
	case "png":
		scale, serr := optFloat(opts, "--scale", 1)
		if serr != nil {
			return serr
		}
		err = export.PreviewPNG(f, report.Result, sheet, scale)
	case "pdf":
		err = export.WritePDF(f, report.Result, sheet, export.ReportInfo{
			Title:     filepath.Base(path),
			Requested: report.Requested,
			Skipped:   report.SkippedEntities(),
		})
	case "gcode":
		if p := optString(opts, "--profile"); p != "" {
			cut.GCodeProfile = p
		}
		code := gcode.New(cut, profiles...).GenerateLayout(report.Result, sheet)
		if _, err = f.WriteString(code); err == nil {
			fmt.Println(toolpathSummary(gcode.Measure(code)))
		}
	}
	if err != nil {
		return err
	}
	return f.Close()
}

func toolpathSummary(s gcode.Stats) string {
	return fmt.Sprintf("Toolpath: %.1f mm cut in %d plunges, about %.1f min at feed", s.CutLength, s.Plunges, s.CutTime)
}

func printDiagnostics(diags []pipeline.Diagnostic) {
	for _, d := range diags {
		for _, s := range d.Skipped {
			fmt.Fprintf(os.Stderr, "%s: skipped entity %d (%s): %s\n", d.Drawing, s.Index, s.Type, s.Reason)
		}
	}
}

func optString(opts docopt.Opts, key string) string {
	s, _ := opts[key].(string)
	return s
}

func optFloat(opts docopt.Opts, key string, def float64) (float64, error) {
	s := optString(opts, key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, s)
	}
	return v, nil
}
