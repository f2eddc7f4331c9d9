package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/docopt/docopt-go"
	"github.com/piwi3910/slabnest/internal/gcode"
	"github.com/piwi3910/slabnest/internal/project"
	"github.com/yofu/dxf"
)

func TestParseDrawingArg(t *testing.T) {
	tests := []struct {
		arg  string
		path string
		qty  int
	}{
		{"bracket.dxf", "bracket.dxf", 1},
		{"bracket.dxf:4", "bracket.dxf", 4},
		{"parts/plate.dxf:0", "parts/plate.dxf", 0},
		{`C:\jobs\plate.dxf`, `C:\jobs\plate.dxf`, 1},
		{`C:\jobs\plate.dxf:3`, `C:\jobs\plate.dxf`, 3},
	}
	for _, tt := range tests {
		d, err := parseDrawingArg(tt.arg)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tt.arg, err)
		}
		if d.Path != tt.path || d.Quantity != tt.qty {
			t.Errorf("%s: got %s x%d, want %s x%d", tt.arg, d.Path, d.Quantity, tt.path, tt.qty)
		}
	}

	if _, err := parseDrawingArg("bracket.dxf:-1"); err == nil {
		t.Error("expected error for negative quantity")
	}
}

func TestParseSteps(t *testing.T) {
	steps, err := parseSteps("90, 45,15", 90)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(steps, []int{90, 45, 15}) {
		t.Errorf("unexpected steps %v", steps)
	}

	steps, err = parseSteps("", 30)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(steps, []int{30, 90, 45, 15}) {
		t.Errorf("expected default steps, got %v", steps)
	}

	if _, err := parseSteps("90,abc", 90); err == nil {
		t.Error("expected error for non-integer step")
	}
}

func TestOutputFormat(t *testing.T) {
	for path, want := range map[string]string{
		"out.dxf":        "dxf",
		"out.SVG":        "svg",
		"preview.png":    "png",
		"report.pdf":     "pdf",
		"job.gcode":      "gcode",
		"job.nc":         "gcode",
		"dir/layout.ngc": "gcode",
	} {
		got, err := outputFormat(path)
		if err != nil || got != want {
			t.Errorf("%s: got %q, %v; want %q", path, got, err, want)
		}
	}
	if _, err := outputFormat("layout.txt"); err == nil {
		t.Error("expected error for unknown extension")
	}
}

func TestUsageParses(t *testing.T) {
	opts, err := docopt.ParseArgs(usage, []string{"nest", "--out=layout.svg", "--width=300", "a.dxf:2", "b.dxf"}, version)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if opts["nest"] != true {
		t.Error("expected nest command")
	}
	if got := optString(opts, "--out"); got != "layout.svg" {
		t.Errorf("expected --out layout.svg, got %q", got)
	}
	if got, _ := opts["<drawing>"].([]string); !reflect.DeepEqual(got, []string{"a.dxf:2", "b.dxf"}) {
		t.Errorf("unexpected drawings %v", got)
	}

	opts, err = docopt.ParseArgs(usage, []string{"compare", "--steps=90,45", "a.dxf"}, version)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if opts["compare"] != true || optString(opts, "--steps") != "90,45" {
		t.Errorf("unexpected compare options %v", opts)
	}

	opts, err = docopt.ParseArgs(usage, []string{"config", "init", "--force"}, version)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if opts["config"] != true || opts["init"] != true || opts["--force"] != true {
		t.Errorf("unexpected config options %v", opts)
	}

	opts, err = docopt.ParseArgs(usage, []string{"profile", "import", "mill.json"}, version)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if opts["profile"] != true || optString(opts, "<profile>") != "mill.json" {
		t.Errorf("unexpected profile options %v", opts)
	}
}

func TestRunNest_WritesSVG(t *testing.T) {
	dir := t.TempDir()
	d := dxf.NewDrawing()
	if _, err := d.LwPolyline(true, []float64{0, 0}, []float64{10, 0}, []float64{10, 10}, []float64{0, 10}); err != nil {
		t.Fatal(err)
	}
	drawing := filepath.Join(dir, "square.dxf")
	if err := d.SaveAs(drawing); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "layout.svg")

	opts := docopt.Opts{
		"nest":       true,
		"--config":   filepath.Join(dir, "missing.json"),
		"--out":      out,
		"--width":    "50",
		"--height":   "50",
		"--gap":      "2",
		"--step":     "90",
		"--scale":    "1",
		"<drawing>":  []string{drawing + ":3"},
		"--manifest": nil,
	}
	if err := runNest(context.Background(), opts); err != nil {
		t.Fatalf("runNest failed: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "<polygon"); n != 3 {
		t.Errorf("expected 3 polygons, got %d", n)
	}
}

func TestRunNest_InvalidSheet(t *testing.T) {
	dir := t.TempDir()
	opts := docopt.Opts{
		"--config":  filepath.Join(dir, "missing.json"),
		"--out":     filepath.Join(dir, "layout.dxf"),
		"--width":   "-5",
		"<drawing>": []string{"unused.dxf"},
	}
	if err := runNest(context.Background(), opts); err == nil {
		t.Error("expected error for negative width")
	}
}

func TestRunConfigInit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	opts := docopt.Opts{"--config": path, "--force": false}

	if err := runConfigInit(opts); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	cfg, err := project.LoadServerConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ProfilesPath != filepath.Join(dir, "profiles.json") {
		t.Errorf("expected profiles next to the config, got %q", cfg.ProfilesPath)
	}

	if err := runConfigInit(opts); err == nil || !strings.Contains(err.Error(), "--force") {
		t.Errorf("expected refusal to overwrite, got %v", err)
	}
	opts["--force"] = true
	if err := runConfigInit(opts); err != nil {
		t.Errorf("--force should overwrite: %v", err)
	}
}

func TestRunProfileImport(t *testing.T) {
	dir := t.TempDir()
	profilesPath := filepath.Join(dir, "profiles.json")
	pp, _ := json.Marshal(profilesPath)
	configPath := filepath.Join(dir, "config.json")
	if err := os.WriteFile(configPath, []byte(`{"profiles_path": `+string(pp)+`}`), 0644); err != nil {
		t.Fatal(err)
	}

	writeProfile := func(name, rapid string) string {
		path := filepath.Join(dir, name+".json")
		data := `{"name": "` + name + `", "rapid_move": "` + rapid + `", "feed_move": "G1", "decimal_places": 2}`
		if err := os.WriteFile(path, []byte(data), 0644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	for _, src := range []string{writeProfile("Mill", "G0"), writeProfile("Router", "G0"), writeProfile("Mill", "G00")} {
		if err := runProfileImport(docopt.Opts{"--config": configPath, "<profile>": src}); err != nil {
			t.Fatalf("import %s: %v", src, err)
		}
	}

	profiles, err := project.LoadCustomProfiles(profilesPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	if profiles[0].Name != "Mill" || profiles[0].RapidMove != "G00" {
		t.Errorf("re-import should replace Mill in place, got %+v", profiles[0])
	}

	if err := runProfileImport(docopt.Opts{"--config": configPath, "<profile>": filepath.Join(dir, "missing.json")}); err == nil {
		t.Error("expected error for missing profile file")
	}
}

func TestLoadConfig_DefaultProfilesPath(t *testing.T) {
	cfg, _, err := loadConfig(docopt.Opts{"--config": filepath.Join(t.TempDir(), "missing.json")})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ProfilesPath != project.DefaultProfilesPath() {
		t.Errorf("expected default profiles path, got %q", cfg.ProfilesPath)
	}
}

func TestDrawingsFromOpts_StdinManifest(t *testing.T) {
	saved := stdin
	defer func() { stdin = saved }()
	stdin = strings.NewReader("File;Qty;Name\nparts/a.dxf;2;Bracket\nb.dxf;1;\n")

	drawings, err := drawingsFromOpts(docopt.Opts{"--manifest": "-"})
	if err != nil {
		t.Fatal(err)
	}
	if len(drawings) != 2 {
		t.Fatalf("expected 2 drawings, got %d", len(drawings))
	}
	if d := drawings[0]; d.Path != "parts/a.dxf" || d.Quantity != 2 || d.Name != "Bracket" {
		t.Errorf("unexpected first drawing %+v", d)
	}

	stdin = strings.NewReader("File;Qty\nbad.dxf;two\n")
	if _, err := drawingsFromOpts(docopt.Opts{"--manifest": "-"}); err == nil {
		t.Error("expected error for invalid quantity")
	}
}

func TestToolpathSummary(t *testing.T) {
	got := toolpathSummary(gcode.Stats{CutLength: 448, Plunges: 2, CutTime: 0.4847})
	if got != "Toolpath: 448.0 mm cut in 2 plunges, about 0.5 min at feed" {
		t.Errorf("unexpected summary %q", got)
	}
}
