package model

// Extraction modes for DXF drawings.
const (
	ExtractStrict   = "strict"   // LWPOLYLINE outlines only
	ExtractExtended = "extended" // also circles, bulges and chained LINE/ARC loops
)

// ServerConfig holds service-wide settings and the defaults applied to
// requests that omit a parameter.
type ServerConfig struct {
	Addr           string   `json:"addr" yaml:"addr"`
	MaxUploadMB    int      `json:"max_upload_mb" yaml:"max_upload_mb"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
	WorkDir        string   `json:"work_dir" yaml:"work_dir"` // Parent of per-request temp dirs; empty = os.TempDir()
	ExtractMode    string   `json:"extract_mode" yaml:"extract_mode"`
	ProfilesPath   string   `json:"profiles_path" yaml:"profiles_path"` // Custom GCode profiles JSON; empty = built-ins only

	DefaultSheet SheetSpec   `json:"default_sheet" yaml:"default_sheet"`
	Cut          CutSettings `json:"cut" yaml:"cut"`
}

// DefaultServerConfig returns a ServerConfig populated with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:           ":8080",
		MaxUploadMB:    32,
		AllowedOrigins: []string{"*"},
		ExtractMode:    ExtractStrict,
		DefaultSheet: SheetSpec{
			Width:        2440,
			Height:       1220,
			Gap:          5,
			RotationStep: 90,
		},
		Cut: DefaultSettings(),
	}
}

// ApplyDefaults fills zero-valued fields from DefaultServerConfig so that a
// partial config file still yields a usable configuration.
func (c *ServerConfig) ApplyDefaults() {
	d := DefaultServerConfig()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.MaxUploadMB <= 0 {
		c.MaxUploadMB = d.MaxUploadMB
	}
	if c.AllowedOrigins == nil {
		c.AllowedOrigins = d.AllowedOrigins
	}
	if c.ExtractMode == "" {
		c.ExtractMode = d.ExtractMode
	}
	if c.DefaultSheet == (SheetSpec{}) {
		c.DefaultSheet = d.DefaultSheet
	}
	if c.Cut == (CutSettings{}) {
		c.Cut = d.Cut
		return
	}
	c.Cut.applyDefaults(d.Cut)
}

// applyDefaults fills zero numeric fields and an empty profile name from d.
// The booleans cannot be told apart from unset and are kept as given.
func (s *CutSettings) applyDefaults(d CutSettings) {
	fill := func(v *float64, def float64) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&s.ToolDiameter, d.ToolDiameter)
	fill(&s.FeedRate, d.FeedRate)
	fill(&s.PlungeRate, d.PlungeRate)
	fill(&s.SafeZ, d.SafeZ)
	fill(&s.CutDepth, d.CutDepth)
	fill(&s.PassDepth, d.PassDepth)
	if s.SpindleSpeed <= 0 {
		s.SpindleSpeed = d.SpindleSpeed
	}
	if s.GCodeProfile == "" {
		s.GCodeProfile = d.GCodeProfile
	}
}
