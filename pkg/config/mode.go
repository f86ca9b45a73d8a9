package config

// Mode switches between a debuggable development build and an optimised production build.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

func (m Mode) Valid() bool {
	return m == ModeDevelopment || m == ModeProduction
}

// SourceMaps reports whether style and script stages emit linked source maps.
func (m Mode) SourceMaps() bool {
	return m != ModeProduction
}

// Minify reports whether outputs are minified and images recompressed.
func (m Mode) Minify() bool {
	return m == ModeProduction
}
