package symbolize

import "github.com/vietanhduong/symbolize/pkg/syms"

type options struct {
	symbolOpts *syms.SymbolOptions
	cacheSize  uint32
}

// Option configures a Symbolizer.
type Option func(*options)

// WithDemangleType selects how mangled symbol names are rendered.
func WithDemangleType(dt syms.DemangleType) Option {
	return func(o *options) { o.symbolOpts.DemangleType = dt }
}

// WithDebugFile makes ELF backed resolvers prefer separate debug files
// located via build-id or .gnu_debuglink.
func WithDebugFile(enabled bool) Option {
	return func(o *options) { o.symbolOpts.UseDebugFile = enabled }
}

// WithCacheSize bounds how many constructed resolvers are kept across
// Symbolize calls.
func WithCacheSize(size uint32) Option {
	return func(o *options) {
		if size > 0 {
			o.cacheSize = size
		}
	}
}

func defaultOptions() *options {
	return &options{
		symbolOpts: syms.DefaultSymbolOptions(),
		cacheSize:  64,
	}
}
