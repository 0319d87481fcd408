package syms

import (
	"errors"

	"github.com/ianlancetaylor/demangle"
)

// ErrNoSource is returned when a resolver is constructed without any
// backing symbol source.
var ErrNoSource = errors.New("no symbol source configured")

// Sym is a single symbol match for an address query.
type Sym struct {
	// Name is the symbol name, demangled when demangling is enabled.
	Name string
	// Addr is the start address of the matched symbol. It may differ from
	// the queried address when the match is range based.
	Addr uint64
	// Module is the path of the file the symbol was found in, if known.
	Module string
}

// SymInfo describes the location of a symbol found by a reverse
// (name to address) lookup.
type SymInfo struct {
	Name    string
	Addr    uint64
	Size    uint64
	FileOff uint64
	Module  string
}

// FindAddrOpts controls reverse lookups.
type FindAddrOpts struct {
	// OffsetInFile requests the file offset of each returned symbol in
	// addition to its address.
	OffsetInFile bool
}

// AddrLineInfo is the source line information of an address.
type AddrLineInfo struct {
	// Path of the source file defining the address.
	Path string
	// Line is 1-based.
	Line int
	// Column is 0 when unknown.
	Column int
}

// Resolver is the contract every symbol source backend satisfies.
//
// "Not found" is never an error: FindSyms and FindAddr report it as an
// empty slice, FindLineInfo as a nil result and AddrFileOff as ok=false.
// The error returns are reserved for I/O failures and malformed backing
// data.
type Resolver interface {
	// FindSyms returns every known symbol whose range covers addr, or the
	// nearest symbol at or below addr for backends that only track start
	// addresses.
	FindSyms(addr uint64) ([]Sym, error)
	// FindAddr is the reverse lookup. Backends that only support forward
	// lookup return an empty slice.
	FindAddr(name string, opts *FindAddrOpts) ([]SymInfo, error)
	// FindLineInfo returns the source line information of addr, or nil
	// when the backend carries no line level debug data.
	FindLineInfo(addr uint64) (*AddrLineInfo, error)
	// AddrFileOff translates addr to an offset in the backing file.
	// ok is false for backends without a stable file offset notion.
	AddrFileOff(addr uint64) (off uint64, ok bool)
	// FileName reports the path of the backing file for diagnostics, or
	// an empty string when there is none.
	FileName() string
}

type DemangleType string

const (
	DemangleNone       DemangleType = "NONE"
	DemangleSimplified DemangleType = "SIMPLIFIED"
	DemangleTemplates  DemangleType = "TEMPLATES"
	DemangleFull       DemangleType = "FULL"
)

func (dt DemangleType) ToOptions() []demangle.Option {
	switch dt {
	case DemangleNone:
		return nil
	case DemangleSimplified:
		return []demangle.Option{demangle.NoParams, demangle.NoEnclosingParams, demangle.NoTemplateParams}
	case DemangleTemplates:
		return []demangle.Option{demangle.NoParams, demangle.NoEnclosingParams}
	default:
		return []demangle.Option{demangle.NoClones}
	}
}

// SymbolOptions tunes how backends extract and render symbols.
type SymbolOptions struct {
	DemangleType DemangleType
	UseDebugFile bool
}

var defaultSymbolOpts = &SymbolOptions{
	DemangleType: DemangleFull,
	UseDebugFile: false,
}

// DefaultSymbolOptions returns a copy of the options applied when the
// caller passes nil options.
func DefaultSymbolOptions() *SymbolOptions {
	opts := *defaultSymbolOpts
	return &opts
}
