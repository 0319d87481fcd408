// Package symbolize turns raw addresses captured at runtime into symbol
// names and source locations, resolving them against a caller described
// source: an ELF file, the kernel, a live process or a Gsym index.
package symbolize

import (
	"fmt"

	lru "github.com/elastic/go-freelru"
	"github.com/golang/glog"
	"github.com/samber/lo"
	"github.com/zeebo/xxh3"

	"github.com/vietanhduong/symbolize/pkg/syms"
	"github.com/vietanhduong/symbolize/pkg/syms/elf"
	"github.com/vietanhduong/symbolize/pkg/syms/gsym"
	"github.com/vietanhduong/symbolize/pkg/syms/ksym"
	"github.com/vietanhduong/symbolize/pkg/syms/process"
)

// SymbolizedResult is one symbol match for one queried address.
type SymbolizedResult struct {
	// Symbol is the name of the matched symbol.
	Symbol string
	// Addr is the start address of the matched symbol. It may differ from
	// the queried address when the match is range based.
	Addr uint64
	// Offset of the queried address from Addr.
	Offset uint64
	// Module is the path of the file the symbol came from, if known.
	Module string
	// Path, Line and Column locate the source line of the queried
	// address. They are zero values when the source carries no line level
	// debug information.
	Path   string
	Line   int
	Column int
}

// Symbolizer resolves batches of addresses against a Source. Resolver
// construction is the only phase doing I/O; constructed resolvers are
// cached per source identity and shared across calls, so a Symbolizer is
// safe for concurrent use.
type Symbolizer struct {
	opts  *options
	cache *lru.SyncedLRU[string, syms.Resolver]
}

// xxh3 turned out to be the fastest hash function for strings in the
// FreeLRU benchmarks.
func hashString(s string) uint32 {
	return uint32(xxh3.HashString(s))
}

func New(opts ...Option) (*Symbolizer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	cache, err := lru.NewSynced[string, syms.Resolver](o.cacheSize, hashString)
	if err != nil {
		return nil, fmt.Errorf("create resolver cache: %w", err)
	}
	return &Symbolizer{opts: o, cache: cache}, nil
}

// Symbolize resolves each address in addrs against src. The result
// always has exactly one inner slice per input address, in input order;
// an empty inner slice means no match. One address may map to several
// results when symbols overlap. Any resolver error aborts the whole call
// with no partial results.
func (s *Symbolizer) Symbolize(src Source, addrs []uint64) ([][]SymbolizedResult, error) {
	resolver, err := s.resolver(src)
	if err != nil {
		return nil, err
	}

	out := make([][]SymbolizedResult, len(addrs))
	for i, addr := range addrs {
		matches, err := resolver.FindSyms(addr)
		if err != nil {
			return nil, fmt.Errorf("find symbols for 0x%x: %w", addr, err)
		}
		if len(matches) == 0 {
			continue
		}

		info, err := resolver.FindLineInfo(addr)
		if err != nil {
			return nil, fmt.Errorf("find line info for 0x%x: %w", addr, err)
		}

		out[i] = lo.Map(matches, func(m syms.Sym, _ int) SymbolizedResult {
			ret := SymbolizedResult{
				Symbol: m.Name,
				Addr:   m.Addr,
				Module: m.Module,
			}
			if addr >= m.Addr {
				ret.Offset = addr - m.Addr
			}
			if info != nil {
				ret.Path = info.Path
				ret.Line = info.Line
				ret.Column = info.Column
			}
			return ret
		})
	}
	return out, nil
}

// Invalidate drops the cached resolver of src, forcing reconstruction on
// the next Symbolize call against it.
func (s *Symbolizer) Invalidate(src Source) {
	if key := src.cacheKey(); key != "" {
		s.cache.Remove(key)
	}
}

func (s *Symbolizer) resolver(src Source) (syms.Resolver, error) {
	key := src.cacheKey()
	if key != "" {
		if r, ok := s.cache.Get(key); ok {
			return r, nil
		}
	}
	r, err := s.buildResolver(src)
	if err != nil {
		return nil, err
	}
	if key != "" {
		s.cache.Add(key, r)
	}
	return r, nil
}

// buildResolver maps a Source onto its resolver. The taxonomy is closed;
// an unknown dynamic type is a hard error.
func (s *Symbolizer) buildResolver(src Source) (syms.Resolver, error) {
	switch v := src.(type) {
	case Elf:
		if v.Path == "" {
			return nil, fmt.Errorf("elf source: path must not be empty")
		}
		return elf.NewResolver(v.Path, &elf.SymbolOptions{
			DemangleOpts: s.opts.symbolOpts.DemangleType.ToOptions(),
		})
	case Kernel:
		return s.buildKernelResolver(v)
	case Process:
		if v.PID < 0 {
			return nil, fmt.Errorf("process source: invalid pid %d", v.PID)
		}
		return process.NewResolver(v.PID, s.opts.symbolOpts)
	case GsymData:
		if len(v.Data) == 0 {
			return nil, fmt.Errorf("gsym source: data must not be empty")
		}
		return gsym.DataResolver(v.Data)
	case GsymFile:
		if v.Path == "" {
			return nil, fmt.Errorf("gsym source: path must not be empty")
		}
		return gsym.OpenResolver(v.Path)
	default:
		return nil, fmt.Errorf("unrecognized symbol source type %T", src)
	}
}

// buildKernelResolver builds the kernel composite. Either child may
// legitimately come up absent; only both missing is an error, enforced by
// NewKernelResolver.
func (s *Symbolizer) buildKernelResolver(src Kernel) (syms.Resolver, error) {
	var table, image syms.Resolver

	if ks, err := ksym.New(src.KallsymsPath); err == nil {
		table = ks
	} else {
		glog.Warningf("Failed to load kernel symbol table: %v", err)
	}

	imagePath := src.KernelImagePath
	if imagePath == "" {
		imagePath = findKernelImage()
	}
	if imagePath != "" {
		if r, err := elf.NewResolver(imagePath, &elf.SymbolOptions{}); err == nil {
			image = r
		} else {
			glog.Warningf("Failed to load kernel image %s: %v", imagePath, err)
		}
	}

	return syms.NewKernelResolver(table, image)
}
