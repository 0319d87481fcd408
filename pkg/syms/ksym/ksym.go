// Package ksym resolves kernel addresses against a flat kernel symbol
// table in /proc/kallsyms format. The table carries names only; line
// level queries always report no data.
package ksym

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/vietanhduong/symbolize/pkg/syms"
)

// DefaultPath is the kallsyms location of the running kernel.
const DefaultPath = "/proc/kallsyms"

// ErrSymbolPermissions signals that the table was readable but every
// address was zero, which the kernel does when the reader lacks
// CAP_SYSLOG (kptr_restrict).
var ErrSymbolPermissions = errors.New("unable to read kallsyms addresses - check capabilities")

type entry struct {
	addr   uint64
	name   string
	module string
}

// Resolver is a flat address to name symbol table. It is immutable after
// construction and safe for concurrent queries.
type Resolver struct {
	path    string
	entries []entry // sorted by addr
}

// New parses the kallsyms formatted file at path. An empty path means
// DefaultPath.
func New(path string) (*Resolver, error) {
	if path == "" {
		path = DefaultPath
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open kallsyms %s: %w", path, err)
	}
	defer f.Close()
	return NewFromReader(path, f)
}

// NewFromReader parses kallsyms formatted data from r. The path is kept
// for diagnostics only.
func NewFromReader(path string, r io.Reader) (*Resolver, error) {
	entries, err := parse(r)
	if err != nil {
		return nil, err
	}
	glog.V(2).Infof("Loaded %d kernel symbols from %s", len(entries), path)
	return &Resolver{path: path, entries: entries}, nil
}

func parse(r io.Reader) ([]entry, error) {
	var entries []entry
	noSymbols := true
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, fmt.Errorf("unexpected line in kallsyms: '%s'", line)
		}

		// Skip non-text symbols, see 'man nm'.
		if strings.IndexByte("TtVvWw", fields[1][0]) == -1 {
			continue
		}

		addr, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse address value: '%s'", fields[0])
		}
		if addr != 0 {
			noSymbols = false
		}

		var module string
		if len(fields) >= 4 && strings.HasPrefix(fields[3], "[") && strings.HasSuffix(fields[3], "]") {
			module = fields[3][1 : len(fields[3])-1]
		}
		entries = append(entries, entry{addr: addr, name: fields[2], module: module})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read kallsyms: %w", err)
	}
	if len(entries) == 0 || noSymbols {
		return nil, ErrSymbolPermissions
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].addr < entries[j].addr })
	return entries, nil
}

// FindSyms returns the nearest symbol at or below addr. Addresses below
// the first known symbol produce no match.
func (r *Resolver) FindSyms(addr uint64) ([]syms.Sym, error) {
	i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].addr > addr })
	if i == 0 {
		return nil, nil
	}
	e := &r.entries[i-1]
	return []syms.Sym{{Name: e.name, Addr: e.addr, Module: e.module}}, nil
}

// FindAddr scans the table for symbols with the exact given name.
// Kallsyms may legitimately contain duplicate names; all matches are
// returned.
func (r *Resolver) FindAddr(name string, _ *syms.FindAddrOpts) ([]syms.SymInfo, error) {
	var ret []syms.SymInfo
	for i := range r.entries {
		if e := &r.entries[i]; e.name == name {
			ret = append(ret, syms.SymInfo{Name: e.name, Addr: e.addr, Module: e.module})
		}
	}
	return ret, nil
}

// FindLineInfo always reports no data: a flat symbol table structurally
// cannot answer line level queries.
func (r *Resolver) FindLineInfo(uint64) (*syms.AddrLineInfo, error) { return nil, nil }

func (r *Resolver) AddrFileOff(uint64) (uint64, bool) { return 0, false }

func (r *Resolver) FileName() string { return r.path }

// Size reports the number of loaded symbols.
func (r *Resolver) Size() int { return len(r.entries) }
