package elf

import (
	"debug/dwarf"
	delf "debug/elf"
	"fmt"
	"os"
	"sync"

	"github.com/golang/glog"
	"github.com/vietanhduong/symbolize/pkg/syms"
)

// Resolver answers symbol, line and file offset queries against a single
// ELF executable or shared object. It is read-only after construction and
// safe for concurrent queries.
type Resolver struct {
	file    *File
	table   Table
	symtab  *SymbolTable
	gotable *GoTable

	dwOnce sync.Once
	dw     *dwarf.Data
	dwErr  error
}

// NewResolver opens the ELF at path and builds its symbol index. The
// pclntab of Go binaries is preferred, falling back to symtab/dynsym for
// everything else.
func NewResolver(path string, opts *SymbolOptions) (*Resolver, error) {
	file, err := Open(path)
	if err != nil {
		return nil, err
	}

	r := &Resolver{file: file, table: emptyTable{}}
	r.symtab, err = file.NewSymbolTable(opts)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("new symbol table: %w", err)
	}
	if r.symtab != nil {
		r.table = r.symtab
	}

	if gt, err := file.NewGoTable(r.table); err == nil {
		r.gotable = gt
		r.table = gt
	} else {
		glog.V(3).Infof("No Go symbol table in %s: %v", path, err)
	}
	return r, nil
}

func (r *Resolver) FindSyms(addr uint64) ([]syms.Sym, error) {
	name, start, ok := r.table.Lookup(addr)
	if !ok || name == "" {
		return nil, nil
	}
	return []syms.Sym{{Name: name, Addr: start, Module: r.file.FilePath()}}, nil
}

func (r *Resolver) FindAddr(name string, opts *syms.FindAddrOpts) ([]syms.SymInfo, error) {
	if r.symtab == nil {
		return nil, nil
	}
	var ret []syms.SymInfo
	for _, addr := range r.symtab.LookupName(name) {
		info := syms.SymInfo{Name: name, Addr: addr, Module: r.file.FilePath()}
		if opts != nil && opts.OffsetInFile {
			info.FileOff, _ = r.AddrFileOff(addr)
		}
		ret = append(ret, info)
	}
	return ret, nil
}

// FindLineInfo consults DWARF line programs first and the Go pclntab as a
// fallback for binaries built without debug info.
func (r *Resolver) FindLineInfo(addr uint64) (*syms.AddrLineInfo, error) {
	d, err := r.dwarf()
	if err != nil {
		return nil, err
	}
	if d != nil {
		info, err := lineInfoFromDWARF(d, addr)
		if err != nil || info != nil {
			return info, err
		}
	}
	if r.gotable != nil {
		if file, line, ok := r.gotable.LineInfo(addr); ok && file != "" {
			return &syms.AddrLineInfo{Path: file, Line: line}, nil
		}
	}
	return nil, nil
}

// AddrFileOff maps a virtual address to its offset in the backing file
// through the PT_LOAD program headers.
func (r *Resolver) AddrFileOff(addr uint64) (uint64, bool) {
	for i := range r.file.Progs {
		p := &r.file.Progs[i]
		if p.Type != delf.PT_LOAD {
			continue
		}
		if addr >= p.Vaddr && addr < p.Vaddr+p.Filesz {
			return addr - p.Vaddr + p.Off, true
		}
	}
	return 0, false
}

func (r *Resolver) FileName() string { return r.file.FilePath() }

// File exposes the underlying ELF for base address computation.
func (r *Resolver) File() *File { return r.file }

func (r *Resolver) IsDead() bool { return r.file.IsDead() }

func (r *Resolver) Cleanup() { r.table.Cleanup() }

// dwarf loads the debug sections once. A binary without debug info is
// normal and yields (nil, nil); only real read failures are errors.
func (r *Resolver) dwarf() (*dwarf.Data, error) {
	r.dwOnce.Do(func() {
		f, err := os.Open(r.file.FilePath())
		if err != nil {
			r.dwErr = fmt.Errorf("open %s: %w", r.file.FilePath(), err)
			return
		}
		defer f.Close()
		ef, err := delf.NewFile(f)
		if err != nil {
			r.dwErr = fmt.Errorf("elf new file %s: %w", r.file.FilePath(), err)
			return
		}
		d, err := ef.DWARF()
		if err != nil {
			glog.V(3).Infof("No DWARF data in %s: %v", r.file.FilePath(), err)
			return
		}
		r.dw = d
	})
	return r.dw, r.dwErr
}

func lineInfoFromDWARF(d *dwarf.Data, addr uint64) (*syms.AddrLineInfo, error) {
	reader := d.Reader()
	cu, err := reader.SeekPC(addr)
	if err != nil {
		// No compilation unit covers addr.
		return nil, nil
	}
	lr, err := d.LineReader(cu)
	if err != nil || lr == nil {
		return nil, nil
	}
	var entry dwarf.LineEntry
	if err := lr.SeekPC(addr, &entry); err != nil {
		return nil, nil
	}
	if entry.File == nil {
		return nil, nil
	}
	return &syms.AddrLineInfo{
		Path:   entry.File.Name,
		Line:   entry.Line,
		Column: entry.Column,
	}, nil
}
