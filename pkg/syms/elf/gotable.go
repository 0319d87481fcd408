package elf

import (
	"debug/gosym"
	"fmt"
)

// GoTable resolves symbols of Go binaries through the runtime pclntab,
// which survives stripping. A fallback table (usually the regular symtab)
// answers for addresses outside the pclntab, e.g. cgo code.
type GoTable struct {
	table    *gosym.Table
	file     *File
	fallback Table
}

// NewGoTable builds a pclntab index over f. It fails when the file has no
// .gopclntab section; callers then stay on the fallback table alone.
func (f *File) NewGoTable(fallback Table) (*GoTable, error) {
	pclntab, err := f.GetSectionData(".gopclntab")
	if err != nil {
		return nil, fmt.Errorf("get section .gopclntab: %w", err)
	}
	if pclntab == nil {
		return nil, fmt.Errorf("no .gopclntab section")
	}
	text := f.FindSection(".text")
	if text == nil {
		return nil, fmt.Errorf("no .text section")
	}

	lt := gosym.NewLineTable(pclntab.Data, text.Addr)
	table, err := gosym.NewTable(nil, lt)
	if err != nil {
		return nil, fmt.Errorf("parse pclntab: %w", err)
	}
	if fallback == nil {
		fallback = emptyTable{}
	}
	return &GoTable{table: table, file: f, fallback: fallback}, nil
}

func (g *GoTable) Lookup(addr uint64) (string, uint64, bool) {
	if fn := g.table.PCToFunc(addr); fn != nil {
		return fn.Name, fn.Entry, true
	}
	return g.fallback.Lookup(addr)
}

// LineInfo maps addr to its defining file and line via the pclntab.
func (g *GoTable) LineInfo(addr uint64) (file string, line int, ok bool) {
	var fn *gosym.Func
	file, line, fn = g.table.PCToLine(addr)
	return file, line, fn != nil
}

func (g *GoTable) IsDead() bool { return g.file.IsDead() }

func (g *GoTable) Cleanup() {
	g.file.Close()
	g.fallback.Cleanup()
}
