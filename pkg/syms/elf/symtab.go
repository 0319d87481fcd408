package elf

import (
	"debug/elf"
	"fmt"
	"sort"
	"unsafe"

	"github.com/ianlancetaylor/demangle"
)

type SymbolOptions struct {
	DemangleOpts         []demangle.Option
	IgnoreFrom, IgnoreTo uint64
}

// SymbolTable is the merged, sorted function symbol index of an ELF file,
// built from both .symtab and .dynsym.
type SymbolTable struct {
	Index struct {
		Links  []elf.SectionHeader
		Names  []Name
		Values []uint64 // sorted, parallel to Names
	}
	File *File

	opts []demangle.Option
}

// NewSymbolTable extracts the function symbols of f. A nil table with a
// nil error means the file simply has no symbols.
func (f *File) NewSymbolTable(opts *SymbolOptions) (*SymbolTable, error) {
	if opts == nil {
		opts = &SymbolOptions{}
	}
	sym, err := f.getSymbols(elf.SHT_SYMTAB, opts)
	if err != nil {
		return nil, fmt.Errorf("get symbol section %s: %w", elf.SHT_SYMTAB.String(), err)
	}

	dynsym, err := f.getSymbols(elf.SHT_DYNSYM, opts)
	if err != nil {
		return nil, fmt.Errorf("get symbol section %s: %w", elf.SHT_DYNSYM.String(), err)
	}

	total := len(dynsym.symbols) + len(sym.symbols)
	if total == 0 {
		return nil, nil
	}

	all := make([]SymbolIndex, 0, total)
	all = append(all, sym.symbols...)
	all = append(all, dynsym.symbols...)

	sort.Slice(all, func(i, j int) bool {
		if all[i].Value == all[j].Value {
			return all[i].Name < all[j].Name
		}
		return all[i].Value < all[j].Value
	})

	ret := &SymbolTable{
		File: f,
		opts: opts.DemangleOpts,
	}

	ret.Index.Links = []elf.SectionHeader{
		linkHeader(f, sym),
		linkHeader(f, dynsym),
	}
	ret.Index.Names = make([]Name, total)
	ret.Index.Values = make([]uint64, total)
	for i := range all {
		ret.Index.Names[i] = all[i].Name
		ret.Index.Values[i] = all[i].Value
	}
	return ret, nil
}

func linkHeader(f *File, ss *sectionSymbols) elf.SectionHeader {
	if ss.data == nil || int(ss.data.Header.Link) >= len(f.Sections) {
		return elf.SectionHeader{}
	}
	return f.Sections[ss.data.Header.Link]
}

func (s *SymbolTable) IsDead() bool { return s.File.IsDead() }

func (s *SymbolTable) Size() int { return len(s.Index.Names) }

// Lookup finds the nearest symbol at or below addr.
func (s *SymbolTable) Lookup(addr uint64) (string, uint64, bool) {
	if len(s.Index.Values) == 0 {
		return "", 0, false
	}
	i := sort.Search(len(s.Index.Values), func(i int) bool { return s.Index.Values[i] > addr })
	if i == 0 {
		return "", 0, false
	}
	return s.symbolName(i - 1), s.Index.Values[i-1], true
}

// LookupName finds every symbol with the given (demangled) name.
func (s *SymbolTable) LookupName(name string) []uint64 {
	var ret []uint64
	for i := range s.Index.Names {
		if s.symbolName(i) == name {
			ret = append(ret, s.Index.Values[i])
		}
	}
	return ret
}

func (s *SymbolTable) Cleanup() { s.File.Close() }

func (s *SymbolTable) symbolName(index int) string {
	secidx := s.Index.Names[index].SectionIndex()
	header := &s.Index.Links[secidx]
	name := s.Index.Names[index].Name()
	return s.File.getString(int(name)+int(header.Offset), s.opts...)
}

func (f *File) getSymbols(styp elf.SectionType, opts *SymbolOptions) (*sectionSymbols, error) {
	if styp != elf.SHT_DYNSYM && styp != elf.SHT_SYMTAB {
		return nil, fmt.Errorf("unsupported elf section type %s", styp.String())
	}
	switch f.Class {
	case elf.ELFCLASS64:
		return f.getSymbols64(styp, opts)
	case elf.ELFCLASS32:
		return f.getSymbols32(styp, opts)
	}
	return nil, fmt.Errorf("unsupported elf class %s", f.Class.String())
}

func (f *File) getSymbols64(styp elf.SectionType, opts *SymbolOptions) (*sectionSymbols, error) {
	sd, err := f.GetSectionDataByType(styp)
	if err != nil {
		return nil, fmt.Errorf("get section data: %w", err)
	}
	if sd == nil {
		return &sectionSymbols{}, nil
	}
	size := int(unsafe.Sizeof(elf.Sym64{}))
	if len(sd.Data) < size || len(sd.Data)%size != 0 {
		return nil, fmt.Errorf("invalid section data size")
	}

	index := SYMTAB_TYPE
	if styp == elf.SHT_DYNSYM {
		index = DYNSYM_TYPE
	}

	// The first entry is the null symbol.
	data := sd.Data[size:]
	symbols := make([]SymbolIndex, 0, len(data)/size)
	for len(data) > 0 {
		raw := data[:size]
		data = data[size:]
		sym := (*elf.Sym64)(unsafe.Pointer(&raw[0]))
		if sym.Value != 0 && sym.Info&0xf == byte(elf.STT_FUNC) {
			if sym.Name >= 0x7fffffff {
				return nil, fmt.Errorf("invalid symbol name")
			}
			pc := sym.Value
			if pc >= opts.IgnoreFrom && pc < opts.IgnoreTo {
				continue
			}
			symbols = append(symbols, SymbolIndex{Value: pc, Name: NewName(sym.Name, index)})
		}
	}
	return &sectionSymbols{sd, symbols}, nil
}

func (f *File) getSymbols32(styp elf.SectionType, opts *SymbolOptions) (*sectionSymbols, error) {
	sd, err := f.GetSectionDataByType(styp)
	if err != nil {
		return nil, fmt.Errorf("get section data: %w", err)
	}
	if sd == nil {
		return &sectionSymbols{}, nil
	}
	size := int(unsafe.Sizeof(elf.Sym32{}))
	if len(sd.Data) < size || len(sd.Data)%size != 0 {
		return nil, fmt.Errorf("invalid section data size")
	}

	index := SYMTAB_TYPE
	if styp == elf.SHT_DYNSYM {
		index = DYNSYM_TYPE
	}

	data := sd.Data[size:]
	symbols := make([]SymbolIndex, 0, len(data)/size)
	for len(data) > 0 {
		raw := data[:size]
		data = data[size:]
		sym := (*elf.Sym32)(unsafe.Pointer(&raw[0]))
		if sym.Value != 0 && sym.Info&0xf == byte(elf.STT_FUNC) {
			if sym.Name >= 0x7fffffff {
				return nil, fmt.Errorf("invalid symbol name")
			}
			pc := uint64(sym.Value)
			if pc >= opts.IgnoreFrom && pc < opts.IgnoreTo {
				continue
			}
			symbols = append(symbols, SymbolIndex{Value: pc, Name: NewName(sym.Name, index)})
		}
	}
	return &sectionSymbols{sd, symbols}, nil
}
