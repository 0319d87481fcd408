package gsym

import (
	"github.com/vietanhduong/symbolize/pkg/syms"
)

// Resolver adapts a Gsym File to the resolver contract.
type Resolver struct {
	file *File
}

// NewResolver wraps an already parsed Gsym file.
func NewResolver(file *File) *Resolver {
	return &Resolver{file: file}
}

// OpenResolver parses the Gsym file at path.
func OpenResolver(path string) (*Resolver, error) {
	file, err := Open(path)
	if err != nil {
		return nil, err
	}
	return &Resolver{file: file}, nil
}

// DataResolver parses an in-memory Gsym image.
func DataResolver(data []byte) (*Resolver, error) {
	file, err := NewData(data)
	if err != nil {
		return nil, err
	}
	return &Resolver{file: file}, nil
}

func (r *Resolver) FindSyms(addr uint64) ([]syms.Sym, error) {
	info, err := r.funcInfo(addr)
	if err != nil || info == nil {
		return nil, err
	}
	return []syms.Sym{{Name: info.Name, Addr: info.Start, Module: r.file.Path()}}, nil
}

func (r *Resolver) FindAddr(name string, _ *syms.FindAddrOpts) ([]syms.SymInfo, error) {
	var ret []syms.SymInfo
	for i := 0; i < r.file.NumAddresses(); i++ {
		info, err := r.file.FuncInfo(i)
		if err != nil {
			return nil, err
		}
		if info.Name == name {
			ret = append(ret, syms.SymInfo{
				Name:   info.Name,
				Addr:   info.Start,
				Size:   info.Size,
				Module: r.file.Path(),
			})
		}
	}
	return ret, nil
}

func (r *Resolver) FindLineInfo(addr uint64) (*syms.AddrLineInfo, error) {
	info, err := r.funcInfo(addr)
	if err != nil || info == nil {
		return nil, err
	}
	rows, err := r.file.LineEntries(info)
	if err != nil {
		return nil, err
	}

	// Last row at or below addr wins.
	var match *LineEntry
	for i := range rows {
		if rows[i].Addr > addr {
			break
		}
		match = &rows[i]
	}
	if match == nil {
		return nil, nil
	}
	path, err := r.file.FilePath(match.File)
	if err != nil {
		return nil, err
	}
	// Gsym line tables carry no column information.
	return &syms.AddrLineInfo{Path: path, Line: match.Line}, nil
}

// AddrFileOff reports no offset: a Gsym index describes the layout of the
// binary it was generated from, not its own file layout.
func (r *Resolver) AddrFileOff(uint64) (uint64, bool) { return 0, false }

func (r *Resolver) FileName() string { return r.file.Path() }

func (r *Resolver) funcInfo(addr uint64) (*FuncInfo, error) {
	i := r.file.LookupIndex(addr)
	if i < 0 {
		return nil, nil
	}
	info, err := r.file.FuncInfo(i)
	if err != nil {
		return nil, err
	}
	if info.Size != 0 && addr >= info.Start+info.Size {
		return nil, nil
	}
	return info, nil
}
