package elf

import (
	"bytes"
	"debug/elf"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/ianlancetaylor/demangle"
)

// File gives cheap access to the headers of an ELF file while keeping
// the file descriptor around for on-demand section reads. Section data is
// never held longer than a single call.
type File struct {
	elf.FileHeader
	Sections []elf.SectionHeader
	Progs    []elf.ProgHeader

	fpath string
	f     *os.File

	mu          sync.Mutex
	stringCache map[int]string
}

func Open(fpath string) (*File, error) {
	this := &File{fpath: fpath}
	if err := this.open(); err != nil {
		return nil, err
	}

	e, err := elf.NewFile(this.f)
	if err != nil {
		this.Close()
		return nil, fmt.Errorf("elf new file: %w", err)
	}
	this.Progs = make([]elf.ProgHeader, 0, len(e.Progs))
	this.Sections = make([]elf.SectionHeader, 0, len(e.Sections))
	for i := range e.Progs {
		this.Progs = append(this.Progs, e.Progs[i].ProgHeader)
	}
	for i := range e.Sections {
		this.Sections = append(this.Sections, e.Sections[i].SectionHeader)
	}
	this.FileHeader = e.FileHeader
	runtime.SetFinalizer(this, (*File).Close)
	return this, nil
}

func (f *File) FindSection(name string) *elf.SectionHeader {
	for i := range f.Sections {
		if s := &f.Sections[i]; s.Name == name {
			return s
		}
	}
	return nil
}

func (f *File) FindSectionByType(styp elf.SectionType) *elf.SectionHeader {
	for i := range f.Sections {
		if s := &f.Sections[i]; s.Type == styp {
			return s
		}
	}
	return nil
}

func (f *File) GetSectionData(name string) (*SectionData, error) {
	section := f.FindSection(name)
	if section == nil {
		return nil, nil
	}
	return f.readSection(section)
}

func (f *File) GetSectionDataByType(styp elf.SectionType) (*SectionData, error) {
	section := f.FindSectionByType(styp)
	if section == nil {
		return nil, nil
	}
	return f.readSection(section)
}

func (f *File) readSection(section *elf.SectionHeader) (*SectionData, error) {
	if err := f.open(); err != nil {
		return nil, fmt.Errorf("elf open: %w", err)
	}

	data := make([]byte, section.Size)
	if _, err := f.f.ReadAt(data, int64(section.Offset)); err != nil {
		return nil, fmt.Errorf("os file read at: %w", err)
	}
	return &SectionData{data, section}, nil
}

func (f *File) FilePath() string { return f.fpath }

// IsDead reports whether the backing file has disappeared from under us,
// e.g. the mapped library was deleted or the process exited.
func (f *File) IsDead() bool {
	_, err := os.Stat(f.fpath)
	return err != nil
}

func (f *File) Close() {
	if f.f != nil {
		f.f.Close()
		f.f = nil
	}
	f.mu.Lock()
	f.stringCache = nil
	f.mu.Unlock()
	f.Sections = nil
}

func (f *File) open() error {
	if f.f != nil {
		return nil
	}
	var err error
	f.f, err = os.OpenFile(f.fpath, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("open elf file %s: %w", f.fpath, err)
	}
	return nil
}

// getString reads the NUL terminated string at the given file offset,
// demangling it when options are supplied. Resolved strings are cached so
// repeated lookups of hot symbols stay cheap.
func (f *File) getString(start int, opts ...demangle.Option) string {
	if err := f.open(); err != nil {
		return ""
	}
	f.mu.Lock()
	if s, ok := f.stringCache[start]; ok {
		f.mu.Unlock()
		return s
	}
	f.mu.Unlock()

	const bufsize = 128
	var buf [bufsize]byte
	var builder strings.Builder
	for i := 0; i < 10; i++ {
		n, err := f.f.ReadAt(buf[:], int64(start+i*bufsize))
		if err != nil && n == 0 {
			return ""
		}
		if index := bytes.IndexByte(buf[:n], 0); index >= 0 {
			builder.Write(buf[:index])
			s := builder.String()
			if len(opts) > 0 {
				s = demangle.Filter(s, opts...)
			}
			f.mu.Lock()
			if f.stringCache == nil {
				f.stringCache = make(map[int]string)
			}
			f.stringCache[start] = s
			f.mu.Unlock()
			return s
		}
		builder.Write(buf[:n])
	}
	return ""
}
