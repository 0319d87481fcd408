// Package gsym decodes precompiled Gsym symbol indices, a compact
// address to symbol/line format used as a fast alternative to full debug
// info.
package gsym

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	bufra "github.com/avvmoto/buf-readerat"
)

// File is a parsed Gsym index. The address and info offset tables are
// decoded eagerly; function infos and line tables are read on demand.
// A File is read-only and safe for concurrent lookups.
type File struct {
	r    io.ReaderAt
	path string
	hdr  header

	addrOffs []uint64 // sorted, relative to hdr.BaseAddress
	infoOffs []uint32
	files    []fileEntry
}

type fileEntry struct {
	Dir  uint32
	Base uint32
}

// FuncInfo is the decoded information of one function entry.
type FuncInfo struct {
	Start uint64
	Size  uint64
	Name  string

	lineTableOff int64
	inlineOff    int64
}

// HasInlineInfo reports whether the entry carries an inline info chunk.
// The chunk is indexed but not decoded; inline frames are not expanded.
func (fi *FuncInfo) HasInlineInfo() bool { return fi.inlineOff >= 0 }

// LineEntry is one row of a function's line table.
type LineEntry struct {
	Addr uint64
	File int
	Line int
}

// NewData parses an in-memory Gsym image.
func NewData(data []byte) (*File, error) {
	return parse(bytes.NewReader(data), int64(len(data)), "")
}

const readCacheSize = 1 << 16

// Open parses the Gsym file at path. Reads go through a buffered
// io.ReaderAt so on-demand function info lookups do not hammer the file
// with tiny reads.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gsym %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat gsym %s: %w", path, err)
	}
	return parse(bufra.NewBufReaderAt(f, readCacheSize), st.Size(), path)
}

func parse(r io.ReaderAt, size int64, path string) (*File, error) {
	hdr, err := parseHeader(r)
	if err != nil {
		return nil, err
	}

	// The table sizes come from the untrusted header; bound them against
	// the backing store before allocating anything.
	tables := int64(hdr.NumAddresses) * int64(int(hdr.AddrOffSize)+4)
	if headerSize+tables > size {
		return nil, fmt.Errorf("gsym header claims %d addresses, more than the %d byte input can hold", hdr.NumAddresses, size)
	}

	g := &File{r: r, path: path, hdr: hdr}
	rd := &reader{r: r, off: headerSize}

	g.addrOffs = make([]uint64, hdr.NumAddresses)
	for i := range g.addrOffs {
		buf, err := rd.bytes(int(hdr.AddrOffSize))
		if err != nil {
			return nil, fmt.Errorf("read gsym address table: %w", err)
		}
		var v uint64
		for j := int(hdr.AddrOffSize) - 1; j >= 0; j-- {
			v = v<<8 | uint64(buf[j])
		}
		g.addrOffs[i] = v
	}

	rd.align4()
	g.infoOffs = make([]uint32, hdr.NumAddresses)
	for i := range g.infoOffs {
		if g.infoOffs[i], err = rd.u32(); err != nil {
			return nil, fmt.Errorf("read gsym info offset table: %w", err)
		}
	}

	numFiles, err := rd.u32()
	if err != nil {
		return nil, fmt.Errorf("read gsym file table: %w", err)
	}
	if rd.off+int64(numFiles)*8 > size {
		return nil, fmt.Errorf("gsym file table claims %d entries, more than the %d byte input can hold", numFiles, size)
	}
	g.files = make([]fileEntry, numFiles)
	for i := range g.files {
		if g.files[i].Dir, err = rd.u32(); err != nil {
			return nil, fmt.Errorf("read gsym file table: %w", err)
		}
		if g.files[i].Base, err = rd.u32(); err != nil {
			return nil, fmt.Errorf("read gsym file table: %w", err)
		}
	}
	return g, nil
}

// Path reports the backing file, empty for in-memory data.
func (g *File) Path() string { return g.path }

// NumAddresses reports the number of indexed functions.
func (g *File) NumAddresses() int { return len(g.addrOffs) }

// UUID returns the identifier of the binary this index was built from.
func (g *File) UUID() []byte { return g.hdr.UUID[:g.hdr.UUIDSize] }

// LookupIndex finds the entry index covering addr, -1 when addr is below
// the first entry or outside the matched function's range.
func (g *File) LookupIndex(addr uint64) int {
	if addr < g.hdr.BaseAddress {
		return -1
	}
	rel := addr - g.hdr.BaseAddress
	i := sort.Search(len(g.addrOffs), func(i int) bool { return g.addrOffs[i] > rel })
	if i == 0 {
		return -1
	}
	return i - 1
}

// Addr reports the absolute start address of entry i.
func (g *File) Addr(i int) uint64 { return g.hdr.BaseAddress + g.addrOffs[i] }

// FuncInfo decodes the function info of entry i.
func (g *File) FuncInfo(i int) (*FuncInfo, error) {
	if i < 0 || i >= len(g.infoOffs) {
		return nil, fmt.Errorf("gsym entry index %d out of range", i)
	}
	rd := &reader{r: g.r, off: int64(g.infoOffs[i])}

	size, err := rd.u32()
	if err != nil {
		return nil, fmt.Errorf("read gsym function info: %w", err)
	}
	nameOff, err := rd.u32()
	if err != nil {
		return nil, fmt.Errorf("read gsym function info: %w", err)
	}
	name, err := g.str(nameOff)
	if err != nil {
		return nil, err
	}

	info := &FuncInfo{
		Start:        g.Addr(i),
		Size:         uint64(size),
		Name:         name,
		lineTableOff: -1,
		inlineOff:    -1,
	}

	// Optional chunks follow until the end-of-list marker.
	for {
		typ, err := rd.u32()
		if err != nil || typ == infoEndOfList {
			break
		}
		length, err := rd.u32()
		if err != nil {
			return nil, fmt.Errorf("read gsym info chunk: %w", err)
		}
		switch typ {
		case infoLineTable:
			info.lineTableOff = rd.off
		case infoInline:
			info.inlineOff = rd.off
		}
		rd.off += int64(length)
		rd.align4()
	}
	return info, nil
}

// LineEntries decodes the line table of info, in address order.
func (g *File) LineEntries(info *FuncInfo) ([]LineEntry, error) {
	if info.lineTableOff < 0 {
		return nil, nil
	}
	rd := &reader{r: g.r, off: info.lineTableOff}

	minDelta, err := rd.sleb()
	if err != nil {
		return nil, fmt.Errorf("decode gsym line table: %w", err)
	}
	maxDelta, err := rd.sleb()
	if err != nil {
		return nil, fmt.Errorf("decode gsym line table: %w", err)
	}
	firstLine, err := rd.uleb()
	if err != nil {
		return nil, fmt.Errorf("decode gsym line table: %w", err)
	}
	lineRange := maxDelta - minDelta + 1
	if lineRange <= 0 {
		return nil, fmt.Errorf("invalid gsym line table delta range [%d, %d]", minDelta, maxDelta)
	}

	row := LineEntry{Addr: info.Start, File: 1, Line: int(firstLine)}
	var rows []LineEntry
	for {
		op, err := rd.u8()
		if err != nil {
			return nil, fmt.Errorf("decode gsym line table: %w", err)
		}
		switch {
		case op == opEndSequence:
			return rows, nil
		case op == opSetFile:
			f, err := rd.uleb()
			if err != nil {
				return nil, fmt.Errorf("decode gsym line table: %w", err)
			}
			row.File = int(f)
		case op == opAdvancePC:
			delta, err := rd.uleb()
			if err != nil {
				return nil, fmt.Errorf("decode gsym line table: %w", err)
			}
			row.Addr += delta
			rows = append(rows, row)
		case op == opAdvanceLine:
			delta, err := rd.sleb()
			if err != nil {
				return nil, fmt.Errorf("decode gsym line table: %w", err)
			}
			row.Line += int(delta)
		default:
			adjusted := int64(op - opFirstSpecial)
			row.Line += int(minDelta + adjusted%lineRange)
			row.Addr += uint64(adjusted / lineRange)
			rows = append(rows, row)
		}
	}
}

// FilePath resolves a file table index into a full path.
func (g *File) FilePath(idx int) (string, error) {
	if idx <= 0 || idx >= len(g.files) {
		return "", nil
	}
	dir, err := g.str(g.files[idx].Dir)
	if err != nil {
		return "", err
	}
	base, err := g.str(g.files[idx].Base)
	if err != nil {
		return "", err
	}
	if dir == "" {
		return base, nil
	}
	return dir + "/" + base, nil
}

// str reads the NUL terminated string at the given string table offset.
func (g *File) str(off uint32) (string, error) {
	if off >= g.hdr.StrtabSize {
		return "", fmt.Errorf("gsym string offset %d out of range", off)
	}
	rd := &reader{r: g.r, off: int64(g.hdr.StrtabOffset) + int64(off)}
	var sb []byte
	for {
		b, err := rd.u8()
		if err != nil {
			if err == io.EOF && len(sb) > 0 {
				return string(sb), nil
			}
			return "", fmt.Errorf("read gsym string: %w", err)
		}
		if b == 0 {
			return string(sb), nil
		}
		sb = append(sb, b)
	}
}
