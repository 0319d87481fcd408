// Package gsymtest builds small, valid Gsym images in memory for tests.
package gsymtest

import (
	"encoding/binary"
	"path/filepath"
)

// Line is one source line row of a function.
type Line struct {
	Addr uint64
	File string
	Line int
}

// Func describes one function to encode.
type Func struct {
	Name   string
	Addr   uint64
	Size   uint64
	Lines  []Line // must be sorted by Addr
	Inline []byte // raw inline info chunk payload, emitted as-is
}

type strtab struct {
	data []byte
	offs map[string]uint32
}

func (s *strtab) add(str string) uint32 {
	if off, ok := s.offs[str]; ok {
		return off
	}
	off := uint32(len(s.data))
	s.data = append(s.data, str...)
	s.data = append(s.data, 0)
	s.offs[str] = off
	return off
}

// Build encodes funcs into a Gsym image. Funcs must be sorted by Addr and
// at or above baseAddr.
func Build(baseAddr uint64, funcs []Func) []byte {
	st := &strtab{offs: map[string]uint32{}}
	st.add("") // offset 0 is the empty string

	// File table; index 0 is reserved.
	files := []struct{ dir, base uint32 }{{}}
	fileIdx := map[string]int{}
	for _, fn := range funcs {
		for _, ln := range fn.Lines {
			if _, ok := fileIdx[ln.File]; ok {
				continue
			}
			dir, base := filepath.Split(ln.File)
			dir = filepath.Clean(dir)
			if dir == "." {
				dir = ""
			}
			fileIdx[ln.File] = len(files)
			files = append(files, struct{ dir, base uint32 }{st.add(dir), st.add(base)})
		}
	}

	names := make([]uint32, len(funcs))
	for i, fn := range funcs {
		names[i] = st.add(fn.Name)
	}

	const headerSize = 48
	const addrOffSize = 8

	addrTabOff := headerSize
	infoTabOff := addrTabOff + len(funcs)*addrOffSize
	fileTabOff := infoTabOff + len(funcs)*4
	strtabOff := fileTabOff + 4 + len(files)*8
	funcsOff := align4(strtabOff + len(st.data))

	// Encode function infos first so their offsets are known.
	var infos []byte
	infoOffs := make([]uint32, len(funcs))
	for i, fn := range funcs {
		infoOffs[i] = uint32(funcsOff + len(infos))
		infos = appendFuncInfo(infos, fn, names[i], fileIdx)
	}

	out := make([]byte, funcsOff, funcsOff+len(infos))

	le := binary.LittleEndian
	le.PutUint32(out[0:], 0x4753594d) // "GSYM"
	le.PutUint16(out[4:], 1)
	out[6] = addrOffSize
	out[7] = 0 // no uuid
	le.PutUint64(out[8:], baseAddr)
	le.PutUint32(out[16:], uint32(len(funcs)))
	le.PutUint32(out[20:], uint32(strtabOff))
	le.PutUint32(out[24:], uint32(len(st.data)))

	for i, fn := range funcs {
		le.PutUint64(out[addrTabOff+i*addrOffSize:], fn.Addr-baseAddr)
	}
	for i, off := range infoOffs {
		le.PutUint32(out[infoTabOff+i*4:], off)
	}

	le.PutUint32(out[fileTabOff:], uint32(len(files)))
	for i, f := range files {
		le.PutUint32(out[fileTabOff+4+i*8:], f.dir)
		le.PutUint32(out[fileTabOff+4+i*8+4:], f.base)
	}

	copy(out[strtabOff:], st.data)
	return append(out, infos...)
}

func appendFuncInfo(out []byte, fn Func, nameOff uint32, fileIdx map[string]int) []byte {
	out = appendU32(out, uint32(fn.Size))
	out = appendU32(out, nameOff)

	if len(fn.Lines) > 0 {
		lt := encodeLineTable(fn, fileIdx)
		out = appendU32(out, 1) // line table chunk
		out = appendU32(out, uint32(len(lt)))
		out = append(out, lt...)
		for len(out)%4 != 0 {
			out = append(out, 0)
		}
	}

	if len(fn.Inline) > 0 {
		out = appendU32(out, 2) // inline info chunk
		out = appendU32(out, uint32(len(fn.Inline)))
		out = append(out, fn.Inline...)
		for len(out)%4 != 0 {
			out = append(out, 0)
		}
	}

	out = appendU32(out, 0) // end of list
	for len(out)%4 != 0 {
		out = append(out, 0)
	}
	return out
}

// encodeLineTable uses only the explicit opcodes: SetFile, AdvanceLine
// and the row-emitting AdvancePC.
func encodeLineTable(fn Func, fileIdx map[string]int) []byte {
	var out []byte
	firstLine := uint64(fn.Lines[0].Line)
	out = appendSLEB(out, 0) // min delta
	out = appendSLEB(out, 0) // max delta
	out = appendULEB(out, firstLine)

	curAddr := fn.Addr
	curLine := fn.Lines[0].Line
	curFile := 1
	for _, ln := range fn.Lines {
		if idx := fileIdx[ln.File]; idx != curFile {
			out = append(out, 0x01) // SetFile
			out = appendULEB(out, uint64(idx))
			curFile = idx
		}
		if ln.Line != curLine {
			out = append(out, 0x03) // AdvanceLine
			out = appendSLEB(out, int64(ln.Line-curLine))
			curLine = ln.Line
		}
		out = append(out, 0x02) // AdvancePC, emits the row
		out = appendULEB(out, ln.Addr-curAddr)
		curAddr = ln.Addr
	}
	out = append(out, 0x00) // EndSequence
	return out
}

func appendU32(out []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(out, buf[:]...)
}

func appendULEB(out []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func appendSLEB(out []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func align4(v int) int {
	if rem := v % 4; rem != 0 {
		return v + 4 - rem
	}
	return v
}
