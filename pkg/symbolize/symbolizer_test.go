package symbolize

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vietanhduong/symbolize/pkg/syms"
	"github.com/vietanhduong/symbolize/pkg/syms/gsym/gsymtest"
)

func testGsymImage() []byte {
	return gsymtest.Build(0x1000, []gsymtest.Func{
		{
			Name: "main",
			Addr: 0x1000,
			Size: 0x100,
			Lines: []gsymtest.Line{
				{Addr: 0x1000, File: "src/main.c", Line: 10},
				{Addr: 0x1020, File: "src/main.c", Line: 12},
			},
		},
		{Name: "helper", Addr: 0x2000, Size: 0x40},
	})
}

func TestSymbolizeGsymData(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	addrs := []uint64{0x1024, 0x2000, 0xdead0000, 0x10}
	got, err := s.Symbolize(GsymData{Data: testGsymImage()}, addrs)
	require.NoError(t, err)
	require.Len(t, got, len(addrs))

	require.Len(t, got[0], 1)
	assert.Equal(t, "main", got[0][0].Symbol)
	assert.Equal(t, uint64(0x1000), got[0][0].Addr)
	assert.Equal(t, uint64(0x24), got[0][0].Offset)
	assert.Equal(t, "src/main.c", got[0][0].Path)
	assert.Equal(t, 12, got[0][0].Line)

	require.Len(t, got[1], 1)
	assert.Equal(t, "helper", got[1][0].Symbol)
	assert.Equal(t, uint64(0), got[1][0].Offset)
	assert.Empty(t, got[1][0].Path)

	assert.Empty(t, got[2])
	assert.Empty(t, got[3])
}

func TestSymbolizeEmptyBatch(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	got, err := s.Symbolize(GsymData{Data: testGsymImage()}, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSymbolizeGsymFile(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "test.gsym")
	require.NoError(t, os.WriteFile(path, testGsymImage(), 0o600))

	src := GsymFile{Path: path}
	got, err := s.Symbolize(src, []uint64{0x1000})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0], 1)
	assert.Equal(t, "main", got[0][0].Symbol)
	assert.Equal(t, path, got[0][0].Module)

	// The resolver is cached under the source identity, so the file going
	// away must not affect subsequent calls until the cache is dropped.
	require.NoError(t, os.Remove(path))
	got, err = s.Symbolize(src, []uint64{0x2000})
	require.NoError(t, err)
	require.Len(t, got[0], 1)
	assert.Equal(t, "helper", got[0][0].Symbol)

	s.Invalidate(src)
	_, err = s.Symbolize(src, []uint64{0x1000})
	require.Error(t, err)
}

func TestSymbolizeSourceValidation(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	tests := []struct {
		name string
		src  Source
	}{
		{name: "elf empty path", src: Elf{}},
		{name: "process negative pid", src: Process{PID: -1}},
		{name: "gsym empty data", src: GsymData{}},
		{name: "gsym file empty path", src: GsymFile{}},
		{name: "elf missing file", src: Elf{Path: "/no/such/elf"}},
		{name: "gsym missing file", src: GsymFile{Path: "/no/such/gsym"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Symbolize(tt.src, []uint64{0x1000})
			require.Error(t, err)
		})
	}
}

type bogusSource struct{}

func (bogusSource) isSource()        {}
func (bogusSource) cacheKey() string { return "" }

func TestSymbolizeUnknownSource(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	_, err = s.Symbolize(bogusSource{}, []uint64{0x1000})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unrecognized symbol source type")
}

type stubResolver struct {
	syms    map[uint64][]syms.Sym
	lines   map[uint64]*syms.AddrLineInfo
	symErr  error
	lineErr error
}

func (r *stubResolver) FindSyms(addr uint64) ([]syms.Sym, error) {
	return r.syms[addr], r.symErr
}

func (r *stubResolver) FindAddr(string, *syms.FindAddrOpts) ([]syms.SymInfo, error) {
	return nil, nil
}

func (r *stubResolver) FindLineInfo(addr uint64) (*syms.AddrLineInfo, error) {
	return r.lines[addr], r.lineErr
}

func (r *stubResolver) AddrFileOff(uint64) (uint64, bool) { return 0, false }

func (r *stubResolver) FileName() string { return "stub" }

// inject plants a resolver in the cache under the identity of src so
// dispatch behavior can be tested without real files.
func inject(t *testing.T, s *Symbolizer, src Source, r syms.Resolver) {
	t.Helper()
	require.NotEmpty(t, src.cacheKey())
	s.cache.Add(src.cacheKey(), r)
}

func TestSymbolizeOverlappingMatches(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	src := Elf{Path: "/fake/overlap"}
	inject(t, s, src, &stubResolver{
		syms: map[uint64][]syms.Sym{
			0x500: {
				{Name: "outer", Addr: 0x400, Module: "m"},
				{Name: "inner", Addr: 0x4f0, Module: "m"},
			},
		},
		lines: map[uint64]*syms.AddrLineInfo{
			0x500: {Path: "a.c", Line: 7, Column: 3},
		},
	})

	got, err := s.Symbolize(src, []uint64{0x500, 0x600})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Len(t, got[0], 2)

	assert.Equal(t, "outer", got[0][0].Symbol)
	assert.Equal(t, uint64(0x100), got[0][0].Offset)
	assert.Equal(t, "inner", got[0][1].Symbol)
	assert.Equal(t, uint64(0x10), got[0][1].Offset)
	// Line info is per address, shared by every match.
	assert.Equal(t, "a.c", got[0][0].Path)
	assert.Equal(t, "a.c", got[0][1].Path)
	assert.Equal(t, 7, got[0][1].Line)
	assert.Equal(t, 3, got[0][1].Column)

	assert.Empty(t, got[1])
}

func TestSymbolizeErrorAborts(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	boom := errors.New("boom")

	src := Elf{Path: "/fake/symerr"}
	inject(t, s, src, &stubResolver{symErr: boom})
	got, err := s.Symbolize(src, []uint64{0x1, 0x2})
	require.ErrorIs(t, err, boom)
	assert.Nil(t, got)

	src = Elf{Path: "/fake/lineerr"}
	inject(t, s, src, &stubResolver{
		syms:    map[uint64][]syms.Sym{0x1: {{Name: "f", Addr: 0x1}}},
		lineErr: boom,
	})
	got, err = s.Symbolize(src, []uint64{0x1})
	require.ErrorIs(t, err, boom)
	assert.Nil(t, got)
}

func TestSourceCacheKeys(t *testing.T) {
	assert.Equal(t, "elf:/bin/sh", Elf{Path: "/bin/sh"}.cacheKey())
	assert.Equal(t, "kernel:/proc/kallsyms:", Kernel{KallsymsPath: "/proc/kallsyms"}.cacheKey())
	assert.Equal(t, "process:42", Process{PID: 42}.cacheKey())
	assert.Equal(t, "gsym-file:/x.gsym", GsymFile{Path: "/x.gsym"}.cacheKey())
	// In-memory data has no stable identity and is never cached.
	assert.Empty(t, GsymData{Data: []byte{1}}.cacheKey())
}

func TestSourceString(t *testing.T) {
	assert.Equal(t, "Elf(/bin/sh)", Elf{Path: "/bin/sh"}.String())
	assert.Equal(t, "Kernel(/proc/kallsyms, /boot/vmlinux)", Kernel{KallsymsPath: "/proc/kallsyms", KernelImagePath: "/boot/vmlinux"}.String())
	assert.Equal(t, "Process(42)", Process{PID: 42}.String())
	assert.Equal(t, "GsymData(3 bytes)", GsymData{Data: []byte{1, 2, 3}}.String())
	assert.Equal(t, "GsymFile(/x.gsym)", GsymFile{Path: "/x.gsym"}.String())
}
