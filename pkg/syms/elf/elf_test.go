package elf

import (
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testExecutable(t *testing.T) string {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	return exe
}

func TestName(t *testing.T) {
	n := NewName(0x1234, DYNSYM_TYPE)
	assert.Equal(t, uint32(0x1234), n.Name())
	assert.Equal(t, DYNSYM_TYPE, n.SectionIndex())

	n = NewName(0x7fffffff, SYMTAB_TYPE)
	assert.Equal(t, uint32(0x7fffffff), n.Name())
	assert.Equal(t, SYMTAB_TYPE, n.SectionIndex())
}

func TestOpen(t *testing.T) {
	f, err := Open(testExecutable(t))
	require.NoError(t, err)
	defer f.Close()

	assert.NotEmpty(t, f.Sections)
	assert.NotEmpty(t, f.Progs)
	assert.NotNil(t, f.FindSection(".text"))
	assert.False(t, f.IsDead())
}

func TestOpenMissing(t *testing.T) {
	_, err := Open("/no/such/file")
	require.Error(t, err)
}

func TestBuildId(t *testing.T) {
	f, err := Open(testExecutable(t))
	require.NoError(t, err)
	defer f.Close()

	// Go binaries always carry at least the Go linker's build id note.
	id := f.BuildId()
	require.NotNil(t, id)
	assert.NotEmpty(t, id.Id)

	if id.GNU() {
		assert.Contains(t, []int{16, 40}, len(id.Id)) // hex encoded
	} else {
		assert.GreaterOrEqual(t, strings.Count(id.Id, "/"), 2)
	}
}

func TestNoteMismatch(t *testing.T) {
	f, err := Open(testExecutable(t))
	require.NoError(t, err)
	defer f.Close()

	assert.Nil(t, f.note(".note.go.buildid", "GNU", ntGnuBuildId))
	assert.Nil(t, f.note(".note.absent", "GNU", ntGnuBuildId))
}

func TestSymbolTable(t *testing.T) {
	f, err := Open(testExecutable(t))
	require.NoError(t, err)
	defer f.Close()

	table, err := f.NewSymbolTable(&SymbolOptions{})
	require.NoError(t, err)
	require.NotNil(t, table)
	assert.Greater(t, table.Size(), 0)

	// Every indexed value must resolve to itself.
	name, start, ok := table.Lookup(table.Index.Values[0])
	require.True(t, ok)
	assert.Equal(t, table.Index.Values[0], start)
	assert.NotEmpty(t, name)

	_, _, ok = table.Lookup(table.Index.Values[0] - 1)
	assert.False(t, ok)
}

func TestResolverFindSyms(t *testing.T) {
	r, err := NewResolver(testExecutable(t), &SymbolOptions{})
	require.NoError(t, err)
	defer r.Cleanup()

	// Test binaries are linked at their runtime addresses, so a function
	// pointer doubles as a virtual address in the file.
	addr := uint64(reflect.ValueOf(Open).Pointer())
	got, err := r.FindSyms(addr)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Name, "elf.Open")
	assert.Equal(t, addr, got[0].Addr)
}

func TestResolverFindLineInfo(t *testing.T) {
	r, err := NewResolver(testExecutable(t), &SymbolOptions{})
	require.NoError(t, err)
	defer r.Cleanup()

	addr := uint64(reflect.ValueOf(Open).Pointer())
	info, err := r.FindLineInfo(addr)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.True(t, strings.HasSuffix(info.Path, "file.go"), "unexpected path %q", info.Path)
	assert.Greater(t, info.Line, 0)
}

func TestResolverAddrFileOff(t *testing.T) {
	r, err := NewResolver(testExecutable(t), &SymbolOptions{})
	require.NoError(t, err)
	defer r.Cleanup()

	addr := uint64(reflect.ValueOf(Open).Pointer())
	off, ok := r.AddrFileOff(addr)
	require.True(t, ok)
	assert.NotZero(t, off)

	_, ok = r.AddrFileOff(^uint64(0))
	assert.False(t, ok)
}

func TestGoTable(t *testing.T) {
	f, err := Open(testExecutable(t))
	require.NoError(t, err)
	defer f.Close()

	gt, err := f.NewGoTable(nil)
	require.NoError(t, err)

	addr := uint64(reflect.ValueOf(Open).Pointer())
	name, start, ok := gt.Lookup(addr)
	require.True(t, ok)
	assert.Contains(t, name, "elf.Open")
	assert.Equal(t, addr, start)

	file, line, ok := gt.LineInfo(addr)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(file, "file.go"), "unexpected file %q", file)
	assert.Greater(t, line, 0)
}
