package proc

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMaps = `00400000-00452000 r-xp 00000000 08:02 173521 /usr/bin/dbus-daemon
00651000-00652000 r--p 00051000 08:02 173521 /usr/bin/dbus-daemon
00652000-00655000 rw-p 00052000 08:02 173521 /usr/bin/dbus-daemon
7f3c00000000-7f3c00021000 r-xp 00000000 08:02 135522 /usr/lib/libc.so.6
7f3c00100000-7f3c00101000 r-xp 00000000 00:00 0 [heap]
7f3c00200000-7f3c00201000 r-xp 00000000 00:00 0 [stack]
7f3c00300000-7f3c00301000 r-xp 00000000 00:00 0 /dev/zero
7f3c00400000-7f3c00401000 r-xp 00000000 00:00 0 [vdso]
`

func TestParseMapsContent(t *testing.T) {
	got, err := parseMaps(strings.NewReader(sampleMaps), os.Getpid())
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "/usr/bin/dbus-daemon", got[0].Pathname)
	assert.Equal(t, uint64(0x00400000), got[0].StartAddr)
	assert.Equal(t, uint64(0x00452000), got[0].EndAddr)
	assert.Equal(t, uint64(0), got[0].FileOffset)
	assert.Equal(t, uint64(173521), got[0].Inode)

	assert.Equal(t, "/usr/lib/libc.so.6", got[1].Pathname)
	assert.Equal(t, "[vdso]", got[2].Pathname)
}

// Anonymous executable mappings have no pathname column at all. They
// must parse as such without tearing into the following line.
func TestParseMapsAnonExecutable(t *testing.T) {
	const content = `7f3c00000000-7f3c00001000 r-xp 00000000 00:00 0
7f3c00100000-7f3c00121000 r-xp 00000000 08:02 135522 /usr/lib/libc.so.6
`
	got, err := parseMaps(strings.NewReader(content), os.Getpid())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Empty(t, got[0].Pathname)
	assert.Equal(t, uint64(0x7f3c00000000), got[0].StartAddr)
	assert.Equal(t, uint64(0x7f3c00001000), got[0].EndAddr)

	assert.Equal(t, "/usr/lib/libc.so.6", got[1].Pathname)
	assert.Equal(t, uint64(0x7f3c00100000), got[1].StartAddr)
	assert.Equal(t, uint64(135522), got[1].Inode)
}

func TestParseMapsSpacedPathname(t *testing.T) {
	const content = "7f3c00000000-7f3c00001000 r-xp 00000000 08:02 42 /opt/my app/lib.so\n"
	got, err := parseMaps(strings.NewReader(content), os.Getpid())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "/opt/my app/lib.so", got[0].Pathname)
}

func TestParseMapsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "too few fields", content: "00400000-00452000 r-xp\n"},
		{name: "bad address range", content: "00400000 r-xp 00000000 08:02 0\n"},
		{name: "bad start address", content: "zzzz-00452000 r-xp 00000000 08:02 0\n"},
		{name: "bad device", content: "00400000-00452000 r-xp 00000000 0802 0\n"},
		{name: "bad inode", content: "00400000-00452000 r-xp 00000000 08:02 xx\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseMaps(strings.NewReader(tt.content), os.Getpid())
			require.Error(t, err)
		})
	}
}

func TestParseMapsEmpty(t *testing.T) {
	got, err := parseMaps(strings.NewReader(""), os.Getpid())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIsAnonMapping(t *testing.T) {
	for _, name := range []string{"//anon", "/dev/zero", "/anon_hugepage", "[stack]", "[stack:1234]", "/SYSV0000", "[heap]", "[vsyscall]"} {
		assert.True(t, isAnonMapping(name), name)
	}
	for _, name := range []string{"", "/usr/lib/libc.so.6", "[vdso]", "/tmp/perf-1.map"} {
		assert.False(t, isAnonMapping(name), name)
	}
}

func TestMapContains(t *testing.T) {
	m := &Map{StartAddr: 0x1000, EndAddr: 0x2000}
	assert.True(t, m.Contains(0x1000))
	assert.True(t, m.Contains(0x1fff))
	assert.False(t, m.Contains(0x2000))
	assert.False(t, m.Contains(0xfff))
}

func TestParseMapsSelf(t *testing.T) {
	pid := os.Getpid()
	got, err := ParseMaps(pid)
	require.NoError(t, err)
	require.NotEmpty(t, got)

	exe, err := os.Executable()
	require.NoError(t, err)
	var foundExe, foundPerf bool
	for _, m := range got {
		if m.Pathname == exe {
			foundExe = true
		}
		if m.Pathname == fmt.Sprintf("/tmp/perf-%d.map", pid) {
			foundPerf = true
		}
	}
	assert.True(t, foundExe, "own executable missing from maps")
	assert.True(t, foundPerf, "perf map candidate missing")
}

func TestFindPerfMapNStgid(t *testing.T) {
	assert.Equal(t, os.Getpid(), FindPerfMapNStgid(os.Getpid()))
}
