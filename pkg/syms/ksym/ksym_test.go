package ksym

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleKallsyms = `ffffffff81000000 T _text
ffffffff81001000 T do_sys_open
ffffffff81002000 t do_filp_open
ffffffff81003000 W cond_resched
ffffffff81004000 D jiffies
ffffffff81005000 t scsi_probe [scsi_mod]
`

func newTestResolver(t *testing.T, content string) *Resolver {
	t.Helper()
	r, err := NewFromReader("/proc/kallsyms", strings.NewReader(content))
	require.NoError(t, err)
	return r
}

func TestParse(t *testing.T) {
	r := newTestResolver(t, sampleKallsyms)
	assert.Equal(t, "/proc/kallsyms", r.FileName())

	// The data symbol 'jiffies' is skipped.
	want := []entry{
		{addr: 0xffffffff81000000, name: "_text"},
		{addr: 0xffffffff81001000, name: "do_sys_open"},
		{addr: 0xffffffff81002000, name: "do_filp_open"},
		{addr: 0xffffffff81003000, name: "cond_resched"},
		{addr: 0xffffffff81005000, name: "scsi_probe", module: "scsi_mod"},
	}
	if diff := cmp.Diff(want, r.entries, cmp.AllowUnexported(entry{})); diff != "" {
		t.Errorf("parsed symbols mismatch (-want +got):\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "empty input", content: ""},
		{name: "garbage line", content: "not a kallsyms line\n"},
		{name: "bad address", content: "zzzz T do_sys_open\n"},
		{
			name: "zero addresses",
			content: "0000000000000000 T do_sys_open\n" +
				"0000000000000000 T do_filp_open\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFromReader("kallsyms", strings.NewReader(tt.content))
			require.Error(t, err)
		})
	}

	t.Run("zero addresses is the permission error", func(t *testing.T) {
		_, err := NewFromReader("kallsyms", strings.NewReader("0000000000000000 T do_sys_open\n"))
		assert.ErrorIs(t, err, ErrSymbolPermissions)
	})
}

func TestFindSyms(t *testing.T) {
	r := newTestResolver(t, sampleKallsyms)

	tests := []struct {
		name     string
		addr     uint64
		want     string
		wantAddr uint64
	}{
		{name: "exact start", addr: 0xffffffff81001000, want: "do_sys_open", wantAddr: 0xffffffff81001000},
		{name: "inside range", addr: 0xffffffff81001abc, want: "do_sys_open", wantAddr: 0xffffffff81001000},
		{name: "local symbol", addr: 0xffffffff81002010, want: "do_filp_open", wantAddr: 0xffffffff81002000},
		{name: "weak symbol", addr: 0xffffffff81003000, want: "cond_resched", wantAddr: 0xffffffff81003000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.FindSyms(tt.addr)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0].Name)
			assert.Equal(t, tt.wantAddr, got[0].Addr)
		})
	}

	t.Run("below first symbol", func(t *testing.T) {
		got, err := r.FindSyms(0x1000)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestFindSymsModule(t *testing.T) {
	r := newTestResolver(t, sampleKallsyms)

	got, err := r.FindSyms(0xffffffff81005123)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "scsi_probe", got[0].Name)
	assert.Equal(t, "scsi_mod", got[0].Module)
}

func TestFindAddr(t *testing.T) {
	r := newTestResolver(t, sampleKallsyms)

	got, err := r.FindAddr("do_filp_open", nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(0xffffffff81002000), got[0].Addr)

	got, err = r.FindAddr("no_such_symbol", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFindLineInfo(t *testing.T) {
	r := newTestResolver(t, sampleKallsyms)

	// A flat table never carries line info.
	for _, addr := range []uint64{0, 0xffffffff81001000, ^uint64(0)} {
		info, err := r.FindLineInfo(addr)
		require.NoError(t, err)
		assert.Nil(t, info)
	}
}

func TestAddrFileOff(t *testing.T) {
	r := newTestResolver(t, sampleKallsyms)

	off, ok := r.AddrFileOff(0xffffffff81001000)
	assert.False(t, ok)
	assert.Zero(t, off)
}
