package symbolize

import (
	"fmt"
	"strconv"
)

// Source describes where symbols and debug information come from. The
// set of implementations is closed: Elf, Kernel, Process, GsymData and
// GsymFile. The dispatch layer matches the set exhaustively, so a new
// source kind is a breaking change, not a silent default branch.
type Source interface {
	isSource()
	// cacheKey is the identity under which a constructed resolver may be
	// reused across Symbolize calls. Empty means "never cache".
	cacheKey() string
}

// Elf is a single ELF file, an executable or a shared object. For
// example "/bin/sh" loads the symbols and debug information of sh.
type Elf struct {
	Path string
}

func (Elf) isSource() {}

func (s Elf) cacheKey() string { return "elf:" + s.Path }

// Kernel is the Linux kernel, backed by a kallsyms copy and/or a kernel
// image. Empty paths mean the well known defaults: /proc/kallsyms for
// the symbol table and a discovered /boot or /usr/lib/debug/boot image
// of the running kernel.
type Kernel struct {
	KallsymsPath    string
	KernelImagePath string
}

func (Kernel) isSource() {}

func (s Kernel) cacheKey() string {
	return "kernel:" + s.KallsymsPath + ":" + s.KernelImagePath
}

// Process selects a live process by PID; the supplied addresses are
// absolute addresses valid within it. PIDSelf selects the calling
// process.
type Process struct {
	PID int
}

// PIDSelf is the sentinel PID for the calling process.
const PIDSelf = 0

func (Process) isSource() {}

func (s Process) cacheKey() string { return "process:" + strconv.Itoa(s.PID) }

// GsymData is a raw in-memory Gsym index.
type GsymData struct {
	Data []byte
}

func (GsymData) isSource() {}

// Byte slices have no stable identity, so in-memory indices are parsed
// per call.
func (GsymData) cacheKey() string { return "" }

// GsymFile is a Gsym index on disk.
type GsymFile struct {
	Path string
}

func (GsymFile) isSource() {}

func (s GsymFile) cacheKey() string { return "gsym-file:" + s.Path }

func (s Elf) String() string      { return fmt.Sprintf("Elf(%s)", s.Path) }
func (s Kernel) String() string   { return fmt.Sprintf("Kernel(%s, %s)", s.KallsymsPath, s.KernelImagePath) }
func (s Process) String() string  { return fmt.Sprintf("Process(%d)", s.PID) }
func (s GsymData) String() string { return fmt.Sprintf("GsymData(%d bytes)", len(s.Data)) }
func (s GsymFile) String() string { return fmt.Sprintf("GsymFile(%s)", s.Path) }
