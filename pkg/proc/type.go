package proc

import "fmt"

// Map is one executable mapping parsed from /proc/<pid>/maps.
type Map struct {
	Pathname   string
	StartAddr  uint64
	EndAddr    uint64
	FileOffset uint64
	DevMajor   uint64
	DevMinor   uint64
	Inode      uint64
	Memfd      bool
}

func (m *Map) String() string {
	if m == nil {
		return ""
	}
	return fmt.Sprintf("%s 0x%016x-0x%016x 0x%016x %x:%x %d %t",
		m.Pathname,
		m.StartAddr,
		m.EndAddr,
		m.FileOffset,
		m.DevMajor,
		m.DevMinor,
		m.Inode,
		m.Memfd)
}

// Contains reports whether addr falls inside the mapped range.
func (m *Map) Contains(addr uint64) bool {
	return addr >= m.StartAddr && addr < m.EndAddr
}
