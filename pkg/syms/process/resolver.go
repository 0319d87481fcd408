// Package process resolves absolute addresses of a live (or recently
// inspected) process by mapping them onto the process memory map and
// delegating to a per-module ELF resolver.
package process

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/golang/glog"
	"github.com/vietanhduong/symbolize/pkg/proc"
	"github.com/vietanhduong/symbolize/pkg/syms"
	"golang.org/x/sys/unix"
)

// PIDSelf selects the calling process.
const PIDSelf = 0

// Resolver symbolizes absolute addresses of one process. Module tables
// are built lazily on first hit; the memory map itself is read once at
// construction.
type Resolver struct {
	pid     int
	rootfd  int
	opts    *syms.SymbolOptions
	modules []*ProcModule // sorted by start address

	// Module tables load lazily on first hit, so queries mutate state and
	// concurrent callers must be serialized.
	mu sync.Mutex
}

// NewResolver enumerates the executable mappings of pid and prepares one
// module per file backed mapping. pid PIDSelf means the calling process.
func NewResolver(pid int, opts *syms.SymbolOptions) (*Resolver, error) {
	if pid == PIDSelf {
		pid = unix.Getpid()
	}
	if opts == nil {
		opts = syms.DefaultSymbolOptions()
	}

	maps, err := proc.ParseMaps(pid)
	if err != nil {
		return nil, fmt.Errorf("enumerate process %d modules: %w", pid, err)
	}

	r := &Resolver{pid: pid, rootfd: -1, opts: opts}
	rootpath := proc.HostProcPath(strconv.Itoa(pid), "root")
	if r.rootfd, err = unix.Open(rootpath, unix.O_RDONLY, 0); err != nil {
		glog.V(2).Infof("Failed to open %s: %v", rootpath, err)
		r.rootfd = -1
	}

	for _, m := range maps {
		if m.Pathname == "" || m.EndAddr == 0 {
			continue
		}
		path := newModulePath(m.Pathname, pid, r.rootfd, m.Memfd)
		r.modules = append(r.modules, NewProcModule(m.Pathname, m, path, opts))
	}
	sort.Slice(r.modules, func(i, j int) bool {
		return r.modules[i].procmap.StartAddr < r.modules[j].procmap.StartAddr
	})
	return r, nil
}

func (r *Resolver) module(addr uint64) *ProcModule {
	i := sort.Search(len(r.modules), func(i int) bool {
		return r.modules[i].procmap.EndAddr > addr
	})
	if i >= len(r.modules) || !r.modules[i].contains(addr) {
		return nil
	}
	return r.modules[i]
}

func (r *Resolver) FindSyms(addr uint64) ([]syms.Sym, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.module(addr)
	if m == nil {
		return nil, nil
	}
	return m.findSyms(addr)
}

// FindAddr is not supported: modules are resolved by address, and a name
// carries no module hint. Per the resolver contract this is an empty
// result, not an error.
func (r *Resolver) FindAddr(string, *syms.FindAddrOpts) ([]syms.SymInfo, error) {
	return nil, nil
}

func (r *Resolver) FindLineInfo(addr uint64) (*syms.AddrLineInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.module(addr)
	if m == nil {
		return nil, nil
	}
	return m.findLineInfo(addr)
}

// AddrFileOff reports the offset of addr within its module's backing
// file. Anonymous and special mappings have no stable offset.
func (r *Resolver) AddrFileOff(addr uint64) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.module(addr)
	if m == nil {
		return 0, false
	}
	return m.addrFileOff(addr)
}

func (r *Resolver) FileName() string {
	return proc.HostProcPath(filepath.Join(strconv.Itoa(r.pid), "maps"))
}

// PID reports the resolved process id (never PIDSelf).
func (r *Resolver) PID() int { return r.pid }

func (r *Resolver) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.modules {
		m.Cleanup()
	}
	if r.rootfd >= 0 {
		unix.Close(r.rootfd)
		r.rootfd = -1
	}
}
