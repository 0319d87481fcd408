package process

import (
	delf "debug/elf"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/vietanhduong/symbolize/pkg/proc"
	"github.com/vietanhduong/symbolize/pkg/syms"
	"github.com/vietanhduong/symbolize/pkg/syms/elf"
)

type ProcModuleType string

const (
	UNKNOWN  ProcModuleType = "UNKNOWN"
	EXEC     ProcModuleType = "EXEC"
	SO       ProcModuleType = "SO"
	PERF_MAP ProcModuleType = "PERF_MAP"
	VDSO     ProcModuleType = "VDSO"
)

// ProcModule is one executable mapping of a process together with the
// lazily constructed resolver for its backing file. Addresses handed to
// it are process virtual addresses; the load bias is applied before
// delegating to the file level resolver.
type ProcModule struct {
	name    string
	loaded  bool
	typ     ProcModuleType
	res     *elf.Resolver
	path    *modulePath
	opts    *syms.SymbolOptions
	base    uint64
	procmap *proc.Map
}

func NewProcModule(name string, procmap *proc.Map, path *modulePath, opts *syms.SymbolOptions) *ProcModule {
	if opts == nil {
		opts = syms.DefaultSymbolOptions()
	}
	return &ProcModule{
		name:    name,
		path:    path,
		opts:    opts,
		procmap: procmap,
		typ:     classify(name, path),
	}
}

// classify determines the module type. Pseudo mappings never resolve
// through the filesystem, so they are recognized by name before probing
// the backing file.
func classify(name string, path *modulePath) ProcModuleType {
	switch {
	case isVDSO(name):
		return VDSO
	case isPerfMap(name):
		return PERF_MAP
	}
	return getElfType(path)
}

func (m *ProcModule) Cleanup() {
	if m.res != nil {
		m.res.Cleanup()
	}
	m.path.Close()
}

func (m *ProcModule) contains(addr uint64) bool { return m.procmap.Contains(addr) }

func (m *ProcModule) findSyms(addr uint64) ([]syms.Sym, error) {
	if !m.loaded {
		m.load()
	}
	if m.res == nil {
		return nil, nil
	}

	ret, err := m.res.FindSyms(addr - m.base)
	if err != nil {
		return nil, err
	}
	if len(ret) == 0 && m.res.IsDead() {
		// The backing file went away, e.g. the library was updated.
		// Reload once and retry.
		m.reload()
		if m.res == nil {
			return nil, nil
		}
		if ret, err = m.res.FindSyms(addr - m.base); err != nil {
			return nil, err
		}
	}
	for i := range ret {
		ret[i].Addr += m.base
		ret[i].Module = m.name
	}
	return ret, nil
}

func (m *ProcModule) findLineInfo(addr uint64) (*syms.AddrLineInfo, error) {
	if !m.loaded {
		m.load()
	}
	if m.res == nil {
		return nil, nil
	}
	return m.res.FindLineInfo(addr - m.base)
}

func (m *ProcModule) addrFileOff(addr uint64) (uint64, bool) {
	if !m.loaded {
		m.load()
	}
	if m.res == nil {
		return 0, false
	}
	return m.res.AddrFileOff(addr - m.base)
}

func (m *ProcModule) reload() {
	if m.res != nil {
		m.res.Cleanup()
		m.res = nil
	}
	m.loaded = false
	m.typ = classify(m.name, m.path)
	m.load()
}

func (m *ProcModule) findbase(mf *elf.File) bool {
	if mf.FileHeader.Type == delf.ET_EXEC {
		m.base = 0
		return true
	}
	for _, prog := range mf.Progs {
		if prog.Type == delf.PT_LOAD && (prog.Flags&delf.PF_X != 0) {
			if m.procmap.FileOffset == prog.Off {
				m.base = m.procmap.StartAddr - prog.Vaddr
				return true
			}
		}
	}
	return false
}

func (m *ProcModule) load() {
	if m.loaded || m.typ == UNKNOWN {
		return
	}
	m.loaded = true

	fpath := m.path.GetPath()
	switch m.typ {
	case VDSO:
		var err error
		if fpath, err = vdsoImagePath(); err != nil {
			glog.Warningf("Failed to locate vDSO image: %v", err)
			return
		}
	case PERF_MAP:
		if isValidPerfMap(fpath) {
			glog.Info("PERF_MAP is unsupported yet")
		}
		return
	case SO, EXEC:
	default:
		return
	}

	mf, err := elf.Open(fpath)
	if err != nil {
		glog.Errorf("Failed to open elf file %s: %v", fpath, err)
		return
	}
	if !m.findbase(mf) {
		glog.Warningf("Unable to determine base of elf path %s", fpath)
		mf.Close()
		return
	}

	target := fpath
	if m.opts.UseDebugFile {
		if debugfile := m.findDebugFile(mf); debugfile != "" {
			target = debugfile
		}
	}
	mf.Close()

	res, err := elf.NewResolver(target, &elf.SymbolOptions{
		DemangleOpts: m.opts.DemangleType.ToOptions(),
	})
	if err != nil {
		glog.Errorf("Failed to build elf resolver %s: %v", target, err)
		return
	}
	m.res = res
}

func (m *ProcModule) findDebugFile(mf *elf.File) string {
	id := mf.BuildId()
	if id == nil {
		id = &elf.BuildId{}
	}
	if debugfile := m.findDebugFileViaBuildId(*id); debugfile != "" {
		return debugfile
	}
	return m.findDebugFileViaLink(mf)
}

func (m *ProcModule) findDebugFileViaBuildId(id elf.BuildId) string {
	if len(id.Id) < 3 || !id.GNU() {
		return ""
	}
	debugfile := fmt.Sprintf("/usr/lib/debug/.build-id/%s/%s.debug", id.Id[:2], id.Id[2:])
	if _, err := os.Stat(debugfile); err == nil {
		return debugfile
	}
	return ""
}

func (m *ProcModule) findDebugFileViaLink(mf *elf.File) string {
	data, err := mf.GetSectionData(".gnu_debuglink")
	if err != nil || data == nil || len(data.Data) < 6 {
		return ""
	}
	debuglink := cstring(data.Data)

	dir := filepath.Dir(mf.FilePath())
	paths := []string{
		// /usr/bin/ls.debug
		filepath.Join(dir, debuglink),
		// /usr/bin/.debug/ls.debug
		filepath.Join(dir, ".debug", debuglink),
		// /usr/lib/debug/usr/bin/ls.debug
		filepath.Join("/usr/lib/debug", dir, debuglink),
	}
	for _, p := range paths {
		if _, err = os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func getElfType(path *modulePath) ProcModuleType {
	mf, err := elf.Open(path.GetPath())
	if mf == nil {
		glog.V(3).Infof("Failed to open elf file %s: %v", path.GetPath(), err)
		return UNKNOWN
	}
	defer mf.Close()
	if mf.Type == delf.ET_EXEC {
		return EXEC
	} else if mf.Type == delf.ET_DYN {
		return SO
	}
	return UNKNOWN
}

func cstring(b []byte) string {
	var i int
	for ; i < len(b); i++ {
		if b[i] == 0 {
			break
		}
	}
	return string(b[:i])
}
