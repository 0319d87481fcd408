package proc

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/golang/glog"
)

// ParseMaps enumerates the executable mappings of a process. Perf map
// candidates are appended even when the files do not exist yet; callers
// probe them lazily.
func ParseMaps(pid int) ([]*Map, error) {
	mapfile := HostProcPath(strconv.Itoa(pid), "maps")
	f, err := os.Open(mapfile)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", mapfile, err)
	}
	defer f.Close()

	ret, err := parseMaps(f, pid)
	if err != nil {
		glog.Warningf("Failed to parse proc map %s: %v", mapfile, err)
	}

	if mappath := FindPerfMapPath(pid); mappath != "" {
		ret = append(ret, &Map{Pathname: mappath})
	}

	if mappath := fmt.Sprintf("/tmp/perf-%d.map", pid); len(mappath) < 4096 &&
		!containsPath(ret, mappath) {
		ret = append(ret, &Map{Pathname: mappath})
	}
	return ret, nil
}

// FindPerfMapPath locates the perf map file of a process through its
// root link, honoring PID namespaces.
func FindPerfMapPath(pid int) string {
	rootpath := HostProcPath(fmt.Sprintf("%d/root", pid))
	target, err := os.Readlink(rootpath)
	if err != nil {
		return ""
	}
	if nstgid := FindPerfMapNStgid(pid); nstgid != -1 {
		return filepath.Join(target, fmt.Sprintf("tmp/perf-%d.map", nstgid))
	}
	return ""
}

func FindPerfMapNStgid(pid int) int {
	nstgid := -1
	statuspath := HostProcPath(fmt.Sprintf("%d/status", pid))
	f, err := os.Open(statuspath)
	if err != nil {
		return nstgid
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		// check Tgid line first in case CONFIG_PID_NS is off
		if strings.HasPrefix(line, "Tgid:") {
			nstgid, _ = strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Tgid:")))
		}
		// PID namespaces can be nested -- last number is innermost PID
		if strings.HasPrefix(line, "NStgid:") {
			nstgid, _ = strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "NStgid:")))
		}
	}
	if err = scanner.Err(); err != nil {
		return -1
	}
	return nstgid
}

func parseMaps(r io.Reader, pid int) ([]*Map, error) {
	var ret []*Map
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		m, perm, err := parseMapLine(line)
		if err != nil {
			return ret, err
		}

		if len(perm) != 4 || perm[2] != 'x' { // executable only
			continue
		}
		if isAnonMapping(m.Pathname) {
			continue
		}

		var resolved string
		if strings.Contains(m.Pathname, "/memfd:") {
			if resolved = findMemFdPath(pid, m.Inode); resolved != "" {
				m.Memfd = true
			}
		}

		if resolved != "" {
			m.Pathname = resolved
		}
		ret = append(ret, m)
	}
	return ret, scanner.Err()
}

// parseMapLine decodes one maps line:
// "start-end perms offset dev inode [pathname]". The pathname column is
// optional; anonymous executable mappings simply leave it empty.
func parseMapLine(line string) (*Map, string, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return nil, "", fmt.Errorf("unexpected line in maps: %q", line)
	}

	start, end, ok := strings.Cut(fields[0], "-")
	if !ok {
		return nil, "", fmt.Errorf("unexpected address range %q", fields[0])
	}
	major, minor, ok := strings.Cut(fields[3], ":")
	if !ok {
		return nil, "", fmt.Errorf("unexpected device %q", fields[3])
	}

	var m Map
	var err error
	if m.StartAddr, err = strconv.ParseUint(start, 16, 64); err != nil {
		return nil, "", fmt.Errorf("parse start address %q: %w", start, err)
	}
	if m.EndAddr, err = strconv.ParseUint(end, 16, 64); err != nil {
		return nil, "", fmt.Errorf("parse end address %q: %w", end, err)
	}
	if m.FileOffset, err = strconv.ParseUint(fields[2], 16, 64); err != nil {
		return nil, "", fmt.Errorf("parse file offset %q: %w", fields[2], err)
	}
	if m.DevMajor, err = strconv.ParseUint(major, 16, 64); err != nil {
		return nil, "", fmt.Errorf("parse device major %q: %w", major, err)
	}
	if m.DevMinor, err = strconv.ParseUint(minor, 16, 64); err != nil {
		return nil, "", fmt.Errorf("parse device minor %q: %w", minor, err)
	}
	if m.Inode, err = strconv.ParseUint(fields[4], 10, 64); err != nil {
		return nil, "", fmt.Errorf("parse inode %q: %w", fields[4], err)
	}
	if len(fields) > 5 {
		m.Pathname = strings.Join(fields[5:], " ")
	}
	return &m, fields[1], nil
}

func isAnonMapping(mapname string) bool {
	return mapname != "" && (strings.HasPrefix(mapname, "//anon") ||
		strings.HasPrefix(mapname, "/dev/zero") ||
		strings.HasPrefix(mapname, "/anon_hugepage") ||
		strings.HasPrefix(mapname, "[stack") ||
		strings.HasPrefix(mapname, "/SYSV") ||
		strings.HasPrefix(mapname, "[heap]") ||
		strings.HasPrefix(mapname, "[vsyscall]"))
}

func findMemFdPath(pid int, inode uint64) string {
	var ret string
	fdpath := HostProcPath(fmt.Sprintf("%d/fd", pid))
	err := filepath.Walk(fdpath, func(path string, info fs.FileInfo, err error) error {
		if err != nil || ret != "" {
			return nil
		}
		stats, ok := info.Sys().(*syscall.Stat_t)
		if !ok {
			return nil
		}
		if stats.Ino == inode {
			ret = path
		}
		return nil
	})
	if err != nil {
		glog.Warningf("Failed to walk at dir %s: %v", fdpath, err)
	}
	return ret
}

func containsPath(maps []*Map, path string) bool {
	for _, m := range maps {
		if path == m.Pathname {
			return true
		}
	}
	return false
}
