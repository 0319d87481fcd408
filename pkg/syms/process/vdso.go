package process

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/golang/glog"
	"github.com/vietanhduong/symbolize/pkg/proc"
	"golang.org/x/sys/unix"
)

// The vDSO has no backing file, so its content is dumped from the calling
// process memory into a temp file once and reused. It is identical in
// every process, so dumping our own copy is enough.
type vdsoStatus struct {
	image string
	err   error
}

var (
	vstatus  *vdsoStatus
	vdsoOnce sync.Once
)

func vdsoImagePath() (string, error) {
	vdsoOnce.Do(func() {
		vstatus = &vdsoStatus{}
		vstatus.image, vstatus.err = findVDSO()
		runtime.SetFinalizer(vstatus, (*vdsoStatus).Cleanup)
	})
	if vstatus.err != nil {
		return "", fmt.Errorf("vdso image: %w", vstatus.err)
	}
	glog.V(5).Infof("Loaded vDSO (image=%s)", vstatus.image)
	return vstatus.image, nil
}

func findVDSO() (string, error) {
	pid := unix.Getpid()
	maps, err := proc.ParseMaps(pid)
	if err != nil {
		return "", fmt.Errorf("parse proc map pid %d: %w", pid, err)
	}

	for _, m := range maps {
		if image := buildVDSOImage(m, pid); image != "" {
			return image, nil
		}
	}
	return "", fmt.Errorf("unable to create vDSO image")
}

func buildVDSOImage(procmap *proc.Map, pid int) string {
	if !isVDSO(procmap.Pathname) {
		return ""
	}

	size := procmap.EndAddr - procmap.StartAddr
	procmem := proc.HostProcPath(fmt.Sprintf("%d/mem", pid))
	mem, err := os.OpenFile(procmem, os.O_RDONLY, 0)
	if err != nil {
		glog.Warningf("Build vDSO Image: Failed to open file %s: %v", procmem, err)
		return ""
	}
	defer mem.Close()

	if _, err = mem.Seek(int64(procmap.StartAddr), 0); err != nil {
		glog.Warningf("Build vDSO Image: Failed to seek to address: %v", err)
		return ""
	}

	buf := make([]byte, size)
	if _, err = mem.Read(buf); err != nil {
		glog.Warningf("Build vDSO Image: Failed read mem: %v", err)
		return ""
	}
	tmpfile, err := os.CreateTemp("", fmt.Sprintf("symbolize_%d_vdso_image_*", pid))
	if err != nil {
		glog.Warningf("Build vDSO Image: Failed to create vdso temp file: %v", err)
		return ""
	}
	defer tmpfile.Close()

	if _, err = tmpfile.Write(buf); err != nil {
		glog.Errorf("Failed to write to vDSO image: %v", err)
	}
	return tmpfile.Name()
}

func (s *vdsoStatus) Cleanup() {
	if s == nil || s.image == "" {
		return
	}
	glog.Infof("Remove vDSO image: %s", s.image)
	os.Remove(s.image)
	s.err = nil
}
