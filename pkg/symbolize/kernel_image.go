package symbolize

import (
	"fmt"
	"os"

	"github.com/golang/glog"
	"golang.org/x/sys/unix"
)

// findKernelImage probes the well known locations of the running
// kernel's image. An empty result is not an error; the kernel composite
// can operate on the symbol table alone.
func findKernelImage() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		glog.V(2).Infof("Failed to read uname: %v", err)
		return ""
	}
	release := unix.ByteSliceToString(uts.Release[:])

	candidates := []string{
		fmt.Sprintf("/boot/vmlinux-%s", release),
		fmt.Sprintf("/usr/lib/debug/boot/vmlinux-%s", release),
		fmt.Sprintf("/usr/lib/debug/lib/modules/%s/vmlinux", release),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	glog.V(2).Infof("No kernel image found for release %s", release)
	return ""
}
