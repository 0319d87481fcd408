package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/samber/lo"
	"github.com/vietanhduong/symbolize/pkg/symbolize"
)

func main() {
	var pid int
	var elfPath, gsymPath, kallsyms, kernelImage string
	var kernel bool
	flag.IntVar(&pid, "pid", -1, "Symbolize against the process with this PID")
	flag.StringVar(&elfPath, "elf", "", "Symbolize against this ELF file")
	flag.StringVar(&gsymPath, "gsym", "", "Symbolize against this Gsym file")
	flag.BoolVar(&kernel, "kernel", false, "Symbolize kernel addresses")
	flag.StringVar(&kallsyms, "kallsyms", "", "Path to a kallsyms copy (default /proc/kallsyms)")
	flag.StringVar(&kernelImage, "kernel-image", "", "Path to the kernel image (default discovered in /boot)")
	flag.Parse()

	src, err := buildSource(pid, elfPath, gsymPath, kernel, kallsyms, kernelImage)
	if err != nil {
		glog.Errorf("%v", err)
		os.Exit(1)
	}

	addrs := lo.Map(flag.Args(), func(arg string, _ int) uint64 {
		addr, err := strconv.ParseUint(strings.TrimPrefix(arg, "0x"), 16, 64)
		if err != nil {
			glog.Errorf("Invalid address %q: %v", arg, err)
			os.Exit(1)
		}
		return addr
	})
	if len(addrs) == 0 {
		glog.Errorf("No addresses to symbolize")
		os.Exit(1)
	}

	s, err := symbolize.New()
	if err != nil {
		glog.Errorf("Failed to create symbolizer: %v", err)
		os.Exit(1)
	}

	results, err := s.Symbolize(src, addrs)
	if err != nil {
		glog.Errorf("Failed to symbolize: %v", err)
		os.Exit(1)
	}

	for i, matches := range results {
		if len(matches) == 0 {
			fmt.Printf("0x%016x: <no-symbols>\n", addrs[i])
			continue
		}
		for _, m := range matches {
			line := fmt.Sprintf("0x%016x %s @ 0x%x+0x%x", addrs[i], m.Symbol, m.Addr, m.Offset)
			if m.Path != "" {
				line += fmt.Sprintf(" %s:%d", m.Path, m.Line)
			}
			fmt.Println(line)
		}
	}
}

func buildSource(pid int, elfPath, gsymPath string, kernel bool, kallsyms, kernelImage string) (symbolize.Source, error) {
	switch {
	case pid >= 0:
		return symbolize.Process{PID: pid}, nil
	case elfPath != "":
		return symbolize.Elf{Path: elfPath}, nil
	case gsymPath != "":
		return symbolize.GsymFile{Path: gsymPath}, nil
	case kernel:
		return symbolize.Kernel{KallsymsPath: kallsyms, KernelImagePath: kernelImage}, nil
	}
	return nil, fmt.Errorf("one of -pid, -elf, -gsym or -kernel is required")
}
