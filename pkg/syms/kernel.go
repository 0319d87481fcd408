package syms

import "fmt"

// KernelResolver presents one Resolver view over two individually
// incomplete kernel symbol sources: a flat kernel symbol table (fast,
// always has names, never line info) and the kernel image ELF (may carry
// debug line info, may be absent entirely).
//
// The composite owns both children exclusively for its lifetime.
type KernelResolver struct {
	ksym  Resolver
	image Resolver
}

// NewKernelResolver builds a kernel composite from an optional symbol
// table resolver and an optional kernel image ELF resolver. Either may be
// nil, but not both: a kernel resolver with no backing data is
// meaningless and fails with ErrNoSource.
func NewKernelResolver(ksym, image Resolver) (*KernelResolver, error) {
	if ksym == nil && image == nil {
		return nil, fmt.Errorf("create kernel resolver: neither symbol table nor kernel image are present: %w", ErrNoSource)
	}
	return &KernelResolver{ksym: ksym, image: image}, nil
}

// FindSyms uses the symbol table exclusively when present. The kernel
// image symbol table serves names only in its absence.
func (k *KernelResolver) FindSyms(addr uint64) ([]Sym, error) {
	if k.ksym != nil {
		return k.ksym.FindSyms(addr)
	}
	return k.image.FindSyms(addr)
}

// FindAddr is not offered for the kernel: reverse lookup always yields an
// empty result, never an error.
func (k *KernelResolver) FindAddr(string, *FindAddrOpts) ([]SymInfo, error) {
	return nil, nil
}

// FindLineInfo delegates to the kernel image resolver, the only child
// that can carry debug line info. Without an image it reports no info.
func (k *KernelResolver) FindLineInfo(addr uint64) (*AddrLineInfo, error) {
	if k.image != nil {
		return k.image.FindLineInfo(addr)
	}
	return nil, nil
}

// AddrFileOff always reports no offset: kernel addresses have no file
// offset concept here.
func (k *KernelResolver) AddrFileOff(uint64) (uint64, bool) { return 0, false }

func (k *KernelResolver) FileName() string {
	if k.ksym != nil {
		return k.ksym.FileName()
	}
	return k.image.FileName()
}

// String reports the backing file of each configured child, an empty
// string where a child is absent.
func (k *KernelResolver) String() string {
	var ksymFile, imageFile string
	if k.ksym != nil {
		ksymFile = k.ksym.FileName()
	}
	if k.image != nil {
		imageFile = k.image.FileName()
	}
	return fmt.Sprintf("KernelResolver %s %s", ksymFile, imageFile)
}
