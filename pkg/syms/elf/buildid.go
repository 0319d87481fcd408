package elf

import (
	"bytes"
	"encoding/hex"
)

// Note types of the two build id flavors.
const (
	ntGnuBuildId uint32 = 3
	ntGoBuildId  uint32 = 4
)

// BuildId returns the identity of the binary: the GNU build id when
// present, the Go build id otherwise.
func (f *File) BuildId() *BuildId {
	if id := f.GnuBuildId(); id != nil {
		return id
	}
	return f.GoBuildId()
}

// GoBuildId extracts the id the Go linker stamps into every binary.
func (f *File) GoBuildId() *BuildId {
	desc := f.note(".note.go.buildid", "Go", ntGoBuildId)
	// Real Go build ids are slash separated action/content hash tuples;
	// anything shorter is a stub, e.g. "redacted" builds.
	if len(desc) < 40 || bytes.Count(desc, []byte(`/`)) < 2 {
		return nil
	}
	id := GoBuildId(string(desc))
	return &id
}

func (f *File) GnuBuildId() *BuildId {
	desc := f.note(".note.gnu.build-id", "GNU", ntGnuBuildId)
	// 8 is xxhash, for example in Container-Optimized OS
	if len(desc) != 20 && len(desc) != 8 {
		return nil
	}
	id := GnuBuildId(hex.EncodeToString(desc))
	return &id
}

// note reads the note section and returns its descriptor, nil unless the
// owner name and note type match. Notes are namesz/descsz/type words in
// the file's byte order followed by the 4-aligned name and descriptor.
func (f *File) note(section, owner string, typ uint32) []byte {
	sd, err := f.GetSectionData(section)
	if err != nil || sd == nil || len(sd.Data) < 12 {
		return nil
	}
	bo := f.ByteOrder
	namesz := int(bo.Uint32(sd.Data[0:]))
	descsz := int(bo.Uint32(sd.Data[4:]))
	if bo.Uint32(sd.Data[8:]) != typ || namesz <= 0 {
		return nil
	}
	nameEnd := 12 + (namesz+3)&^3
	if nameEnd+descsz > len(sd.Data) {
		return nil
	}
	name := sd.Data[12 : 12+namesz]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	if string(name) != owner {
		return nil
	}
	return sd.Data[nameEnd : nameEnd+descsz]
}
