package fatfs

import (
	"encoding/binary"
	"strings"

	"github.com/Marvenlee/cheviot-filesystems/internal/fserrno"
)

// DirEntrySize is the fixed size of one classic 8.3 directory record
// (original_source/fatfs/fat.h struct FatDirEntry / FAT_DIRENTRY_SZ).
const DirEntrySize = 32

const (
	direntFree    = 0x00
	direntDeleted = 0xe5
)

const (
	attrReadOnly  = 0x01
	attrHidden    = 0x02
	attrSystem    = 0x04
	attrVolumeID  = 0x08
	attrDirectory = 0x10
	attrArchive   = 0x20
	attrLongName  = attrReadOnly | attrHidden | attrSystem | attrVolumeID
)

// dirEntry is the decoded form of one 32-byte directory record.
type dirEntry struct {
	name      [8]byte
	ext       [3]byte
	attr      uint8
	firstClusHi uint16
	firstClusLo uint16
	size      uint32
}

func decodeDirEntry(rec []byte) dirEntry {
	var e dirEntry
	copy(e.name[:], rec[0:8])
	copy(e.ext[:], rec[8:11])
	e.attr = rec[11]
	e.firstClusHi = binary.LittleEndian.Uint16(rec[20:22])
	e.firstClusLo = binary.LittleEndian.Uint16(rec[26:28])
	e.size = binary.LittleEndian.Uint32(rec[28:32])
	return e
}

func (e dirEntry) encode(rec []byte) {
	copy(rec[0:8], e.name[:])
	copy(rec[8:11], e.ext[:])
	rec[11] = e.attr
	binary.LittleEndian.PutUint16(rec[20:22], e.firstClusHi)
	binary.LittleEndian.PutUint16(rec[26:28], e.firstClusLo)
	binary.LittleEndian.PutUint32(rec[28:32], e.size)
}

func (e dirEntry) isFree() bool    { return e.name[0] == direntFree }
func (e dirEntry) isDeleted() bool { return e.name[0] == direntDeleted }
func (e dirEntry) isLFN() bool     { return e.attr&attrLongName == attrLongName }
func (e dirEntry) isDir() bool     { return e.attr&attrDirectory != 0 }

// firstCluster reassembles the split hi/lo cluster fields, normalizing
// width-specific EOC/bad markers (original_source/fatfs/cluster.c
// GetFirstCluster).
func (e dirEntry) firstCluster(v *Volume) uint32 {
	var raw uint32
	if v.Derived.Type == FAT32 {
		raw = uint32(e.firstClusHi)<<16 | uint32(e.firstClusLo)
	} else {
		raw = uint32(e.firstClusLo)
	}

	switch v.Derived.Type {
	case FAT12:
		return v.normalizeFAT12(raw)
	case FAT16:
		return v.normalizeFAT16(raw)
	default:
		return v.normalizeFAT32(raw)
	}
}

// setFirstCluster writes cluster back into the split hi/lo fields,
// translating the unified sentinels to their width-specific encoding
// (original_source/fatfs/cluster.c SetFirstCluster).
func (e *dirEntry) setFirstCluster(v *Volume, cluster uint32) {
	switch v.Derived.Type {
	case FAT12:
		if cluster == ClusterEOC {
			cluster = fat12EOCMax
		} else if cluster == ClusterBad {
			cluster = fat12Bad
		}
		e.firstClusHi = 0
		e.firstClusLo = uint16(cluster & 0x0fff)
	case FAT16:
		if cluster == ClusterEOC {
			cluster = 0xffff
		} else if cluster == ClusterBad {
			cluster = fat16Bad
		}
		e.firstClusHi = 0
		e.firstClusLo = uint16(cluster & 0xffff)
	default:
		if cluster == ClusterEOC {
			cluster = fat32EOCMax
		} else if cluster == ClusterBad {
			cluster = fat32Bad
		}
		e.firstClusHi = uint16((cluster >> 16) & 0xffff)
		e.firstClusLo = uint16(cluster & 0xffff)
	}
}

// toName renders the packed 8.3 fields as a lowercase "name.ext" string
// (original_source/fatfs/dir.c FatDirEntryToASCIIZ).
func (e dirEntry) toName() string {
	var sb strings.Builder
	for i := 0; i < 8 && e.name[i] != ' '; i++ {
		sb.WriteByte(toLowerASCII(e.name[i]))
	}
	if e.ext[0] != ' ' {
		sb.WriteByte('.')
	}
	for i := 0; i < 3 && e.ext[i] != ' '; i++ {
		sb.WriteByte(toLowerASCII(e.ext[i]))
	}
	return sb.String()
}

func toLowerASCII(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}

// nameToDirEntry packs name into the fixed 8.3 fields, rejecting
// anything that isn't a valid DOS short name
// (original_source/fatfs/dir.c FatASCIIZToDirEntry/FatIsDosName). Long
// filenames are out of scope per spec.md's Non-goals, so names that
// don't fit 8.3 are rejected with ENAMETOOLONG rather than truncated.
func nameToDirEntry(name string) (dirEntry, int32) {
	var e dirEntry
	for i := range e.name {
		e.name[i] = ' '
	}
	for i := range e.ext {
		e.ext[i] = ' '
	}

	base, ext, ok := splitDosName(name)
	if !ok {
		return dirEntry{}, int32(fserrno.ENAMETOOLONG)
	}
	copy(e.name[:], []byte(strings.ToUpper(base)))
	copy(e.ext[:], []byte(strings.ToUpper(ext)))
	return e, 0
}

// splitDosName validates name against the 8.3 charset and length
// limits, returning its base and extension uppercased.
func splitDosName(name string) (base, ext string, ok bool) {
	if name == "" || name == "." || name == ".." {
		return "", "", false
	}

	dot := strings.LastIndexByte(name, '.')
	base, ext = name, ""
	if dot >= 0 {
		base, ext = name[:dot], name[dot+1:]
	}
	if len(base) == 0 || len(base) > 8 || len(ext) > 3 {
		return "", "", false
	}
	if strings.IndexByte(base, '.') >= 0 || strings.IndexByte(ext, '.') >= 0 {
		return "", "", false
	}
	for _, c := range base + ext {
		if !isDosChar(byte(c)) {
			return "", "", false
		}
	}
	return base, ext, true
}

// dotDirEntry builds the "." or ".." self/parent-reference record a new
// directory's own first cluster holds (original_source/fatfs/main.c
// fatMkDir). Unlike an ordinary file name, "." and ".." are packed
// directly rather than through nameToDirEntry, which rejects them as
// invalid 8.3 names.
func dotDirEntry(name string) dirEntry {
	var e dirEntry
	for i := range e.name {
		e.name[i] = ' '
	}
	for i := range e.ext {
		e.ext[i] = ' '
	}
	copy(e.name[:], name)
	e.attr = attrDirectory
	return e
}

func isDosChar(c byte) bool {
	if c >= 'a' && c <= 'z' {
		return true
	}
	if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
		return true
	}
	switch c {
	case '$', '%', '\'', '-', '_', '@', '~', '`', '!', '(', ')', '{', '}', '^', '#', '&':
		return true
	}
	return false
}
