package fatfs

import (
	"github.com/Marvenlee/cheviot-filesystems/internal/fserrno"
)

// dirRead decodes the index'th directory slot of n, returning its
// absolute sector and byte offset alongside the decoded entry
// (original_source/fatfs/dir.c fat_dir_read). The FAT12/16 root
// directory lives in a fixed pre-data-area region with no cluster
// chain of its own; every other directory (including the FAT32 root)
// is walked via the cluster chain like a regular file.
func (v *Volume) dirRead(n *node, index uint32) (dirEntry, uint32, uint32, bool) {
	if n.isRoot && v.Derived.Type != FAT32 {
		if index >= uint32(v.BPB.RootEntriesCnt) {
			return dirEntry{}, 0, 0, false
		}
		byteOff := index * DirEntrySize
		sector := v.Derived.PartitionStartSector + uint32(v.BPB.ReservedSectorsCnt) +
			uint32(v.BPB.FATCount)*v.Derived.SectorsPerFAT + byteOff/SectorSize
		secOff := byteOff % SectorSize

		buf := v.readSector(sector)
		return decodeDirEntry(buf.Data[secOff : secOff+DirEntrySize]), sector, secOff, true
	}

	byteOff := index * DirEntrySize
	cluster, ok := v.findCluster(n, byteOff)
	if !ok {
		return dirEntry{}, 0, 0, false
	}
	clusterOff := byteOff % v.clusterSize()
	sector := v.clusterToSector(cluster) + clusterOff/SectorSize
	secOff := byteOff % SectorSize

	buf := v.readSector(sector)
	return decodeDirEntry(buf.Data[secOff : secOff+DirEntrySize]), sector, secOff, true
}

// dirLookup scans n's entries for name, returning the matching node
// (allocated or found in-core) on success
// (original_source/fatfs/lookup.c lookup).
func (v *Volume) dirLookup(n *node, name string) (*node, int32) {
	for index := uint32(0); ; index++ {
		d, sector, offset, ok := v.dirRead(n, index)
		if !ok {
			return nil, int32(fserrno.ENOENT)
		}
		if d.isFree() {
			return nil, int32(fserrno.ENOENT)
		}
		if d.isDeleted() || d.isLFN() {
			continue
		}
		if d.toName() != name {
			continue
		}

		ino := dirSlotInode(sector, offset)
		if cached := v.nodes.find(ino); cached != nil {
			return cached, 0
		}
		return v.nodes.alloc(d, sector, offset), 0
	}
}

// dirCreate finds (or makes, by extending the directory with a new
// cluster) a free or deleted slot in parent and writes d into it
// (original_source/fatfs/dir.c FatCreateDirEntry).
func (v *Volume) dirCreate(parent *node, d dirEntry) (sector, offset uint32, ok bool) {
	if parent.isRoot && v.Derived.Type != FAT32 {
		for index := uint32(0); index < uint32(v.BPB.RootEntriesCnt); index++ {
			cur, sec, off, readOK := v.dirRead(parent, index)
			if !readOK {
				return 0, 0, false
			}
			if cur.isFree() || cur.isDeleted() {
				v.writeDirEntry(d, sec, off)
				return sec, off, true
			}
		}
		return 0, 0, false
	}

	for index := uint32(0); ; index++ {
		cur, sec, off, readOK := v.dirRead(parent, index)
		if !readOK {
			break
		}
		if cur.isFree() || cur.isDeleted() {
			v.writeDirEntry(d, sec, off)
			return sec, off, true
		}
	}

	cluster, ok := v.appendCluster(parent)
	if !ok {
		return 0, 0, false
	}
	v.clearCluster(cluster)

	sector = v.clusterToSector(cluster)
	v.writeDirEntry(d, sector, 0)
	return sector, 0, true
}

func (v *Volume) writeDirEntry(d dirEntry, sector, offset uint32) {
	buf := v.readSector(sector)
	d.encode(buf.Data[offset : offset+DirEntrySize])
	v.Cache.MarkDirty(buf)
}

// dirDelete marks the slot at (sector, offset) deleted
// (original_source/fatfs/dir.c FatDeleteDirEntry).
func (v *Volume) dirDelete(sector, offset uint32) {
	buf := v.readSector(sector)
	buf.Data[offset] = direntDeleted
	v.Cache.MarkDirty(buf)
}

// isDirEmpty reports whether n holds only "." and ".." (or nothing)
// (original_source/fatfs/dir.c IsDirEmpty).
func (v *Volume) isDirEmpty(n *node) bool {
	for index := uint32(0); ; index++ {
		d, _, _, ok := v.dirRead(n, index)
		if !ok {
			return true
		}
		if d.isFree() {
			return true
		}
		if d.isDeleted() || d.attr&attrVolumeID != 0 {
			continue
		}
		name := d.toName()
		if name != "." && name != ".." {
			return false
		}
	}
}
