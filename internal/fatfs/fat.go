package fatfs

import (
	"encoding/binary"

	"github.com/Marvenlee/cheviot-filesystems/internal/blockcache"
)

// Cluster values, unified across FAT widths into one sentinel space
// (original_source/fatfs/fat.h's CLUSTER_* constants) so the rest of
// the package never branches on FatType to interpret a cluster number.
const (
	ClusterFree    uint32 = 0x00000000
	ClusterAllocMin uint32 = 0x00000001
	ClusterAllocMax uint32 = 0x0ffffff6
	ClusterBad     uint32 = 0x0ffffff7
	ClusterEOC     uint32 = 0x0fffffff
)

const (
	fat12EOCMin, fat12EOCMax, fat12Bad = 0x0ff8, 0x0fff, 0x0ff7
	fat16EOCMin, fat16Bad              = 0xfff8, 0xfff7
	fat32EOCMin, fat32EOCMax, fat32Bad = 0x0ffffff8, 0x0fffffff, 0x0ffffff7
)

// readFATEntry reads cluster's entry from the first FAT copy,
// normalizing width-specific EOC/bad markers to the unified sentinels
// above (original_source/fatfs/cluster.c ReadFATEntry).
func (v *Volume) readFATEntry(cluster uint32) uint32 {
	switch v.Derived.Type {
	case FAT12:
		fatOffset := cluster + cluster/2
		sector, secOff := v.fatSectorOffset(fatOffset)
		buf := v.readSector(sector)
		word := binary.LittleEndian.Uint16(buf.Data[secOff : secOff+2])
		if cluster%2 == 1 {
			word >>= 4
		} else {
			word &= 0x0fff
		}
		return v.normalizeFAT12(uint32(word))

	case FAT16:
		fatOffset := cluster * 2
		sector, secOff := v.fatSectorOffset(fatOffset)
		buf := v.readSector(sector)
		word := binary.LittleEndian.Uint16(buf.Data[secOff : secOff+2])
		return v.normalizeFAT16(uint32(word))

	default: // FAT32
		fatOffset := cluster * 4
		sector, secOff := v.fatSectorOffset(fatOffset)
		buf := v.readSector(sector)
		long := binary.LittleEndian.Uint32(buf.Data[secOff : secOff+4])
		return v.normalizeFAT32(long & 0x0fffffff)
	}
}

func (v *Volume) fatSectorOffset(fatByteOffset uint32) (sector uint32, secOff uint32) {
	sector = v.Derived.PartitionStartSector + uint32(v.BPB.ReservedSectorsCnt) + fatByteOffset/SectorSize
	secOff = fatByteOffset % SectorSize
	return
}

func (v *Volume) normalizeFAT12(w uint32) uint32 {
	switch {
	case w >= fat12EOCMin && w <= fat12EOCMax:
		return ClusterEOC
	case w == fat12Bad:
		return ClusterBad
	default:
		return w
	}
}

func (v *Volume) normalizeFAT16(w uint32) uint32 {
	switch {
	case w >= fat16EOCMin:
		return ClusterEOC
	case w == fat16Bad:
		return ClusterBad
	default:
		return w
	}
}

func (v *Volume) normalizeFAT32(w uint32) uint32 {
	switch {
	case w >= fat32EOCMin && w <= fat32EOCMax:
		return ClusterEOC
	case w == fat32Bad:
		return ClusterBad
	default:
		return w
	}
}

// writeFATEntry writes value into cluster's entry across every FAT
// copy (original_source/fatfs/cluster.c WriteFATEntry writes to every
// fat_cnt copy so they stay in sync; a read-modify-write is needed for
// FAT12 since two clusters share each 3-byte pair).
func (v *Volume) writeFATEntry(cluster uint32, value uint32) {
	for f := uint8(0); f < v.BPB.FATCount; f++ {
		switch v.Derived.Type {
		case FAT12:
			wireValue := value
			if value == ClusterEOC {
				wireValue = fat12EOCMax
			} else if value == ClusterBad {
				wireValue = fat12Bad
			}

			fatOffset := cluster + cluster/2
			sector, secOff := v.fatFATSectorOffset(fatOffset, f)
			buf := v.readSector(sector)
			word := binary.LittleEndian.Uint16(buf.Data[secOff : secOff+2])
			if cluster%2 == 1 {
				word = uint16((wireValue<<4)&0xfff0) | (word & 0x000f)
			} else {
				word = uint16(wireValue&0x0fff) | (word & 0xf000)
			}
			binary.LittleEndian.PutUint16(buf.Data[secOff:secOff+2], word)
			v.Cache.MarkDirty(buf)

		case FAT16:
			wireValue := value
			if value == ClusterEOC {
				wireValue = 0xffff
			} else if value == ClusterBad {
				wireValue = fat16Bad
			}

			fatOffset := cluster * 2
			sector, secOff := v.fatFATSectorOffset(fatOffset, f)
			buf := v.readSector(sector)
			binary.LittleEndian.PutUint16(buf.Data[secOff:secOff+2], uint16(wireValue))
			v.Cache.MarkDirty(buf)

		default: // FAT32
			wireValue := value
			if value == ClusterEOC {
				wireValue = fat32EOCMax
			} else if value == ClusterBad {
				wireValue = fat32Bad
			}

			fatOffset := cluster * 4
			sector, secOff := v.fatFATSectorOffset(fatOffset, f)
			buf := v.readSector(sector)
			existing := binary.LittleEndian.Uint32(buf.Data[secOff : secOff+4])
			packed := (wireValue & 0x0fffffff) | (existing & 0xf0000000)
			binary.LittleEndian.PutUint32(buf.Data[secOff:secOff+4], packed)
			v.Cache.MarkDirty(buf)
		}
	}
}

func (v *Volume) fatFATSectorOffset(fatByteOffset uint32, fatCopy uint8) (sector uint32, secOff uint32) {
	sector = v.Derived.PartitionStartSector + uint32(v.BPB.ReservedSectorsCnt) +
		fatByteOffset/SectorSize + uint32(fatCopy)*v.Derived.SectorsPerFAT
	secOff = fatByteOffset % SectorSize
	return
}

// clusterToSector converts a data cluster number to its first
// absolute sector (original_source/fatfs/cluster.c ClusterToSector).
func (v *Volume) clusterToSector(cluster uint32) uint32 {
	return v.Derived.PartitionStartSector + v.Derived.FirstDataSector +
		(cluster-2)*uint32(v.BPB.SectorsPerCluster)
}

// clusterSize is the size in bytes of one cluster.
func (v *Volume) clusterSize() uint32 {
	return uint32(v.BPB.SectorsPerCluster) * SectorSize
}

// findCluster walks the cluster chain starting at n's first cluster
// (or the FAT32 root cluster, for the root directory) to the cluster
// covering byte offset (original_source/fatfs/cluster.c FindCluster).
func (v *Volume) findCluster(n *node, offset uint32) (uint32, bool) {
	clusterSize := v.clusterSize()
	target := (offset / clusterSize) * clusterSize

	var cluster uint32
	if n.isRoot && v.Derived.Type == FAT32 {
		cluster = v.BPB.RootCluster
	} else {
		cluster = n.firstCluster()
	}

	var walked uint32
	for walked < target {
		if cluster < ClusterAllocMin || cluster > ClusterAllocMax {
			return 0, false
		}
		cluster = v.readFATEntry(cluster)
		walked += clusterSize
	}
	if cluster < ClusterAllocMin || cluster > ClusterAllocMax {
		return 0, false
	}
	return cluster, true
}

// findLastCluster walks to the end of n's cluster chain
// (original_source/fatfs/cluster.c FindLastCluster). Returns
// ClusterEOC, true for an empty file.
func (v *Volume) findLastCluster(n *node) (uint32, bool) {
	first := n.firstCluster()
	if first == ClusterEOC {
		return ClusterEOC, true
	}

	cluster := first
	for {
		next := v.readFATEntry(cluster)
		if next < ClusterAllocMin || next > ClusterAllocMax {
			return cluster, true
		}
		cluster = next
	}
}

// findFreeCluster scans the FAT linearly from the last allocation
// point, wrapping around, for a CLUSTER_FREE entry
// (original_source/fatfs/cluster.c FindFreeCluster).
func (v *Volume) findFreeCluster() (uint32, bool) {
	for _, rng := range [2][2]uint32{{v.searchCluster, v.Derived.ClusterCount}, {2, v.searchCluster}} {
		for c := rng[0]; c < rng[1]; c++ {
			if v.readFATEntry(c) == ClusterFree {
				v.writeFATEntry(c, ClusterEOC)
				v.searchCluster = c
				return c, true
			}
		}
	}
	return 0, false
}

// appendCluster extends n's chain by one cluster, updating the
// dirent's first-cluster field if the file had none
// (original_source/fatfs/cluster.c AppendCluster).
func (v *Volume) appendCluster(n *node) (uint32, bool) {
	last, ok := v.findLastCluster(n)
	if !ok {
		return 0, false
	}
	cluster, ok := v.findFreeCluster()
	if !ok {
		return 0, false
	}

	if n.firstCluster() == ClusterEOC {
		n.setFirstCluster(cluster)
		v.flushDirent(n)
	} else {
		v.writeFATEntry(last, cluster)
	}
	return cluster, true
}

// freeClusters frees every cluster in the chain starting at
// firstCluster (original_source/fatfs/cluster.c FreeClusters).
func (v *Volume) freeClusters(firstCluster uint32) {
	cluster := firstCluster
	for cluster >= ClusterAllocMin && cluster <= ClusterAllocMax {
		next := v.readFATEntry(cluster)
		v.writeFATEntry(cluster, ClusterFree)
		cluster = next
	}
}

// clearCluster zero-fills every sector of cluster
// (original_source/fatfs/cluster.c ClearCluster).
func (v *Volume) clearCluster(cluster uint32) {
	sector := v.clusterToSector(cluster)
	for c := uint32(0); c < uint32(v.BPB.SectorsPerCluster); c++ {
		buf := v.Cache.Get(sector+c, blockcache.Clear)
		v.Cache.MarkDirty(buf)
	}
}
