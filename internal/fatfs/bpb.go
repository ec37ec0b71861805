// Package fatfs implements the FAT12/16/32 filesystem server: the
// "same pattern, different allocator" sibling to internal/ext2
// (SPEC_FULL.md §5.13). It shares internal/blockcache and
// internal/fsdispatch with ext2, reading/writing fixed 512-byte
// sectors through the same cache discipline.
//
// Grounded on original_source/fatfs's BIOS-Parameter-Block parsing and
// partition detection (init.c's detectPartition), generalized away
// from the original's single-partition process-global `fsb`.
package fatfs

import (
	"encoding/binary"
	"fmt"

	"github.com/Marvenlee/cheviot-filesystems/internal/blockcache"
)

// FatType identifies which cluster-width variant is mounted.
type FatType int

const (
	FAT12 FatType = iota
	FAT16
	FAT32
)

func (t FatType) String() string {
	switch t {
	case FAT12:
		return "FAT12"
	case FAT16:
		return "FAT16"
	default:
		return "FAT32"
	}
}

// SectorSize is the only sector size original_source/fatfs ever
// validates against (init.c's detectPartition rejects any BPB whose
// bytes_per_sector isn't exactly 512).
const SectorSize = 512

// BPB is the decoded BIOS Parameter Block common to all three FAT
// variants (original_source/fatfs/fat.h struct FatBPB).
type BPB struct {
	BytesPerSector      uint16
	SectorsPerCluster   uint8
	ReservedSectorsCnt  uint16
	FATCount            uint8
	RootEntriesCnt      uint16
	TotalSectorsCnt16   uint16
	MediaType           uint8
	SectorsPerFAT16     uint16
	TotalSectorsCnt32   uint32

	// FAT32Ext fields, valid only when the derived FatType is FAT32
	// (original_source/fatfs/fat.h struct FatBPB_32Ext).
	SectorsPerFAT32 uint32
	RootCluster     uint32
	FSInfoSector    uint16
}

// decodeBPB parses the 512-byte boot sector at the start of a
// candidate partition.
func decodeBPB(sector []byte) BPB {
	var b BPB
	b.BytesPerSector = binary.LittleEndian.Uint16(sector[11:13])
	b.SectorsPerCluster = sector[13]
	b.ReservedSectorsCnt = binary.LittleEndian.Uint16(sector[14:16])
	b.FATCount = sector[16]
	b.RootEntriesCnt = binary.LittleEndian.Uint16(sector[17:19])
	b.TotalSectorsCnt16 = binary.LittleEndian.Uint16(sector[19:21])
	b.MediaType = sector[21]
	b.SectorsPerFAT16 = binary.LittleEndian.Uint16(sector[22:24])
	b.TotalSectorsCnt32 = binary.LittleEndian.Uint32(sector[32:36])

	const ext32Off = 36
	b.SectorsPerFAT32 = binary.LittleEndian.Uint32(sector[ext32Off : ext32Off+4])
	b.RootCluster = binary.LittleEndian.Uint32(sector[ext32Off+8 : ext32Off+12])
	b.FSInfoSector = binary.LittleEndian.Uint16(sector[ext32Off+12 : ext32Off+14])
	return b
}

// valid runs the same plausibility checks
// original_source/fatfs/init.c's detectPartition applies before
// trusting a candidate BPB.
func (b BPB) valid() bool {
	if b.BytesPerSector != SectorSize {
		return false
	}
	spc := b.SectorsPerCluster
	if !(spc >= 1 && spc <= 128 && spc&(spc-1) == 0) {
		return false
	}
	if b.ReservedSectorsCnt == 0 || b.FATCount == 0 {
		return false
	}
	if !(b.MediaType == 0 || b.MediaType == 1 || b.MediaType >= 0xf0) {
		return false
	}
	if b.TotalSectorsCnt16 == 0 && b.TotalSectorsCnt32 == 0 {
		return false
	}
	if b.SectorsPerFAT16 == 0 && b.SectorsPerFAT32 == 0 {
		return false
	}
	return true
}

// Derived holds the geometry computed once from a validated BPB
// (original_source/fatfs/init.c's post-validation field assignments).
type Derived struct {
	Type FatType

	PartitionStartSector uint32
	SectorsPerFAT        uint32
	TotalSectorsCnt      uint32
	RootDirSectors       uint32
	FirstDataSector      uint32
	DataSectors          uint32
	ClusterCount         uint32
}

func computeDerived(b BPB, partitionStart uint32) Derived {
	var d Derived
	d.PartitionStartSector = partitionStart

	d.RootDirSectors = (uint32(b.RootEntriesCnt)*DirEntrySize + (SectorSize - 1)) / SectorSize

	if b.SectorsPerFAT16 != 0 {
		d.SectorsPerFAT = uint32(b.SectorsPerFAT16)
	} else {
		d.SectorsPerFAT = b.SectorsPerFAT32
	}

	if b.TotalSectorsCnt16 != 0 {
		d.TotalSectorsCnt = uint32(b.TotalSectorsCnt16)
	} else {
		d.TotalSectorsCnt = b.TotalSectorsCnt32
	}

	d.FirstDataSector = uint32(b.ReservedSectorsCnt) + uint32(b.FATCount)*d.SectorsPerFAT + d.RootDirSectors
	d.DataSectors = d.TotalSectorsCnt - (uint32(b.ReservedSectorsCnt) + uint32(b.FATCount)*d.SectorsPerFAT + d.RootDirSectors)
	d.ClusterCount = d.DataSectors / uint32(b.SectorsPerCluster)

	switch {
	case d.ClusterCount < 4085:
		d.Type = FAT12
	case d.ClusterCount < 65525:
		d.Type = FAT16
	default:
		d.Type = FAT32
	}
	return d
}

// mbrPartitionEntry is one 16-byte record of the MBR partition table
// (original_source/fatfs/fat.h struct MBRPartitionEntry).
type mbrPartitionEntry struct {
	partitionType uint8
	lba           uint32
	sectorCount   uint32
}

func decodeMBREntry(rec []byte) mbrPartitionEntry {
	return mbrPartitionEntry{
		partitionType: rec[4],
		lba:           binary.LittleEndian.Uint32(rec[8:12]),
		sectorCount:   binary.LittleEndian.Uint32(rec[12:16]),
	}
}

const mbrPartitionTableOffset = 446

// detectPartition scans the MBR's four partition entries for the
// first one carrying a plausible FAT BPB, falling back to treating the
// whole device as an unpartitioned FAT volume (sector 0 holding the
// BPB directly, as a raw floppy image does) if none validates
// (original_source/fatfs/init.c detectPartition).
func detectPartition(dev blockcache.Device) (BPB, Derived, error) {
	mbr := make([]byte, SectorSize)
	if err := dev.ReadAt(mbr, 0); err != nil {
		return BPB{}, Derived{}, fmt.Errorf("fatfs: reading sector 0: %w", err)
	}

	for i := 0; i < 4; i++ {
		off := mbrPartitionTableOffset + i*16
		entry := decodeMBREntry(mbr[off : off+16])
		if entry.partitionType == 0x00 {
			continue
		}

		boot := make([]byte, SectorSize)
		if err := dev.ReadAt(boot, int64(entry.lba)*SectorSize); err != nil {
			continue
		}
		bpb := decodeBPB(boot)
		if !bpb.valid() {
			continue
		}
		if bpb.RootEntriesCnt == 0 {
			d := computeDerived(bpb, entry.lba)
			if d.Type != FAT32 {
				continue
			}
		}
		d := computeDerived(bpb, entry.lba)
		return bpb, d, nil
	}

	bpb := decodeBPB(mbr)
	if bpb.valid() {
		return bpb, computeDerived(bpb, 0), nil
	}

	return BPB{}, Derived{}, fmt.Errorf("fatfs: no FAT partition found")
}
