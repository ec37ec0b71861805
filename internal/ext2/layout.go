// Package ext2 implements the core filesystem server: on-disk layout
// decoding, block and inode allocation, directory management, and file
// I/O (SPEC_FULL.md §4, §5.12). It is grounded throughout on
// `original_source/extfs`, generalizing the original's process-global
// state (`globals.c`) into an explicit *Volume threaded through every
// call, per the spec's own design-notes guidance against global
// mutable state (SPEC_FULL.md §9).
package ext2

const (
	// SuperblockOffset is the fixed byte offset of the superblock,
	// regardless of block size (original_source/extfs/ext2.h SUPERBLOCK_OFFSET).
	SuperblockOffset = 1024
	// SuperblockSize is the on-disk superblock's fixed size in bytes.
	SuperblockSize = 1024

	// MinBlockSize is the smallest legal block size; s_log_block_size
	// is the left-shift applied to it.
	MinBlockSize = 1024
	// MinBlockLogSize is EXT2_MIN_BLOCK_LOG_SIZE, added to
	// s_log_block_size to get the block size's bit count.
	MinBlockLogSize = 10

	// GoodOldInodeSize and GoodOldFirstIno apply when s_rev_level is
	// EXT2_GOOD_OLD_REV rather than EXT2_DYNAMIC_REV.
	GoodOldInodeSize = 128
	GoodOldFirstIno  = 11

	DynamicRev = 1

	SuperMagic = 0xEF53

	// RootInode is the fixed inode number of the filesystem root.
	RootInode = 2

	NoBlock = 0
	NoEntry = 0
	NoInode = 0

	GroupDescSize = 32

	// NDirBlocks is the count of direct block pointers in i_block,
	// followed by single/double/triple indirect pointers.
	NDirBlocks = 12
	IndBlock   = 12
	DIndBlock  = 13
	TIndBlock  = 14
	NBlocks    = 15

	// BlockAddressBytes is sizeof(uint32_t), the size of one block
	// pointer, used to compute how many pointers fit in one block.
	BlockAddressBytes = 4

	OndiskInodeSize = 128

	MinDirEntrySize = 8
	DirEntryAlign   = 4

	// Update-time bits, original_source/extfs/ext2.h ATIME/CTIME/MTIME.
	UpdateAtime = 1
	UpdateCtime = 2
	UpdateMtime = 4
)

// File-type tags stored in dir_entry.d_file_type
// (original_source/extfs/ext2.h EXT2_FT_*).
const (
	FtUnknown = 0x00
	FtRegFile = 0x01
	FtDir     = 0x02
	FtChrdev  = 0x03
	FtBlkdev  = 0x04
	FtFifo    = 0x05
	FtSock    = 0x06
	FtSymlink = 0x07
)

// Unix mode type bits, used to derive a dir_entry file type from an
// inode's i_mode (original_source/extfs/dir.c set_dirent_file_type).
const (
	ModeFmt    = 0xF000
	ModeDir    = 0x4000
	ModeReg    = 0x8000
	ModeChr    = 0x2000
	ModeBlk    = 0x6000
	ModeFifo   = 0x1000
	ModeSock   = 0xC000
	ModeSymlnk = 0xA000
)

// Feature flag bits for s_feature_{compat,incompat,ro_compat}
// (original_source/extfs/ext2.h EXT2_FEATURE_*).
const (
	FeatureIncompatCompression = 0x0001
	FeatureIncompatFiletype    = 0x0002
	FeatureIncompatMetaBG      = 0x0010

	FeatureRoCompatSparseSuper = 0x0001
	FeatureRoCompatLargeFile   = 0x0002
	FeatureRoCompatBtreeDir    = 0x0004
)

// SupportedIncompat/SupportedRoCompat are the feature masks this
// implementation understands; anything else set in the superblock's
// corresponding field is handled per §3's mount invariants
// (original_source/extfs/ext2.h SUPPORTED_INCOMPAT_FEATURES /
// SUPPORTED_RO_COMPAT_FEATURES, defined but never actually checked by
// the original's read_superblock).
const (
	SupportedIncompat = FeatureIncompatFiletype
	SupportedRoCompat = FeatureRoCompatSparseSuper | FeatureRoCompatLargeFile
)
