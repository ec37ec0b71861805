package ext2

import (
	"math/rand"

	"github.com/Marvenlee/cheviot-filesystems/internal/blockcache"
	"github.com/Marvenlee/cheviot-filesystems/internal/fserrno"
	"github.com/Marvenlee/cheviot-filesystems/internal/fsutil"
)

const noGroup = ^uint32(0)

// newInode creates a fresh inode and directory entry for name inside
// dirInode (original_source/extfs/inode.c new_inode). On dirent_enter
// failure the inode's link is rolled back before releasing it, leaving
// no orphaned entry.
func newInode(v *Volume, dirInode *Inode, name string, mode, uid, gid uint32) (*Inode, int32) {
	if dirInode.OD.LinksCount == 0 {
		return nil, int32(fserrno.ENOENT)
	}
	if mode&ModeFmt == ModeDir && dirInode.OD.LinksCount >= maxLinkCount {
		return nil, int32(fserrno.EMLINK)
	}
	if _, ok := lookupDir(v, dirInode, name); ok {
		return nil, int32(fserrno.EEXIST)
	}

	n, sc := allocInode(v, dirInode, mode, uid, gid)
	if sc != 0 {
		return nil, sc
	}

	n.OD.LinksCount++
	v.Inodes.MarkDirty(n)

	if sc := direntEnter(v, dirInode, name, n.Ino, mode); sc != 0 {
		n.OD.LinksCount--
		v.Inodes.MarkDirty(n)
		v.Inodes.Put(n)
		return nil, sc
	}

	return n, 0
}

// allocInode picks a group, allocates an inode bit, and initializes a
// fresh in-memory inode (original_source/extfs/inode.c alloc_inode).
func allocInode(v *Volume, parent *Inode, mode, uid, gid uint32) (*Inode, int32) {
	isDir := mode&ModeFmt == ModeDir

	var group uint32
	if isDir {
		group = findFreeInodeDirGroup(v, parent.Ino)
	} else {
		group = findFreeInodeFileGroup(v, parent.Ino)
	}
	if group == noGroup {
		return nil, int32(fserrno.ENOSPC)
	}

	ino := allocInodeBit(v, group, isDir)
	if ino == NoInode {
		return nil, int32(fserrno.ENOSPC)
	}

	n := v.Inodes.Get(ino)
	n.Update = UpdateAtime | UpdateCtime | UpdateMtime
	n.OD = OndiskInode{Mode: uint16(mode), UID: uint16(uid), GID: uint16(gid)}
	for i := range n.OD.Block {
		n.OD.Block[i] = NoBlock
	}
	v.Inodes.MarkDirty(n)
	return n, 0
}

// freeInode releases ino's bit back to the inode bitmap
// (original_source/extfs/inode.c free_inode).
func freeInode(v *Volume, n *Inode) {
	if n.Ino <= NoEntry || n.Ino > v.SB.InodesCount {
		return
	}
	freeInodeBit(v, n.Ino, n.OD.Mode&ModeFmt == ModeDir)
	n.OD.Mode = 0
}

// allocInodeBit allocates a bit in group's inode bitmap
// (original_source/extfs/inode.c alloc_inode_bit). A group descriptor
// that claims free inodes but yields none from the bitmap is a
// consistency violation.
func allocInodeBit(v *Volume, group uint32, isDir bool) uint32 {
	gd := v.GroupDesc(group)
	fsutil.Invariant(gd != nil, "ext2: can't get group_desc to alloc inode")
	fsutil.Invariant(gd.FreeInodesCount != 0, "ext2: group desc reports no free inodes but earlier search reported it does")

	buf := v.Cache.Get(gd.InodeBitmap, blockcache.Read)
	bit := allocBit(buf.Data, v.SB.InodesPerGroup, 0)
	fsutil.Invariant(bit != -1, "ext2: unable to alloc bit in inode bitmap, but descriptor indicated free inode")

	ino := group*v.SB.InodesPerGroup + uint32(bit) + 1
	fsutil.Invariant(ino <= v.SB.InodesCount, "ext2: allocator returned inode number greater than total inodes")
	fsutil.Invariant(ino >= v.D.FirstIno, "ext2: allocator tried to return reserved inode")

	v.Cache.MarkDirty(buf)
	v.Cache.Put(buf)

	gd.FreeInodesCount--
	v.SB.FreeInodesCount--
	if isDir {
		gd.UsedDirsCount++
		v.DirsUsed++
	}
	v.MarkGroupDescsDirty()
	return ino
}

// freeInodeBit clears ino's bit in its group's inode bitmap
// (original_source/extfs/inode.c free_inode_bit).
func freeInodeBit(v *Volume, ino uint32, isDir bool) {
	fsutil.Invariant(ino <= v.SB.InodesCount && ino >= v.D.FirstIno,
		"ext2: trying to free inode %d beyond inodes scope", ino)

	group := (ino - 1) / v.SB.InodesPerGroup
	bit := (ino - 1) % v.SB.InodesPerGroup

	gd := v.GroupDesc(group)
	fsutil.Invariant(gd != nil, "ext2: can't get group_desc to free inode")

	buf := v.Cache.Get(gd.InodeBitmap, blockcache.Read)
	fsutil.Invariant(clearBit(buf.Data, bit), "ext2: tried to free unused inode %d", ino)
	v.Cache.MarkDirty(buf)
	v.Cache.Put(buf)

	gd.FreeInodesCount++
	v.SB.FreeInodesCount++
	if isDir {
		gd.UsedDirsCount--
		v.DirsUsed--
	}
	v.MarkGroupDescsDirty()
}

// findFreeInodeDirGroup picks, among the groups whose free inode count
// is at or above the filesystem-wide average, the one with the most
// free blocks (the first such group seen wins a tie) to place a new
// directory's inode in
// (original_source/extfs/inode.c find_free_inode_dir_group).
func findFreeInodeDirGroup(v *Volume, parentIno uint32) uint32 {
	avgFreeInodes := v.SB.FreeInodesCount / v.D.GroupsCount

	var parentGroup uint32
	if parentIno == RootInode {
		parentGroup = uint32(rand.Int63n(int64(v.D.GroupsCount)))
	} else {
		parentGroup = (parentIno - 1) / v.SB.InodesPerGroup
	}

	bestGroup := noGroup
	var bestFreeBlocks uint16

	for t := uint32(0); t < v.D.GroupsCount; t++ {
		group := (parentGroup + t) % v.D.GroupsCount
		gd := v.GroupDesc(group)
		fsutil.Invariant(gd != nil, "ext2: can't get group_desc to alloc inode")

		if gd.FreeInodesCount == 0 || uint32(gd.FreeInodesCount) < avgFreeInodes {
			continue
		}
		if bestGroup == noGroup || gd.FreeBlocksCount > bestFreeBlocks {
			bestGroup = group
			bestFreeBlocks = gd.FreeBlocksCount
		}
	}
	return bestGroup
}

// findFreeInodeFileGroup picks a group for a new file's inode: the
// parent's group if it has room, else a quadratic probe over group
// numbers, else the first group found by a full linear scan
// (original_source/extfs/inode.c find_free_inode_file_group).
func findFreeInodeFileGroup(v *Volume, parentIno uint32) uint32 {
	parentGroup := (parentIno - 1) / v.SB.InodesPerGroup

	gd := v.GroupDesc(parentGroup)
	if gd.FreeInodesCount != 0 && gd.FreeBlocksCount != 0 {
		return parentGroup
	}

	group := (parentGroup + parentIno) % v.D.GroupsCount
	for t := uint32(1); t < v.D.GroupsCount; t <<= 1 {
		group = (group + t) % v.D.GroupsCount
		gd := v.GroupDesc(group)
		if gd.FreeInodesCount != 0 && gd.FreeBlocksCount != 0 {
			return group
		}
	}

	group = parentGroup
	for t := uint32(0); t < v.D.GroupsCount; t++ {
		group = (group + 1) % v.D.GroupsCount
		gd := v.GroupDesc(group)
		if gd.FreeInodesCount != 0 {
			return group
		}
	}
	return noGroup
}

const maxLinkCount = 65000 // LINK_MAX, the ext2 link-count ceiling
