package fatfs

// RootInode is the fixed inode number assigned to the volume's root
// directory (original_source/fatfs's fsb.root_node, which original
// code special-cases by pointer identity rather than inode number).
const RootInode = 0

// node is the in-memory counterpart of a directory entry
// (original_source/fatfs/fat.h struct FatNode). Its inode number is
// derived from the directory slot holding its dirent (dirSector,
// dirOffset) rather than its first cluster: the original assigns
// inode_nr = first_cluster, which cannot distinguish between multiple
// zero-length files (all share CLUSTER_EOC) — see DESIGN.md's Open
// Question decision on this.
type node struct {
	vol *Volume

	inode     uint32
	isRoot    bool
	dirSector uint32
	dirOffset uint32
	dirent    dirEntry

	hintCluster uint32
	hintOffset  uint32

	refCount int
}

func dirSlotInode(sector, offset uint32) uint32 {
	return sector*16 + offset/DirEntrySize
}

func (n *node) firstCluster() uint32      { return n.dirent.firstCluster(n.vol) }
func (n *node) setFirstCluster(c uint32)  { n.dirent.setFirstCluster(n.vol, c) }

// nodeCache tracks in-core nodes by inode number, replacing
// original_source/fatfs/node.c's LIST(FatNode) linear scan
// (FindNode/AllocNode/FreeNode) with a map, the idiomatic Go
// equivalent of an open-node table.
type nodeCache struct {
	vol   *Volume
	root  *node
	nodes map[uint32]*node
}

func newNodeCache(v *Volume) *nodeCache {
	nc := &nodeCache{vol: v, nodes: make(map[uint32]*node)}
	nc.root = &node{
		vol:      v,
		inode:    RootInode,
		isRoot:   true,
		refCount: 1,
	}
	nc.root.dirent.attr = attrDirectory
	nc.nodes[RootInode] = nc.root
	return nc
}

// find returns the cached node for ino, incrementing its reference
// count, or nil if not in core (original_source/fatfs/node.c FindNode).
func (nc *nodeCache) find(ino uint32) *node {
	n, ok := nc.nodes[ino]
	if !ok {
		return nil
	}
	n.refCount++
	return n
}

// alloc creates and caches a node for a freshly looked-up dirent
// (original_source/fatfs/node.c AllocNode).
func (nc *nodeCache) alloc(d dirEntry, sector, offset uint32) *node {
	ino := dirSlotInode(sector, offset)
	if n, ok := nc.nodes[ino]; ok {
		n.refCount++
		return n
	}
	n := &node{
		vol:       nc.vol,
		inode:     ino,
		dirSector: sector,
		dirOffset: offset,
		dirent:    d,
		refCount:  1,
	}
	nc.nodes[ino] = n
	return n
}

// release drops a reference, evicting the node once unreferenced
// (original_source/fatfs/node.c FreeNode). The root node is never
// evicted.
func (nc *nodeCache) release(n *node) {
	n.refCount--
	if n.isRoot || n.refCount > 0 {
		return
	}
	delete(nc.nodes, n.inode)
}

// flushDirent writes n's dirent back to its directory slot
// (original_source/fatfs/node.c FlushDirent). The root node has no
// backing slot.
func (v *Volume) flushDirent(n *node) {
	if n.isRoot {
		return
	}
	buf := v.readSector(n.dirSector)
	n.dirent.encode(buf.Data[n.dirOffset : n.dirOffset+DirEntrySize])
	v.Cache.MarkDirty(buf)
}
