package fatfs

import (
	"github.com/Marvenlee/cheviot-filesystems/internal/blockcache"
)

// Volume bundles one mounted FAT partition's state: the validated BPB,
// its derived geometry, the shared block cache (keyed by absolute
// sector number), and the in-memory node table. It replaces the
// process-global `fsb`/`block_cache` pair of
// original_source/fatfs/globals.c with one value threaded through
// every call, matching internal/ext2.Volume's same generalization.
type Volume struct {
	Dev   blockcache.Device
	Cache *blockcache.Cache

	BPB     BPB
	Derived Derived

	// searchCluster is the FAT scan's resume point, mirroring
	// fsb.start_search_cluster (original_source/fatfs/cluster.c
	// FindFreeCluster).
	searchCluster uint32

	nodes *nodeCache
}

// Mount validates dev's partition table and BPB, builds the block
// cache, and returns a ready Volume (original_source/fatfs/init.c's
// init/detectPartition sequence, generalized off of process globals).
func Mount(dev blockcache.Device, cacheBlocks int) (*Volume, error) {
	bpb, derived, err := detectPartition(dev)
	if err != nil {
		return nil, err
	}

	v := &Volume{
		Dev:           dev,
		Cache:         blockcache.New(dev, cacheBlocks, SectorSize),
		BPB:           bpb,
		Derived:       derived,
		searchCluster: 2,
	}
	v.nodes = newNodeCache(v)
	return v, nil
}

// Flush writes back every dirty cached sector
// (original_source/fatfs has no superblock/FSInfo rewrite step worth
// reproducing: FlushFSB and FlushFSInfo are both empty stubs).
func (v *Volume) Flush() error {
	v.Cache.FlushAll()
	return nil
}

func (v *Volume) readSector(sector uint32) *blockcache.Buffer {
	return v.Cache.Get(sector, blockcache.Read)
}
