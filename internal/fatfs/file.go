package fatfs

import "github.com/Marvenlee/cheviot-filesystems/internal/fserrno"

// readFile copies up to len(buf) bytes starting at offset, clamped to
// the dirent's recorded size (original_source/fatfs/file.c readFile).
func (v *Volume) readFile(n *node, buf []byte, offset uint32) int {
	size := n.dirent.size
	if offset >= size {
		return 0
	}
	if uint32(len(buf)) > size-offset {
		buf = buf[:size-offset]
	}

	nread := 0
	for nread < len(buf) {
		cluster, ok := v.findCluster(n, offset)
		if !ok {
			// Past the end of the chain but inside the file size: a hole
			// left by a growing truncate, read back as zeros.
			for i := nread; i < len(buf); i++ {
				buf[i] = 0
			}
			nread = len(buf)
			break
		}
		clusterOff := offset % v.clusterSize()
		sector := v.clusterToSector(cluster) + clusterOff/SectorSize
		secOff := offset % SectorSize

		xfer := len(buf) - nread
		if xfer > SectorSize-int(secOff) {
			xfer = SectorSize - int(secOff)
		}

		sbuf := v.readSector(sector)
		copy(buf[nread:nread+xfer], sbuf.Data[secOff:int(secOff)+xfer])

		nread += xfer
		offset += uint32(xfer)
	}
	return nread
}

// writeFile copies data into n's cluster chain starting at offset,
// appending clusters as needed and extending the dirent's size
// (original_source/fatfs/file.c writeFile). Writing past the current
// end of file leaves the gap cluster zero-filled by clearCluster at
// allocation time, matching §4.10's sparse-write semantics for ext2.
func (v *Volume) writeFile(n *node, data []byte, offset uint32) int {
	nwritten := 0
	for nwritten < len(data) {
		cluster, ok := v.findCluster(n, offset)
		for !ok {
			appended, appendedOK := v.appendCluster(n)
			if !appendedOK {
				break
			}
			v.clearCluster(appended)
			cluster, ok = v.findCluster(n, offset)
		}
		if !ok {
			break
		}

		clusterOff := offset % v.clusterSize()
		sector := v.clusterToSector(cluster) + clusterOff/SectorSize
		secOff := offset % SectorSize

		xfer := len(data) - nwritten
		if xfer > SectorSize-int(secOff) {
			xfer = SectorSize - int(secOff)
		}

		sbuf := v.readSector(sector)
		copy(sbuf.Data[secOff:int(secOff)+xfer], data[nwritten:nwritten+xfer])
		v.Cache.MarkDirty(sbuf)

		nwritten += xfer
		offset += uint32(xfer)
	}

	if offset > n.dirent.size {
		n.dirent.size = offset
	}
	v.flushDirent(n)
	return nwritten
}

// createFile allocates a fresh, zero-length dirent named name under
// parent (original_source/fatfs/file.c createFile).
func (v *Volume) createFile(parent *node, name string, dir bool) (*node, int32) {
	d, errno := nameToDirEntry(name)
	if errno != 0 {
		return nil, errno
	}
	if dir {
		d.attr = attrDirectory
	}
	d.setFirstCluster(v, ClusterEOC)

	sector, offset, ok := v.dirCreate(parent, d)
	if !ok {
		return nil, int32(fserrno.ENOSPC)
	}

	n := v.nodes.alloc(d, sector, offset)
	return n, 0
}

// truncateFile resizes n to size, freeing any clusters beyond the new
// size or leaving the chain alone when growing (lazy-allocation on the
// next write, matching readFile/writeFile's hole handling)
// (original_source/fatfs/file.c truncateFile, corrected: the original's
// `cluster != CLUSTER_EOC || cluster != CLUSTER_BAD` is always true and
// its size==0 branch runs unconditionally — see DESIGN.md).
func (v *Volume) truncateFile(n *node, size uint32) int32 {
	if size == 0 {
		first := n.firstCluster()
		if first != ClusterEOC && first != ClusterBad {
			v.freeClusters(first)
		}
		n.setFirstCluster(ClusterEOC)
		n.dirent.size = 0
		n.hintCluster, n.hintOffset = 0, 0
		v.flushDirent(n)
		return 0
	}

	if size >= n.dirent.size {
		n.dirent.size = size
		v.flushDirent(n)
		return 0
	}

	if cluster, ok := v.findCluster(n, size); ok {
		if next := v.readFATEntry(cluster); next >= ClusterAllocMin && next <= ClusterAllocMax {
			v.freeClusters(next)
			v.writeFATEntry(cluster, ClusterEOC)
		}
	}
	n.dirent.size = size
	n.hintCluster, n.hintOffset = 0, 0
	v.flushDirent(n)
	return 0
}
