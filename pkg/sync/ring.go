package sync

import (
	"encoding/binary"
	"fmt"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
	"github.com/spaolacci/murmur3"
)

// ring is a consistent hash ring mapping keys onto shard indexes [0, shards).
type ring struct {
	hashRing *treemap.Map

	// minShard caches the shard of the min entry, since treemap.Map.Min() is O(log n).
	minShard int
}

// newRing returns a ring where each shard owns replicationFactor points.
func newRing(shards, replicationFactor uint) *ring {
	hashRing := treemap.NewWith(utils.Int64Comparator)

	for shard := 0; shard < int(shards); shard++ {
		nameHash, _ := murmur3.Sum128([]byte(fmt.Sprintf("shard%d", shard)))

		var point [12]byte
		binary.LittleEndian.PutUint64(point[:8], nameHash)
		for i := uint32(0); i < uint32(replicationFactor); i++ {
			binary.LittleEndian.PutUint32(point[8:], i)
			hash, _ := murmur3.Sum128(point[:])
			hashRing.Put(int64(hash), shard)
		}
	}

	r := &ring{hashRing: hashRing}
	if _, minShard := hashRing.Min(); minShard != nil {
		r.minShard = minShard.(int)
	}
	return r
}

// shard consistently hashes the key to a shard index.
func (r *ring) shard(key []byte) int {
	raw, _ := murmur3.Sum128(key)
	if _, shard := r.hashRing.Ceiling(int64(raw)); shard != nil {
		return shard.(int)
	}
	return r.minShard
}
