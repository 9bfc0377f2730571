package plan

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/iamhimansu/csvscan/pkg/csvscan/types"
)

// Plan cuts [0,size) into contiguous splits of splitSize bytes; the last one
// may be shorter. Boundaries ignore record structure: the scan producers
// resolve records that straddle them.
func Plan(loc types.Location, size, splitSize int64) ([]types.Split, error) {
	if size < 0 {
		return nil, fmt.Errorf("negative file size %d", size)
	}
	if splitSize <= 0 {
		return nil, fmt.Errorf("split size must be positive, got %d", splitSize)
	}

	splits := make([]types.Split, 0, (size+splitSize-1)/splitSize)
	for start := int64(0); start < size; start += splitSize {
		end := start + splitSize
		if end > size {
			end = size
		}
		splits = append(splits, types.Split{Location: loc, StartOffset: start, EndOffset: end})
	}
	return splits, nil
}

// PlanN cuts [0,size) into at most n near-equal splits. Files smaller than n
// bytes get one split per byte.
func PlanN(loc types.Location, size int64, n int) ([]types.Split, error) {
	if n <= 0 {
		return nil, fmt.Errorf("split count must be positive, got %d", n)
	}
	if size < 0 {
		return nil, fmt.Errorf("negative file size %d", size)
	}
	if size == 0 {
		return []types.Split{}, nil
	}
	if int64(n) > size {
		n = int(size)
	}

	chunkSize := size / int64(n)
	boundaries := make([]int64, n+1)
	boundaries[n] = size
	for i := 1; i < n; i++ {
		boundaries[i] = int64(i) * chunkSize
	}

	splits := make([]types.Split, n)
	for i := 0; i < n; i++ {
		splits[i] = types.Split{Location: loc, StartOffset: boundaries[i], EndOffset: boundaries[i+1]}
	}
	return splits, nil
}

// AssignHosts gives each split up to replicas preferred hosts by rendezvous
// hashing on the split's location and start offset, so the same split maps to
// the same hosts on every run and adding a host moves few splits.
func AssignHosts(splits []types.Split, hosts []string, replicas int) {
	if len(hosts) == 0 || replicas <= 0 {
		return
	}
	if replicas > len(hosts) {
		replicas = len(hosts)
	}

	type scored struct {
		host  string
		score uint64
	}
	ranked := make([]scored, len(hosts))
	for i := range splits {
		key := fmt.Sprintf("%s@%d", splits[i].Location, splits[i].StartOffset)
		for j, h := range hosts {
			ranked[j] = scored{host: h, score: xxhash.Sum64String(key + "|" + h)}
		}
		sort.Slice(ranked, func(a, b int) bool {
			if ranked[a].score != ranked[b].score {
				return ranked[a].score > ranked[b].score
			}
			return ranked[a].host < ranked[b].host
		})

		splits[i].Hosts = make([]string, replicas)
		for r := 0; r < replicas; r++ {
			splits[i].Hosts[r] = ranked[r].host
		}
	}
}

// Validate checks that splits are contiguous and cover [0,size).
func Validate(splits []types.Split, size int64) error {
	var next int64
	for i, s := range splits {
		if s.StartOffset != next {
			return fmt.Errorf("split %d starts at %d, expected %d", i, s.StartOffset, next)
		}
		if s.EndOffset < s.StartOffset {
			return fmt.Errorf("split %d ends before it starts: %s", i, s)
		}
		next = s.EndOffset
	}
	if next != size {
		return fmt.Errorf("splits cover [0,%d), file has %d bytes", next, size)
	}
	return nil
}
