package segmentation

import (
	"container/heap"
)

// Priority-flood engine shared by the splitter variants. Fronts expand
// from seed pixels over an 8-connected grid in order of a per-pixel
// priority; ties resolve to the lowest seed label, then to insertion
// order, so results are fully deterministic.

type floodItem struct {
	prio  float64
	label int32
	idx   int32
	// Origin seed pixel, carried so distance floods can rank candidates
	// by true Euclidean distance to their source.
	ox, oy int32
	order  int64
}

type floodQueue []floodItem

func (q floodQueue) Len() int { return len(q) }

func (q floodQueue) Less(i, j int) bool {
	if q[i].prio != q[j].prio {
		return q[i].prio < q[j].prio
	}
	if q[i].label != q[j].label {
		return q[i].label < q[j].label
	}
	return q[i].order < q[j].order
}

func (q floodQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *floodQueue) Push(x interface{}) { *q = append(*q, x.(floodItem)) }

func (q *floodQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

var neighborOffsets = [8][2]int32{
	{-1, -1}, {-1, 0}, {-1, 1},
	{0, -1}, {0, 1},
	{1, -1}, {1, 0}, {1, 1},
}

// watershedFlood floods the mask from marker pixels in ascending order of
// the surface values, splitting touching regions along the ridge lines
// where competing fronts meet. Every mask pixel reachable from a marker
// receives that marker's label; mask components without a marker stay 0.
func watershedFlood(surface []float32, markers []int32, mask []uint8, rows, cols int) []int32 {
	out := make([]int32, len(markers))
	q := make(floodQueue, 0, 1024)
	var order int64

	for idx, label := range markers {
		if label > 0 && mask[idx] != 0 {
			out[idx] = label
			q = append(q, floodItem{
				prio:  float64(surface[idx]),
				label: label,
				idx:   int32(idx),
				order: order,
			})
			order++
		}
	}
	heap.Init(&q)

	for q.Len() > 0 {
		item := heap.Pop(&q).(floodItem)
		r := item.idx / int32(cols)
		c := item.idx % int32(cols)
		for _, off := range neighborOffsets {
			nr, nc := r+off[0], c+off[1]
			if nr < 0 || nr >= int32(rows) || nc < 0 || nc >= int32(cols) {
				continue
			}
			nidx := nr*int32(cols) + nc
			if mask[nidx] == 0 || out[nidx] != 0 {
				continue
			}
			out[nidx] = item.label
			heap.Push(&q, floodItem{
				prio:  float64(surface[nidx]),
				label: item.label,
				idx:   nidx,
				order: order,
			})
			order++
		}
	}
	return out
}

// nearestSeedAssign assigns every reachable pixel the label of its nearest
// seed pixel by Euclidean distance. Seeds are the nonzero entries of the
// seeds slice. When mask is non-nil the flood is confined to foreground
// pixels, so assignment never crosses between disjoint mask regions; with
// a nil mask the whole image is assigned. Distances compare as exact
// squared integers; equidistant pixels go to the lowest seed label.
func nearestSeedAssign(seeds []int32, mask []uint8, rows, cols int) []int32 {
	out := make([]int32, len(seeds))
	q := make(floodQueue, 0, 1024)
	var order int64

	for idx, label := range seeds {
		if label <= 0 {
			continue
		}
		if mask != nil && mask[idx] == 0 {
			continue
		}
		r := int32(idx) / int32(cols)
		c := int32(idx) % int32(cols)
		q = append(q, floodItem{
			prio:  0,
			label: label,
			idx:   int32(idx),
			ox:    c,
			oy:    r,
			order: order,
		})
		order++
	}
	heap.Init(&q)

	// Pixels are assigned when popped, not when pushed: competing fronts
	// may each queue a candidate for the same pixel, and the heap order
	// guarantees the closest (then lowest-labeled) front wins.
	for q.Len() > 0 {
		item := heap.Pop(&q).(floodItem)
		if out[item.idx] != 0 {
			continue
		}
		out[item.idx] = item.label

		r := item.idx / int32(cols)
		c := item.idx % int32(cols)
		for _, off := range neighborOffsets {
			nr, nc := r+off[0], c+off[1]
			if nr < 0 || nr >= int32(rows) || nc < 0 || nc >= int32(cols) {
				continue
			}
			nidx := nr*int32(cols) + nc
			if out[nidx] != 0 {
				continue
			}
			if mask != nil && mask[nidx] == 0 {
				continue
			}
			dr := float64(nr - item.oy)
			dc := float64(nc - item.ox)
			heap.Push(&q, floodItem{
				prio:  dr*dr + dc*dc,
				label: item.label,
				idx:   nidx,
				ox:    item.ox,
				oy:    item.oy,
				order: order,
			})
			order++
		}
	}
	return out
}
