package storage

// DropPosition says which half of the target row an item was dropped on.
type DropPosition int

const (
	DropBefore DropPosition = iota
	DropAfter
)

func (p DropPosition) String() string {
	if p == DropAfter {
		return "after"
	}
	return "before"
}

// DropPositionAt classifies a drop at offset y inside a target whose extent
// starts at top and is height tall.
func DropPositionAt(y, top, height float64) DropPosition {
	if y < top+height/2 {
		return DropBefore
	}
	return DropAfter
}

// InsertionIndex maps a drop on the sibling at targetIndex to the index the
// dropped item is inserted at.
func InsertionIndex(targetIndex int, pos DropPosition) int {
	if pos == DropAfter {
		return targetIndex + 1
	}
	return targetIndex
}

// Reinsert removes moved from ids and inserts it at index, where index was
// computed against the list before removal. The result is clamped to the list.
func Reinsert(ids []int64, moved int64, index int) []int64 {
	out := make([]int64, 0, len(ids)+1)
	for i, id := range ids {
		if id == moved {
			if i < index {
				index--
			}
			continue
		}
		out = append(out, id)
	}
	if index < 0 {
		index = 0
	}
	if index > len(out) {
		index = len(out)
	}
	out = append(out, 0)
	copy(out[index+1:], out[index:])
	out[index] = moved
	return out
}

func siblingIDs(siblings []Sibling) []int64 {
	ids := make([]int64, len(siblings))
	for i, s := range siblings {
		ids[i] = s.ID
	}
	return ids
}

func indexOf(ids []int64, id int64) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
