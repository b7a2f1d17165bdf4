package optimizer

import (
	. "github.com/cube2222/octoframe/plan"
)

// PushDownSlice moves slices towards the sources, fuses them into scans and turns sorts below slices into top-k sorts.
func PushDownSlice(node Node) (Node, bool) {
	changed := false
	t := Transformers{
		NodeTransformer: func(node Node) Node {
			if node.NodeType != NodeTypeSlice || node.Slice.Offset < 0 {
				return node
			}
			slice := node.Slice
			source := slice.Source
			switch source.NodeType {
			case NodeTypeProject:
				changed = true
				pushed := node.WithChildren([]Node{source.Project.Source})
				pushed.Schema = source.Project.Source.Schema
				return source.WithChildren([]Node{pushed})

			case NodeTypeScan:
				if !source.Scan.Source.Capabilities().SlicePushdown {
					return node
				}
				changed = true
				bounds := SliceBounds{Offset: slice.Offset, Length: slice.Length}
				if source.Scan.Slice != nil {
					bounds.Offset, bounds.Length = composeSlices(source.Scan.Slice.Offset, source.Scan.Slice.Length, slice.Offset, slice.Length)
				}
				scan := *source.Scan
				scan.Slice = &bounds
				source.Scan = &scan
				return source

			case NodeTypeSort:
				if slice.Length < 0 {
					return node
				}
				limit := slice.Offset + slice.Length
				if source.Sort.Limit > 0 && source.Sort.Limit <= limit {
					return node
				}
				changed = true
				sort := *source.Sort
				sort.Limit = limit
				source.Sort = &sort
				return node.WithChildren([]Node{source})

			case NodeTypeSlice:
				if source.Slice.Offset < 0 {
					return node
				}
				changed = true
				offset, length := composeSlices(source.Slice.Offset, source.Slice.Length, slice.Offset, slice.Length)
				return NewSlice(source.Slice.Source, offset, length)
			}
			return node
		},
	}
	output := t.TransformNode(node)

	if changed {
		return output, true
	} else {
		return node, false
	}
}

// composeSlices returns the single slice equivalent to applying the inner slice and then the outer one.
// Offsets must be non-negative, negative lengths are unbounded.
func composeSlices(innerOffset, innerLength, outerOffset, outerLength int64) (int64, int64) {
	offset := innerOffset + outerOffset
	if innerLength < 0 {
		return offset, outerLength
	}
	remaining := max(innerLength-outerOffset, 0)
	if outerLength < 0 {
		return offset, remaining
	}
	return offset, min(remaining, outerLength)
}
