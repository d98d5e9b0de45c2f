// Package task defines the adaptive work-item model shared by every search
// family.
//
// A work item is built from an immutable spec. It issues exactly one
// transport call per attempt and then decides what happens next:
//
//   - NextTask continues a cursor chain with a fresh spec for the next page.
//   - NarrowedDownTasks replaces a persistently failing spec with children
//     that cover the same scope at a finer granularity.
//   - SaveOutput appends the non-null result elements to the run output.
//
// Specs are never mutated. Every continuation and every child is a new value
// with a fresh id, produced by the lineage helpers in this package:
//
//	root      {id: A, parentId: nil, originatingTaskId: nil, cursor: nil}
//	page 2    {id: B, parentId: nil, originatingTaskId: A,   cursor: c1}
//	page 3    {id: C, parentId: nil, originatingTaskId: A,   cursor: c2}
//	child     {id: D, parentId: C,   originatingTaskId: A,   cursor: nil}
//
// Continuation chains are flat: the originating task of any page is the
// chain's root, reached in one hop.
package task
