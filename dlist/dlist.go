// Package dlist implements a generic intrusive doubly linked list.
//
// The list stores only a head and a tail handle; the prev/next links for
// each element are owned and stored by the caller through an Accessor, not
// by the list itself. This lets the same List type thread a free list
// through memory it does not own the layout of — for example, slot indices
// into a preallocated bookkeeping array, as the buddy package does, rather
// than requiring elements to be ordinary heap-allocated nodes.
//
// No operation allocates.
package dlist

// Accessor gives a List read/write access to the prev/next links of an
// intrusive node handle N. A single Accessor is shared by every List built
// over the same underlying storage.
type Accessor[N comparable] interface {
	// Nil returns the sentinel handle meaning "no node".
	Nil() N

	Prev(n N) N
	SetPrev(n, v N)
	Next(n N) N
	SetNext(n, v N)
}

// List is an intrusive doubly linked list over handle type N.
type List[N comparable] struct {
	a          Accessor[N]
	head, tail N
}

// New returns an initialized empty list using the given Accessor.
func New[N comparable](a Accessor[N]) *List[N] {
	l := &List[N]{a: a}
	l.Init()
	return l
}

// Init clears the list to empty.
func (l *List[N]) Init() {
	nilv := l.a.Nil()
	l.head, l.tail = nilv, nilv
}

// Empty reports whether the list has no elements.
func (l *List[N]) Empty() bool {
	return l.head == l.a.Nil()
}

// Front returns the head handle, or the nil handle if empty.
func (l *List[N]) Front() N { return l.head }

// Back returns the tail handle, or the nil handle if empty.
func (l *List[N]) Back() N { return l.tail }

// PushFront inserts n at the head. n must not already be a member of any
// list.
func (l *List[N]) PushFront(n N) {
	nilv := l.a.Nil()
	l.a.SetPrev(n, nilv)
	l.a.SetNext(n, l.head)
	if l.head != nilv {
		l.a.SetPrev(l.head, n)
	} else {
		l.tail = n
	}
	l.head = n
}

// PushBack inserts n at the tail. n must not already be a member of any
// list.
func (l *List[N]) PushBack(n N) {
	nilv := l.a.Nil()
	l.a.SetNext(n, nilv)
	l.a.SetPrev(n, l.tail)
	if l.tail != nilv {
		l.a.SetNext(l.tail, n)
	} else {
		l.head = n
	}
	l.tail = n
}

// PopFront detaches and returns the head, or the nil handle if empty.
func (l *List[N]) PopFront() N {
	n := l.head
	if n == l.a.Nil() {
		return n
	}
	l.Remove(n)
	return n
}

// PopBack detaches and returns the tail, or the nil handle if empty.
func (l *List[N]) PopBack() N {
	n := l.tail
	if n == l.a.Nil() {
		return n
	}
	l.Remove(n)
	return n
}

// PushBefore inserts n immediately before ref. ref must already be a
// member of l; n must not be a member of any list.
func (l *List[N]) PushBefore(ref, n N) {
	nilv := l.a.Nil()
	prev := l.a.Prev(ref)
	l.a.SetPrev(n, prev)
	l.a.SetNext(n, ref)
	if prev != nilv {
		l.a.SetNext(prev, n)
	} else {
		l.head = n
	}
	l.a.SetPrev(ref, n)
}

// PushAfter inserts n immediately after ref. ref must already be a
// member of l; n must not be a member of any list.
func (l *List[N]) PushAfter(ref, n N) {
	nilv := l.a.Nil()
	next := l.a.Next(ref)
	l.a.SetNext(n, next)
	l.a.SetPrev(n, ref)
	if next != nilv {
		l.a.SetPrev(next, n)
	} else {
		l.tail = n
	}
	l.a.SetNext(ref, n)
}

// Remove detaches n, which must be a member of l. Handles n being the
// head, the tail, both (single-element list) or interior.
func (l *List[N]) Remove(n N) {
	nilv := l.a.Nil()
	prev := l.a.Prev(n)
	next := l.a.Next(n)

	if prev != nilv {
		l.a.SetNext(prev, next)
	} else {
		l.head = next
	}
	if next != nilv {
		l.a.SetPrev(next, prev)
	} else {
		l.tail = prev
	}

	l.a.SetPrev(n, nilv)
	l.a.SetNext(n, nilv)
}

// Reset clears head/tail without touching any node's link fields. Only
// safe when every member is being discarded along with the list.
func (l *List[N]) Reset() {
	l.Init()
}

// Len walks the list and counts its elements. O(n); diagnostic use only.
func (l *List[N]) Len() int {
	n := 0
	nilv := l.a.Nil()
	for cur := l.head; cur != nilv; cur = l.a.Next(cur) {
		n++
	}
	return n
}
