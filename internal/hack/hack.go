// Package hack collects unsafe, representation-level helpers used where a
// copy or a bounds-checked path would be wasted work.
package hack

import "unsafe"

type sliceHeader struct {
	Data uintptr
	Len  int
	Cap  int
}

type strHeader struct {
	Data uintptr
	Len  int
}

// ByteSliceToString converts []byte to string without copy
func ByteSliceToString(b []byte) string {
	return *(*string)(unsafe.Pointer(&b))
}

// StringToByteSlice converts string to []byte without copy
func StringToByteSlice(s string) []byte {
	var v []byte
	p0 := (*sliceHeader)(unsafe.Pointer(&v))
	p1 := (*strHeader)(unsafe.Pointer(&s))
	p0.Data = p1.Data
	p0.Len = p1.Len
	p0.Cap = p1.Len
	return v
}

// SliceDataPointer returns the address of b's backing array, the same
// address arithmetic over offsets into an arena needs to recover a byte
// offset from a []byte a caller holds. b may be empty: the address is read
// from b's slice header, never by indexing b.
func SliceDataPointer(b []byte) unsafe.Pointer {
	return unsafe.Pointer((*sliceHeader)(unsafe.Pointer(&b)).Data)
}
