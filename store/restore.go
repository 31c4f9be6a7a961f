// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package store

import (
	"encoding/binary"
	"fmt"
)

// Restore copies a complete object image, as returned by Object.Image, into
// the heap and points the object's locator at the copy. It is used to
// rebuild a heap from the durable log.
func Restore(heap *Heap, locators LocatorTable, image []byte) (ID, error) {
	if len(image) < ObjectHeaderSize {
		return InvalidID, NewErrInvalidObject(InvalidOffset, fmt.Sprintf("image of %d bytes is shorter than a header", len(image)))
	}
	id := ID(binary.LittleEndian.Uint64(image[objIDPos:]))
	if id == InvalidID {
		return InvalidID, NewErrInvalidObject(InvalidOffset, "image carries the invalid id")
	}
	if uint64(id) >= uint64(locators.Len()) {
		return InvalidID, NewErrLocatorsExhausted(id, locators.Len())
	}
	if size := binary.LittleEndian.Uint64(image[objPayloadSizePos:]); size != uint64(len(image)-ObjectHeaderSize) {
		return InvalidID, NewErrInvalidObject(InvalidOffset, fmt.Sprintf("image payload size %d does not match its length %d", size, len(image)))
	}

	off, err := heap.Allocate(uint64(len(image)))
	if err != nil {
		return InvalidID, err
	}
	copy(heap.Bytes()[off:], image)
	if _, err := ObjectAt(heap.Bytes(), off); err != nil {
		return InvalidID, err
	}
	heap.ReserveID(id)
	locators.Set(id, off)
	return id, nil
}
