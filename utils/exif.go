package utils

import (
	"bytes"
	"encoding/binary"
)

// ReadExifOrientation returns the EXIF orientation (1-8) of a JPEG, or 0 when
// the data carries none.  Only the APP1 segment is inspected; pixel data is
// never touched.
func ReadExifOrientation(data []byte) int {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return 0
	}
	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xFF {
			return 0
		}
		marker := data[pos+1]
		// SOS or EOI: no metadata after this point.
		if marker == 0xDA || marker == 0xD9 {
			return 0
		}
		length := int(binary.BigEndian.Uint16(data[pos+2:]))
		if length < 2 || pos+2+length > len(data) {
			return 0
		}
		segment := data[pos+4 : pos+2+length]
		if marker == 0xE1 && bytes.HasPrefix(segment, []byte("Exif\x00\x00")) {
			return orientationFromTIFF(segment[6:])
		}
		pos += 2 + length
	}
	return 0
}

func orientationFromTIFF(tiff []byte) int {
	if len(tiff) < 8 {
		return 0
	}
	var order binary.ByteOrder
	switch string(tiff[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return 0
	}
	ifd := int(order.Uint32(tiff[4:]))
	if ifd < 8 || ifd+2 > len(tiff) {
		return 0
	}
	count := int(order.Uint16(tiff[ifd:]))
	for i := 0; i < count; i++ {
		entry := ifd + 2 + i*12
		if entry+12 > len(tiff) {
			return 0
		}
		if order.Uint16(tiff[entry:]) != 0x0112 {
			continue
		}
		v := int(order.Uint16(tiff[entry+8:]))
		if v < 1 || v > 8 {
			return 0
		}
		return v
	}
	return 0
}
