package hardware

import (
	"encoding/binary"
	"fmt"
)

// CCID bulk message framing used by ACR122U feature reports.
const (
	ccidXfrBlock  byte = 0x6F
	ccidDataBlock byte = 0x80
	ccidHeaderLen      = 10

	// legacyDataOffset is where older firmware places the APDU response
	// when the reply carries no usable DataBlock header.
	legacyDataOffset = 10
)

func buildXfrBlock(seq byte, apdu []byte) []byte {
	frame := make([]byte, ccidHeaderLen, ccidHeaderLen+len(apdu))
	frame[0] = ccidXfrBlock
	binary.LittleEndian.PutUint32(frame[1:5], uint32(len(apdu)))
	frame[5] = 0x00 // slot
	frame[6] = seq
	return append(frame, apdu...)
}

// parseDataBlock returns the APDU response (data plus status word) carried in
// a reader reply. Replies too short to hold a status word are rejected.
func parseDataBlock(resp []byte) ([]byte, error) {
	if len(resp) < ccidHeaderLen+2 {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortResponse, len(resp))
	}
	if resp[0] == ccidDataBlock {
		n := int(binary.LittleEndian.Uint32(resp[1:5]))
		if n >= 2 && ccidHeaderLen+n <= len(resp) {
			return resp[ccidHeaderLen : ccidHeaderLen+n], nil
		}
	}
	return resp[legacyDataOffset:], nil
}
