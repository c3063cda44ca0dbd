// internal/transport/crc.go
package transport

// crc16 computes the Modbus RTU CRC (poly 0xA001, init 0xFFFF).
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// appendCRC appends the CRC low byte first, as it goes on the wire.
func appendCRC(frame []byte) []byte {
	crc := crc16(frame)
	return append(frame, byte(crc), byte(crc>>8))
}

// checkCRC validates the trailing two CRC bytes of a full frame.
func checkCRC(frame []byte) bool {
	if len(frame) < 3 {
		return false
	}
	n := len(frame) - 2
	rx := uint16(frame[n]) | uint16(frame[n+1])<<8
	return rx == crc16(frame[:n])
}
