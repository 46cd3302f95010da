package network

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Frames are a big-endian uint32 length followed by that many bytes. A zero
// length frame is a keep-alive.

func writeFrame(w io.Writer, data []byte) error {
	if len(data) > maxMsgSize {
		return fmt.Errorf("frame of %d bytes exceeds %d", len(data), maxMsgSize)
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return fmt.Errorf("failed to write message length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func writeKeepAlive(w io.Writer) error {
	return binary.Write(w, binary.BigEndian, uint32(0))
}

// readFrame returns nil data for a keep-alive.
func readFrame(r io.Reader) ([]byte, error) {
	var msgLen uint32
	if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
		return nil, err
	}
	if msgLen == 0 {
		return nil, nil
	}
	if msgLen > maxMsgSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds %d", msgLen, maxMsgSize)
	}
	data := make([]byte, msgLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
