package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const startByte byte = 0x99

const (
	LOGIN           byte = 0x01
	LOCATION_UPDATE byte = 0x02
	SAT_UPDATE      byte = 0x03
	GPS_ERROR       byte = 0x04
	GPS_INIT        byte = 0x05
	STATUS          byte = 0x06
)

var errBadFrame = errors.New("bad frame")

type FrameMessage struct {
	Length   int
	Protocol byte
	Payload  []byte
	Buffer   []byte
}

// ReadMessage reads one frame into msg.Buffer:
// 0x99 | protocol | payload length (uint16 LE) | payload | '\n'
func ReadMessage(r io.Reader, msg *FrameMessage) error {
	if len(msg.Buffer) < 5 {
		return fmt.Errorf("buffer too small")
	}
	_, err := io.ReadFull(r, msg.Buffer[:4])
	if err != nil {
		return err
	}
	if msg.Buffer[0] != startByte {
		return errBadFrame
	}
	msg.Protocol = msg.Buffer[1]
	msg.Length = int(binary.LittleEndian.Uint16(msg.Buffer[2:4])) + 5
	if len(msg.Buffer) < msg.Length {
		return fmt.Errorf("buffer too small for frame of %d bytes", msg.Length)
	}
	_, err = io.ReadFull(r, msg.Buffer[4:msg.Length])
	if err != nil {
		return err
	}
	if msg.Buffer[msg.Length-1] != '\n' {
		return errBadFrame
	}
	msg.Payload = msg.Buffer[4 : msg.Length-1]
	return nil
}

func WriteMessage(w io.Writer, protocol byte, payload []byte) error {
	if len(payload) > 0xffff {
		return fmt.Errorf("payload too large: %d", len(payload))
	}
	buf := make([]byte, 4, len(payload)+5)
	buf[0] = startByte
	buf[1] = protocol
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(payload)))
	buf = append(buf, payload...)
	buf = append(buf, '\n')
	_, err := w.Write(buf)
	return err
}
