package protocol

// Encoder packs messages into frames with a rolling sequence number.
// It is not safe for concurrent use.
type Encoder struct {
	seq uint8
}

func NewEncoder() *Encoder {
	return &Encoder{}
}

// AppendFrame appends one frame carrying msgs to dst. On ErrFrameTooLong dst
// is returned unchanged and the sequence does not advance.
func (e *Encoder) AppendFrame(dst []byte, msgs ...Message) ([]byte, error) {
	start := len(dst)
	dst = append(dst, 0, SeqDest|e.seq)
	for _, m := range msgs {
		dst = appendMessage(dst, m)
	}

	n := len(dst) - start + FrameTrailerSize
	if n > FrameMax {
		return dst[:start], ErrFrameTooLong
	}
	dst[start+framePosLen] = uint8(n)

	crc := CRC16(dst[start:])
	dst = append(dst, uint8(crc>>8), uint8(crc), SyncByte)

	e.seq = (e.seq + 1) & SeqMask
	return dst, nil
}

// Reset restarts the sequence at zero
func (e *Encoder) Reset() {
	e.seq = 0
}

// DecoderStats counts link errors seen by a Decoder
type DecoderStats struct {
	Frames  uint64 // frames accepted
	Dropped uint64 // frames rejected for length, sync, CRC or content
	Lost    uint64 // frames skipped according to the sequence numbers
}

// Decoder reassembles frames from a byte stream. After a bad frame it drops
// bytes up to the next sync byte before looking for a header again.
type Decoder struct {
	buf     []byte
	synced  bool
	nextSeq uint8
	started bool
	stats   DecoderStats
}

func NewDecoder() *Decoder {
	return &Decoder{synced: true}
}

// Feed appends data to the stream and returns the messages of every complete
// frame it now holds.
func (d *Decoder) Feed(data []byte) []Message {
	d.buf = append(d.buf, data...)
	var out []Message

	buf := d.buf
	for len(buf) > 0 {
		if !d.synced {
			i := 0
			for i < len(buf) && buf[i] != SyncByte {
				i++
			}
			if i == len(buf) {
				buf = nil
				break
			}
			buf = buf[i+1:]
			d.synced = true
			continue
		}

		if buf[0] == SyncByte {
			buf = buf[1:]
			continue
		}
		if len(buf) < FrameMin {
			break
		}

		n := int(buf[framePosLen])
		seq := buf[framePosSeq]
		if n < FrameMin || n > FrameMax || seq&^SeqMask != SeqDest {
			d.desync()
			continue
		}
		if len(buf) < n {
			break
		}

		frame := buf[:n]
		buf = buf[n:]
		if frame[n-1] != SyncByte {
			d.desync()
			continue
		}
		crc := uint16(frame[n-frameTrailerCRC])<<8 | uint16(frame[n-frameTrailerCRC+1])
		if crc != CRC16(frame[:n-FrameTrailerSize]) {
			d.desync()
			continue
		}

		msgs, err := decodeMessages(frame[FrameHeaderSize : n-FrameTrailerSize])
		if err != nil {
			d.stats.Dropped++
			continue
		}

		seq &= SeqMask
		if d.started {
			d.stats.Lost += uint64((seq - d.nextSeq) & SeqMask)
		}
		d.started = true
		d.nextSeq = (seq + 1) & SeqMask
		d.stats.Frames++
		out = append(out, msgs...)
	}

	// keep the unconsumed tail at the front of the buffer
	d.buf = append(d.buf[:0], buf...)
	return out
}

// Stats returns the link error counters
func (d *Decoder) Stats() DecoderStats {
	return d.stats
}

// Reset drops buffered bytes and sequence state
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.synced = true
	d.started = false
	d.nextSeq = 0
}

func (d *Decoder) desync() {
	d.synced = false
	d.stats.Dropped++
}

func decodeMessages(payload []byte) ([]Message, error) {
	var msgs []Message
	for len(payload) > 0 {
		m, err := decodeMessage(&payload)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
