package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Codec encodes/decodes Messages to/from bytes. This is the concrete
// implementation of the framing collaborator spec.md §1 treats as external
// ("assumed to expose encode(message)→bytes / decode(bytes)→message").
// Header layout (big-endian, fixed 24 bytes) followed by the signature
// string (length-prefixed) and the (optionally compressed) payload:
//
//	version   uint8
//	type      uint8
//	flags     uint32
//	serviceID uint32
//	objectID  uint32
//	methodID  uint32
//	messageID uint32
//	sigLen    uint16
//	sig       []byte (sigLen bytes)
//	payload   []byte (remainder)
const headerSize = 1 + 1 + 4 + 4 + 4 + 4 + 4 + 2

// Codec bundles a compressor so repeated Encode/Decode calls reuse it
// (zstd encoders/decoders are not cheap to construct per spec.md's framing
// collaborator contract, which is called on every message).
type Codec struct {
	compressThreshold int
	enc               *zstd.Encoder
	dec               *zstd.Decoder
}

// NewCodec builds a Codec that compresses payloads at or above
// compressThreshold bytes. A non-positive threshold disables compression.
func NewCodec(compressThreshold int) (*Codec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("wire: new zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("wire: new zstd decoder: %w", err)
	}
	return &Codec{compressThreshold: compressThreshold, enc: enc, dec: dec}, nil
}

// Close releases the codec's compressor resources.
func (c *Codec) Close() {
	c.enc.Close()
	c.dec.Close()
}

// Encode serializes a Message to bytes.
func (c *Codec) Encode(m Message) ([]byte, error) {
	payload := m.Payload
	flags := m.Flags
	if c.compressThreshold > 0 && len(payload) >= c.compressThreshold && !flags.Has(FlagCompressed) {
		payload = c.enc.EncodeAll(payload, nil)
		flags |= FlagCompressed
	}

	sig := []byte(m.Signature)
	if len(sig) > 0xFFFF {
		return nil, fmt.Errorf("wire: signature too long: %d bytes", len(sig))
	}

	buf := bytes.NewBuffer(make([]byte, 0, headerSize+len(sig)+len(payload)))
	header := [headerSize]byte{}
	header[0] = m.Version
	header[1] = byte(m.Type)
	binary.BigEndian.PutUint32(header[2:6], uint32(flags))
	binary.BigEndian.PutUint32(header[6:10], m.Address.ServiceID)
	binary.BigEndian.PutUint32(header[10:14], m.Address.ObjectID)
	binary.BigEndian.PutUint32(header[14:18], m.Address.MethodID)
	binary.BigEndian.PutUint32(header[18:22], m.Address.MessageID)
	binary.BigEndian.PutUint16(header[22:24], uint16(len(sig)))
	buf.Write(header[:])
	buf.Write(sig)
	buf.Write(payload)
	return buf.Bytes(), nil
}

// Decode deserializes bytes into a Message.
func (c *Codec) Decode(b []byte) (Message, error) {
	if len(b) < headerSize {
		return Message{}, io.ErrUnexpectedEOF
	}
	var m Message
	m.Version = b[0]
	m.Type = Type(b[1])
	m.Flags = Flags(binary.BigEndian.Uint32(b[2:6]))
	m.Address.ServiceID = binary.BigEndian.Uint32(b[6:10])
	m.Address.ObjectID = binary.BigEndian.Uint32(b[10:14])
	m.Address.MethodID = binary.BigEndian.Uint32(b[14:18])
	m.Address.MessageID = binary.BigEndian.Uint32(b[18:22])
	sigLen := int(binary.BigEndian.Uint16(b[22:24]))
	rest := b[headerSize:]
	if len(rest) < sigLen {
		return Message{}, io.ErrUnexpectedEOF
	}
	m.Signature = string(rest[:sigLen])
	payload := rest[sigLen:]

	if m.Flags.Has(FlagCompressed) {
		decoded, err := c.dec.DecodeAll(payload, nil)
		if err != nil {
			return Message{}, fmt.Errorf("wire: zstd decode: %w", err)
		}
		payload = decoded
		m.Flags &^= FlagCompressed
	}
	m.Payload = payload
	return m, nil
}
