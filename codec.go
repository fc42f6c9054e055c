package serialbridge

import (
	"bytes"
	"errors"
	"fmt"
)

// Codec splits a byte stream into chunks and joins chunks back into a stream.
//
// Decode returns nil, nil when src holds no complete unit yet.
type Codec interface {
	Decode(src *bytes.Buffer) ([]byte, error)
	Encode(chunk []byte, dst *bytes.Buffer) error
}

// RawCodec treats whatever is currently buffered as one chunk. It imposes no
// message boundaries; callers that need them frame on top of the chunks.
type RawCodec struct{}

func (RawCodec) Decode(src *bytes.Buffer) ([]byte, error) {
	if src.Len() == 0 {
		return nil, nil
	}
	return bytes.Clone(src.Next(src.Len())), nil
}

func (RawCodec) Encode(chunk []byte, dst *bytes.Buffer) error {
	dst.Write(chunk)
	return nil
}

// Framed couples a Port with a Codec. It is not safe for concurrent use by
// more than one reader and one writer.
type Framed struct {
	port  Port
	codec Codec

	rd bytes.Buffer
	wr bytes.Buffer
}

func NewFramed(port Port, codec Codec) *Framed {
	if codec == nil {
		codec = RawCodec{}
	}
	return &Framed{port: port, codec: codec}
}

// ReadChunks performs a single Read into buf and returns every chunk the
// codec can decode afterwards. Chunks may be returned together with an error.
func (f *Framed) ReadChunks(buf []byte) ([][]byte, error) {
	n, readErr := f.port.Read(buf)
	if n > 0 {
		f.rd.Write(buf[:n])
	}

	var chunks [][]byte
	for f.rd.Len() > 0 {
		chunk, err := f.codec.Decode(&f.rd)
		if err != nil {
			return chunks, errors.Join(err, wrapTransport(readErr))
		}
		if chunk == nil {
			break
		}
		chunks = append(chunks, chunk)
	}
	return chunks, wrapTransport(readErr)
}

// WriteChunk encodes chunk and writes the whole frame, retrying partial writes.
func (f *Framed) WriteChunk(chunk []byte) (int, error) {
	f.wr.Reset()
	if err := f.codec.Encode(chunk, &f.wr); err != nil {
		return 0, err
	}

	frame := f.wr.Bytes()
	written := 0
	for written < len(frame) {
		n, err := f.port.Write(frame[written:])
		written += n
		if err != nil {
			return written, wrapTransport(err)
		}
		if n == 0 {
			return written, fmt.Errorf("%w: partial write: %d of %d bytes", ErrTransport, written, len(frame))
		}
	}
	return written, nil
}

func wrapTransport(err error) error {
	if err == nil || errors.Is(err, ErrTransport) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}
