package transport

import (
	"context"
	"io"
)

// ChunkSize is the fixed append-chunk size shared by chunked-upload
// platforms.
const ChunkSize int64 = 4 * 1024 * 1024

// ChunkSink receives one chunk per call. Chunks are delivered strictly in
// order: chunk n+1 is not read until the sink returned for chunk n, because
// later chunks depend on the byte-range state established by earlier ones.
type ChunkSink func(ctx context.Context, index int, total int, data []byte) error

// UploadChunks splits r (of known size) into fixed-size chunks and feeds them
// to sink sequentially, reporting progress as chunks-sent over total chunks.
func UploadChunks(ctx context.Context, r io.Reader, size, chunkSize int64, sink ChunkSink, report func(fraction float64)) error {
	if chunkSize <= 0 {
		chunkSize = ChunkSize
	}
	total := int((size + chunkSize - 1) / chunkSize)
	if total == 0 {
		total = 1
	}
	buf := make([]byte, chunkSize)
	for index := 0; ; index++ {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if sErr := sink(ctx, index, total, buf[:n]); sErr != nil {
				return sErr
			}
			if report != nil {
				report(float64(index+1) / float64(total))
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
