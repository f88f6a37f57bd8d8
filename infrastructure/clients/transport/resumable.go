package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// StatusResumeIncomplete is the "continue from here" status used by
// resumable-range upload protocols.
const StatusResumeIncomplete = 308

// UploadResumable PUTs the content to uploadURL in ranged chunks. A 308
// response means continue with the next range; any 2xx means done and its
// body is returned. Any other status is fatal: there is no
// resume-from-last-confirmed-offset recovery, the caller's job fails with an
// upload error.
func UploadResumable(ctx context.Context, client Doer, uploadURL string, r io.Reader, size, chunkSize int64, report func(fraction float64)) ([]byte, error) {
	if chunkSize <= 0 {
		chunkSize = ChunkSize
	}
	buf := make([]byte, chunkSize)
	var offset int64
	for {
		n, err := io.ReadFull(r, buf)
		if n == 0 {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, fmt.Errorf("resumable upload ended before server acknowledged completion")
			}
			return nil, err
		}
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return nil, err
		}

		req, rErr := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(buf[:n]))
		if rErr != nil {
			return nil, rErr
		}
		req.Header.Set("Content-Length", fmt.Sprintf("%d", n))
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+int64(n)-1, size))
		resp, dErr := client.Do(req)
		if dErr != nil {
			return nil, dErr
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		offset += int64(n)
		if report != nil && size > 0 {
			report(float64(offset) / float64(size))
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return body, nil
		case resp.StatusCode == StatusResumeIncomplete:
			// keep going with the next range
		default:
			return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
		}
	}
}
