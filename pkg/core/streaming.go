package core

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const streamingPayloadPrefix = "STREAMING-"

// isStreamingPayload reports whether the body uses aws-chunked encoding.
func isStreamingPayload(r *http.Request) bool {
	return strings.HasPrefix(strings.ToUpper(r.Header.Get("X-Amz-Content-Sha256")), streamingPayloadPrefix)
}

// decodedContentLength parses X-Amz-Decoded-Content-Length.
func decodedContentLength(r *http.Request) (int64, error) {
	value := r.Header.Get("X-Amz-Decoded-Content-Length")
	if value == "" {
		return 0, errors.New("missing X-Amz-Decoded-Content-Length for streaming payload")
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid X-Amz-Decoded-Content-Length %q", value)
	}
	return n, nil
}

// decodeStreamingPayload strips the aws-chunked framing from body and writes
// the payload to dst. Chunk signatures are not verified. The decoded length
// must equal decodedLen.
func decodeStreamingPayload(dst io.Writer, body io.Reader, decodedLen int64) (int64, error) {
	br := bufio.NewReader(body)

	var written int64
	buf := make([]byte, 32*1024)

	for {
		// <size-hex>[;chunk-signature=...]\r\n
		line, err := br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return written, errors.New("unexpected EOF while reading chunk header")
			}
			return written, fmt.Errorf("read chunk header: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		if idx := strings.IndexByte(line, ';'); idx != -1 {
			line = line[:idx]
		}

		sizeHex := strings.TrimSpace(line)
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return written, fmt.Errorf("parse chunk size %q: %w", sizeHex, err)
		}

		if size == 0 {
			// trailers, if any, are ignored
			_, _ = br.ReadString('\n')
			break
		}

		limited := &io.LimitedReader{R: br, N: size}
		n, err := io.CopyBuffer(dst, limited, buf)
		written += n
		if err != nil {
			return written, fmt.Errorf("read chunk body: %w", err)
		}
		if n != size {
			return written, fmt.Errorf("short read while reading chunk body: expected %d bytes, got %d", size, n)
		}

		if err := expectCRLF(br); err != nil {
			return written, err
		}
	}

	if written != decodedLen {
		return written, fmt.Errorf("decoded %d bytes, X-Amz-Decoded-Content-Length is %d", written, decodedLen)
	}
	return written, nil
}

func expectCRLF(br *bufio.Reader) error {
	for _, want := range []byte{'\r', '\n'} {
		b, err := br.ReadByte()
		if err != nil {
			return fmt.Errorf("read chunk terminator: %w", err)
		}
		if b != want {
			return fmt.Errorf("expected %q after chunk, got %q", want, b)
		}
	}
	return nil
}
