package crawlcore

import (
	"fmt"
	"io"
	"os"
)

// CappedReadAll reads up to maxBytes from r into memory. If the stream
// exceeds maxBytes and spillToDisk is true, the already-read prefix plus the
// remainder are streamed to a temp file instead of returning ErrBodyTooLarge,
// and the returned path is non-empty while the returned []byte is nil.
func CappedReadAll(r io.Reader, maxBytes int64, spillToDisk bool, tmpDir string) ([]byte, string, error) {
	limited := io.LimitReader(r, maxBytes+1)
	buf, err := io.ReadAll(limited)
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	if int64(len(buf)) <= maxBytes {
		return buf, "", nil
	}
	if !spillToDisk {
		return nil, "", ErrBodyTooLarge
	}

	tmp, err := os.CreateTemp(tmpDir, "deepharvest-body-*.bin")
	if err != nil {
		return nil, "", fmt.Errorf("create spill file: %w", err)
	}
	defer tmp.Close()

	if _, err := tmp.Write(buf); err != nil {
		os.Remove(tmp.Name())
		return nil, "", fmt.Errorf("write spill prefix: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		os.Remove(tmp.Name())
		return nil, "", fmt.Errorf("stream spill remainder: %w", err)
	}
	return nil, tmp.Name(), nil
}
