// Package transfer implements the sender and receiver engines: the
// end-to-end flow that turns a validated local file and a relay pairing
// into an encrypted, integrity-checked stream of chunks.
package transfer

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"

	"github.com/rshare/rshare/rerr"
)

// DefaultChunkSize is the plaintext size of each chunk read from disk
// before encryption when SendConfig.ChunkSize is not set. The receiver
// reads each frame by its length prefix, so the peers need not agree on it.
const DefaultChunkSize = 1024 * 1024

// hashChunkSize is the buffer size used only for the local SHA-256 pass;
// it has no bearing on the wire chunk size.
const hashChunkSize = 64 * 1024

const lengthPrefixSize = 4

// doneSignal is what the receiver writes back once the file has been
// fully received and integrity-checked.
const doneSignal = "DONE\n"

// ProgressFunc is invoked after each chunk of plaintext bytes has been
// processed. transferred is cumulative, total is the full file size.
type ProgressFunc func(transferred, total uint64)

func noopProgress(uint64, uint64) {}

// hashFile computes the lowercase hex SHA-256 of the file at path and
// returns its size in bytes.
func hashFile(path string) (hashHex string, size uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, rerr.WrapFileError(err, "open file for hashing")
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	var total uint64
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			total += uint64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", 0, rerr.WrapFileError(readErr, "read file for hashing")
		}
	}
	return hex.EncodeToString(h.Sum(nil)), total, nil
}

func putLengthPrefix(buf []byte, n int) {
	binary.BigEndian.PutUint32(buf, uint32(n))
}

func readLengthPrefix(buf []byte) uint32 {
	return binary.BigEndian.Uint32(buf)
}

// sanitizeFilename rejects any filename that is not a bare, single path
// component: no separators, and not "." or "..". The receiver never
// rewrites a hostile name to something safe, it refuses the transfer.
func sanitizeFilename(name string) error {
	if name == "" {
		return rerr.InvalidInput("filename must not be empty")
	}
	if name == "." || name == ".." {
		return rerr.InvalidInput("filename %q is not a valid file name", name)
	}
	for _, r := range name {
		if r == '/' || r == '\\' || r == 0 {
			return rerr.InvalidInput("filename %q must not contain path separators", name)
		}
	}
	return nil
}
