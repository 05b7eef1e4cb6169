package transfer

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/rshare/rshare/contacts"
	"github.com/rshare/rshare/identity"
	"github.com/rshare/rshare/internal/logger"
	"github.com/rshare/rshare/internal/metrics"
	"github.com/rshare/rshare/relay"
	"github.com/rshare/rshare/rerr"
	"github.com/rshare/rshare/sessioncrypto"
)

const (
	signalFailedSignature = "ERROR:signature_failed\n"
	signalHashMismatch    = "ERROR:hash_mismatch\n"
)

// ReceiveConfig carries everything the receiver engine needs for one
// transfer.
type ReceiveConfig struct {
	ExpectedSenderName string
	DownloadDir        string
	OnProgress         ProgressFunc
}

// ReceiveResult summarizes a completed receive.
type ReceiveResult struct {
	SessionID    string
	Filename     string
	OutputPath   string
	BytesWritten uint64
	FileHash     string
}

// Receiver drives inbound transfers for a single identity against a
// relay and contact book.
type Receiver struct {
	identity *identity.KeyPair
	contacts *contacts.Store
	relay    *relay.Client
}

// NewReceiver constructs a Receiver bound to id, book, and the relay
// client rc.
func NewReceiver(id *identity.KeyPair, book *contacts.Store, rc *relay.Client) *Receiver {
	return &Receiver{identity: id, contacts: book, relay: rc}
}

// Receive runs the full receiver flow: resolve the expected sender, open
// a relay session, verify the sender's identity and metadata signature,
// and stream-decrypt the file to disk with an integrity check at the end.
func (r *Receiver) Receive(ctx context.Context, cfg ReceiveConfig) (*ReceiveResult, error) {
	start := time.Now()
	progress := cfg.OnProgress
	if progress == nil {
		progress = noopProgress
	}

	transferID := uuid.New().String()
	ctx = context.WithValue(ctx, logger.CtxTransferID, transferID)
	log := logger.GetDefaultLogger().WithContext(ctx)

	metrics.TransfersStarted.WithLabelValues("receiver").Inc()
	metrics.TransfersActive.Inc()
	defer metrics.TransfersActive.Dec()

	expectedSender, err := r.contacts.Find(cfg.ExpectedSenderName)
	if err != nil {
		metrics.TransfersCompleted.WithLabelValues("receiver", "error").Inc()
		return nil, err
	}

	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		metrics.TransfersCompleted.WithLabelValues("receiver", "error").Inc()
		return nil, rerr.WrapFileError(err, "create download directory")
	}

	ephemeral, err := sessioncrypto.GenerateEphemeral()
	if err != nil {
		metrics.TransfersCompleted.WithLabelValues("receiver", "error").Inc()
		return nil, err
	}
	defer ephemeral.Zeroize()

	log.Info("waiting for sender to connect", logger.String("expected_sender", cfg.ExpectedSenderName))

	session, err := r.relay.Listen(ctx, r.identity.Fingerprint(), ephemeral.PublicHex())
	if err != nil {
		metrics.TransfersCompleted.WithLabelValues("receiver", "error").Inc()
		return nil, err
	}
	defer session.Close()
	defer context.AfterFunc(ctx, func() { session.Close() })()

	if session.SenderFp != expectedSender.Fingerprint {
		metrics.TransfersCompleted.WithLabelValues("receiver", "error").Inc()
		return nil, rerr.InvalidInput("sender fingerprint mismatch! expected %s, got %s", expectedSender.Fingerprint, session.SenderFp)
	}

	envelope := identity.Envelope(session.Filename, session.FileSize, session.FileHash)
	signature, err := hex.DecodeString(session.Signature)
	if err != nil {
		metrics.TransfersCompleted.WithLabelValues("receiver", "error").Inc()
		return nil, rerr.InvalidInput("invalid signature hex: %v", err)
	}
	if err := identity.Verify(session.SenderFp, envelope, signature); err != nil {
		session.WriteAll([]byte(signalFailedSignature))
		session.Flush()
		metrics.TransfersCompleted.WithLabelValues("receiver", "signature_failed").Inc()
		return nil, rerr.WrapCryptoError(err, "signature verification failed")
	}

	key, err := sessioncrypto.DeriveKey(ephemeral, session.SenderEphemeralKey, session.SessionID)
	if err != nil {
		metrics.TransfersCompleted.WithLabelValues("receiver", "error").Inc()
		return nil, err
	}

	if err := sanitizeFilename(session.Filename); err != nil {
		metrics.TransfersCompleted.WithLabelValues("receiver", "error").Inc()
		return nil, err
	}
	outputPath := filepath.Join(cfg.DownloadDir, session.Filename)

	written, err := r.streamToFile(session, key, outputPath, progress)
	if err != nil {
		metrics.TransfersCompleted.WithLabelValues("receiver", "interrupted").Inc()
		return nil, err
	}

	computedHash, err := r.verifyIntegrity(session, outputPath)
	if err != nil {
		metrics.TransfersCompleted.WithLabelValues("receiver", "hash_mismatch").Inc()
		return nil, err
	}

	if err := session.WriteAll([]byte(doneSignal)); err != nil {
		metrics.TransfersCompleted.WithLabelValues("receiver", "error").Inc()
		return nil, err
	}
	if err := session.Flush(); err != nil {
		metrics.TransfersCompleted.WithLabelValues("receiver", "error").Inc()
		return nil, err
	}

	metrics.TransfersCompleted.WithLabelValues("receiver", "success").Inc()
	metrics.TransferDuration.WithLabelValues("receiver").Observe(time.Since(start).Seconds())
	metrics.BytesTransferred.WithLabelValues("receiver").Add(float64(written))

	return &ReceiveResult{
		SessionID:    session.SessionID,
		Filename:     session.Filename,
		OutputPath:   outputPath,
		BytesWritten: written,
		FileHash:     computedHash,
	}, nil
}

// remapConnectionClosedEarly turns a short read against the relay socket
// (the peer closing the connection before FileSize bytes arrived) into an
// InvalidInput error instead of the NetworkError ReadExact wraps it as.
func remapConnectionClosedEarly(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return rerr.InvalidInput("transfer interrupted - connection closed early")
	}
	return err
}

func (r *Receiver) streamToFile(session *relay.TransferSession, key []byte, outputPath string, progress ProgressFunc) (uint64, error) {
	out, err := os.Create(outputPath)
	if err != nil {
		return 0, rerr.WrapFileError(err, "create output file")
	}

	cleanup := func() {
		out.Close()
		os.Remove(outputPath)
	}

	var total uint64
	lenBuf := make([]byte, lengthPrefixSize)

	for total < session.FileSize {
		if err := session.ReadExact(lenBuf); err != nil {
			cleanup()
			return total, remapConnectionClosedEarly(err)
		}
		frameLen := readLengthPrefix(lenBuf)
		framed := make([]byte, frameLen)
		if err := session.ReadExact(framed); err != nil {
			cleanup()
			return total, remapConnectionClosedEarly(err)
		}

		plaintext, err := sessioncrypto.DecryptChunk(key, framed)
		if err != nil {
			cleanup()
			return total, err
		}

		if _, err := out.Write(plaintext); err != nil {
			cleanup()
			return total, rerr.WrapFileError(err, "write to output file")
		}

		metrics.ChunkSize.WithLabelValues("inbound").Observe(float64(len(framed)))
		total += uint64(len(plaintext))
		progress(total, session.FileSize)
	}

	if err := out.Close(); err != nil {
		os.Remove(outputPath)
		return total, rerr.WrapFileError(err, "close output file")
	}
	return total, nil
}

func (r *Receiver) verifyIntegrity(session *relay.TransferSession, outputPath string) (string, error) {
	computedHash, _, err := hashFile(outputPath)
	if err != nil {
		os.Remove(outputPath)
		return "", err
	}

	if computedHash != session.FileHash {
		os.Remove(outputPath)
		session.WriteAll([]byte(signalHashMismatch))
		session.Flush()
		return "", rerr.InvalidInput("file integrity check failed")
	}

	return computedHash, nil
}
