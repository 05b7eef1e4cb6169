package transfer

import (
	"context"
	"encoding/hex"
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

// SendConfig carries everything the sender engine needs for one transfer.
type SendConfig struct {
	FilePath      string
	RecipientName string
	ChunkSize     int
	OnProgress    ProgressFunc
}

// SendResult summarizes a completed send.
type SendResult struct {
	SessionID     string
	FileHash      string
	BytesSent     uint64
	ReceiverAcked bool
}

// Sender drives outbound transfers for a single identity against a
// relay and contact book.
type Sender struct {
	identity *identity.KeyPair
	contacts *contacts.Store
	relay    *relay.Client
}

// NewSender constructs a Sender bound to id, book, and the relay client rc.
func NewSender(id *identity.KeyPair, book *contacts.Store, rc *relay.Client) *Sender {
	return &Sender{identity: id, contacts: book, relay: rc}
}

// Send runs the full sender flow described by the protocol: validate,
// hash, sign, open a relay session, derive a key, and stream the file in
// encrypted chunks.
func (s *Sender) Send(ctx context.Context, cfg SendConfig) (*SendResult, error) {
	start := time.Now()
	progress := cfg.OnProgress
	if progress == nil {
		progress = noopProgress
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	transferID := uuid.New().String()
	ctx = context.WithValue(ctx, logger.CtxTransferID, transferID)
	log := logger.GetDefaultLogger().WithContext(ctx)

	metrics.TransfersStarted.WithLabelValues("sender").Inc()
	metrics.TransfersActive.Inc()
	defer metrics.TransfersActive.Dec()

	info, err := os.Stat(cfg.FilePath)
	if err != nil {
		metrics.TransfersCompleted.WithLabelValues("sender", "error").Inc()
		return nil, rerr.WrapFileError(err, "stat file %s", cfg.FilePath)
	}
	if info.IsDir() {
		metrics.TransfersCompleted.WithLabelValues("sender", "error").Inc()
		return nil, rerr.InvalidInput("%s is a directory, not a file", cfg.FilePath)
	}

	recipient, err := s.contacts.Find(cfg.RecipientName)
	if err != nil {
		metrics.TransfersCompleted.WithLabelValues("sender", "error").Inc()
		return nil, err
	}

	fileHashHex, fileSize, err := hashFile(cfg.FilePath)
	if err != nil {
		metrics.TransfersCompleted.WithLabelValues("sender", "error").Inc()
		return nil, err
	}

	filename := filepath.Base(cfg.FilePath)
	envelope := identity.Envelope(filename, fileSize, fileHashHex)
	signature := s.identity.Sign(envelope)

	ephemeral, err := sessioncrypto.GenerateEphemeral()
	if err != nil {
		metrics.TransfersCompleted.WithLabelValues("sender", "error").Inc()
		return nil, err
	}
	defer ephemeral.Zeroize()

	log.Info("opening relay session as sender",
		logger.String("recipient", cfg.RecipientName),
		logger.String("filename", filename),
		logger.Uint64("file_size", fileSize))

	session, err := s.relay.Serve(ctx, s.identity.Fingerprint(), recipient.Fingerprint, filename, fileSize,
		hex.EncodeToString(signature), fileHashHex, ephemeral.PublicHex())
	if err != nil {
		metrics.TransfersCompleted.WithLabelValues("sender", "error").Inc()
		return nil, err
	}
	defer session.Close()
	defer context.AfterFunc(ctx, func() { session.Close() })()

	key, err := sessioncrypto.DeriveKey(ephemeral, session.ReceiverEphemeralKey, session.SessionID)
	if err != nil {
		metrics.TransfersCompleted.WithLabelValues("sender", "error").Inc()
		return nil, err
	}

	sent, err := s.streamFile(cfg.FilePath, chunkSize, key, session, fileSize, progress)
	if err != nil {
		metrics.TransfersCompleted.WithLabelValues("sender", "error").Inc()
		return nil, err
	}

	acked, err := s.awaitAck(session)
	if err != nil {
		log.Warn("did not receive acknowledgement from receiver", logger.Error(err))
	}

	metrics.TransfersCompleted.WithLabelValues("sender", "success").Inc()
	metrics.TransferDuration.WithLabelValues("sender").Observe(time.Since(start).Seconds())
	metrics.BytesTransferred.WithLabelValues("sender").Add(float64(sent))

	return &SendResult{
		SessionID:     session.SessionID,
		FileHash:      fileHashHex,
		BytesSent:     sent,
		ReceiverAcked: acked,
	}, nil
}

func (s *Sender) streamFile(path string, chunkSize int, key []byte, session *relay.TransferSession, fileSize uint64, progress ProgressFunc) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, rerr.WrapFileError(err, "open file for sending")
	}
	defer f.Close()

	plainBuf := make([]byte, chunkSize)
	lenBuf := make([]byte, lengthPrefixSize)
	var sent uint64

	for {
		n, readErr := f.Read(plainBuf)
		if n > 0 {
			framed, encErr := sessioncrypto.EncryptChunk(key, plainBuf[:n])
			if encErr != nil {
				return sent, encErr
			}

			putLengthPrefix(lenBuf, len(framed))
			if err := session.WriteAll(lenBuf); err != nil {
				return sent, err
			}
			if err := session.WriteAll(framed); err != nil {
				return sent, err
			}

			metrics.ChunkSize.WithLabelValues("outbound").Observe(float64(len(framed)))
			sent += uint64(n)
			progress(sent, fileSize)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return sent, rerr.WrapFileError(readErr, "read file for sending")
		}
	}

	if err := session.Flush(); err != nil {
		return sent, err
	}
	return sent, nil
}

func (s *Sender) awaitAck(session *relay.TransferSession) (bool, error) {
	buf := make([]byte, 10)
	n, err := session.Read(buf)
	if err != nil {
		return false, err
	}
	return string(buf[:n]) == doneSignal, nil
}
