package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rshare/rshare/contacts"
	"github.com/rshare/rshare/identity"
	"github.com/rshare/rshare/relay"
	"github.com/rshare/rshare/relay/relaytest"
	"github.com/rshare/rshare/rerr"
	"github.com/rshare/rshare/sessioncrypto"
)

type harness struct {
	fake           *relaytest.Relay
	senderID       *identity.KeyPair
	receiverID     *identity.KeyPair
	senderBook     *contacts.Store
	receiverBook   *contacts.Store
	senderClient   *relay.Client
	receiverClient *relay.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	fake, err := relaytest.New()
	require.NoError(t, err)
	t.Cleanup(fake.Close)

	senderID, err := identity.Generate()
	require.NoError(t, err)
	receiverID, err := identity.Generate()
	require.NoError(t, err)

	senderBook, err := contacts.Load(filepath.Join(t.TempDir(), "sender-contacts.yaml"))
	require.NoError(t, err)
	require.NoError(t, senderBook.Add("bob", receiverID.Fingerprint(), ""))

	receiverBook, err := contacts.Load(filepath.Join(t.TempDir(), "receiver-contacts.yaml"))
	require.NoError(t, err)
	require.NoError(t, receiverBook.Add("alice", senderID.Fingerprint(), ""))

	cfg := relay.Config{
		HTTPURL:    fake.HTTPURL(),
		SocketHost: fake.SocketHost(),
		SocketPort: fake.SocketPort(),
		BufferSize: 64 * 1024,
	}

	return &harness{
		fake:           fake,
		senderID:       senderID,
		receiverID:     receiverID,
		senderBook:     senderBook,
		receiverBook:   receiverBook,
		senderClient:   relay.New(cfg),
		receiverClient: relay.New(cfg),
	}
}

func TestEndToEndTransferSucceeds(t *testing.T) {
	h := newHarness(t)

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "report.txt")
	content := make([]byte, 3*DefaultChunkSize+777) // spans multiple chunks
	for i := range content {
		content[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(srcPath, content, 0o644))

	downloadDir := t.TempDir()

	sender := NewSender(h.senderID, h.senderBook, h.senderClient)
	receiver := NewReceiver(h.receiverID, h.receiverBook, h.receiverClient)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	type sendOutcome struct {
		result *SendResult
		err    error
	}
	sendCh := make(chan sendOutcome, 1)
	go func() {
		result, err := sender.Send(ctx, SendConfig{FilePath: srcPath, RecipientName: "bob"})
		sendCh <- sendOutcome{result, err}
	}()

	recvResult, err := receiver.Receive(ctx, ReceiveConfig{ExpectedSenderName: "alice", DownloadDir: downloadDir})
	require.NoError(t, err)

	sendResult := <-sendCh
	require.NoError(t, sendResult.err)

	assert.Equal(t, sendResult.result.SessionID, recvResult.SessionID)
	assert.True(t, sendResult.result.ReceiverAcked)
	assert.Equal(t, uint64(len(content)), recvResult.BytesWritten)
	assert.Equal(t, sendResult.result.FileHash, recvResult.FileHash)

	gotContent, err := os.ReadFile(recvResult.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, content, gotContent)
}

func TestReceiverRejectsSenderFingerprintMismatch(t *testing.T) {
	h := newHarness(t)

	impostor, err := identity.Generate()
	require.NoError(t, err)
	// Receiver trusts "alice" as impostor's fingerprint instead of the
	// real sender's, so the relay-reported sender_fp will not match.
	require.NoError(t, h.receiverBook.Remove("alice"))
	require.NoError(t, h.receiverBook.Add("alice", impostor.Fingerprint(), ""))

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "secret.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("top secret"), 0o644))

	sender := NewSender(h.senderID, h.senderBook, h.senderClient)
	receiver := NewReceiver(h.receiverID, h.receiverBook, h.receiverClient)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	go func() {
		_, _ = sender.Send(ctx, SendConfig{FilePath: srcPath, RecipientName: "bob"})
	}()

	_, err = receiver.Receive(ctx, ReceiveConfig{ExpectedSenderName: "alice", DownloadDir: t.TempDir()})
	require.Error(t, err)
	assert.True(t, rerr.Is(err, rerr.CategoryInput))
}

func TestSenderRejectsMissingRecipient(t *testing.T) {
	h := newHarness(t)
	sender := NewSender(h.senderID, h.senderBook, h.senderClient)

	srcPath := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("data"), 0o644))

	_, err := sender.Send(context.Background(), SendConfig{FilePath: srcPath, RecipientName: "nobody"})
	require.Error(t, err)
	assert.True(t, rerr.Is(err, rerr.CategoryInput))
}

func TestSenderRejectsDirectory(t *testing.T) {
	h := newHarness(t)
	sender := NewSender(h.senderID, h.senderBook, h.senderClient)

	_, err := sender.Send(context.Background(), SendConfig{FilePath: t.TempDir(), RecipientName: "bob"})
	require.Error(t, err)
}

// TestReceiverRejectsTamperedEnvelope covers S3: the relay alters the
// fileSize field in the listen response, so the signature the receiver
// checks no longer matches the envelope it reconstructs.
func TestReceiverRejectsTamperedEnvelope(t *testing.T) {
	h := newHarness(t)
	h.fake.TamperFileSize = func(sz uint64) uint64 { return sz + 1 }

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "envelope.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("authentic content"), 0o644))

	downloadDir := t.TempDir()

	sender := NewSender(h.senderID, h.senderBook, h.senderClient)
	receiver := NewReceiver(h.receiverID, h.receiverBook, h.receiverClient)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	go func() {
		_, _ = sender.Send(ctx, SendConfig{FilePath: srcPath, RecipientName: "bob"})
	}()

	_, err := receiver.Receive(ctx, ReceiveConfig{ExpectedSenderName: "alice", DownloadDir: downloadDir})
	require.Error(t, err)
	assert.True(t, rerr.Is(err, rerr.CategoryCrypto))

	_, statErr := os.Stat(filepath.Join(downloadDir, "envelope.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

// TestReceiverDetectsTruncatedTransfer covers S4: the peer closes the
// connection after the first of three chunks. The receiver's exact-read
// must surface as an interrupted-transfer error, not a raw network error,
// and the partial output file must be removed.
func TestReceiverDetectsTruncatedTransfer(t *testing.T) {
	h := newHarness(t)

	const chunkSize = 4096
	content := make([]byte, 3*chunkSize)
	for i := range content {
		content[i] = byte(i % 197)
	}
	filename := "truncated.bin"

	hash := sha256.Sum256(content)
	hashHex := hex.EncodeToString(hash[:])
	envelope := identity.Envelope(filename, uint64(len(content)), hashHex)
	sigHex := hex.EncodeToString(h.senderID.Sign(envelope))

	senderEphemeral, err := sessioncrypto.GenerateEphemeral()
	require.NoError(t, err)

	downloadDir := t.TempDir()
	receiver := NewReceiver(h.receiverID, h.receiverBook, h.receiverClient)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	type recvOutcome struct {
		result *ReceiveResult
		err    error
	}
	recvCh := make(chan recvOutcome, 1)
	go func() {
		result, err := receiver.Receive(ctx, ReceiveConfig{ExpectedSenderName: "alice", DownloadDir: downloadDir})
		recvCh <- recvOutcome{result, err}
	}()

	session, err := h.senderClient.Serve(ctx, h.senderID.Fingerprint(), h.receiverID.Fingerprint(),
		filename, uint64(len(content)), sigHex, hashHex, senderEphemeral.PublicHex())
	require.NoError(t, err)

	key, err := sessioncrypto.DeriveKey(senderEphemeral, session.ReceiverEphemeralKey, session.SessionID)
	require.NoError(t, err)

	ciphertext, err := sessioncrypto.EncryptChunk(key, content[:chunkSize])
	require.NoError(t, err)
	lenBuf := make([]byte, lengthPrefixSize)
	putLengthPrefix(lenBuf, len(ciphertext))
	require.NoError(t, session.WriteAll(lenBuf))
	require.NoError(t, session.WriteAll(ciphertext))
	require.NoError(t, session.Flush())
	require.NoError(t, session.Close()) // the remaining two chunks never arrive

	out := <-recvCh
	require.Error(t, out.err)
	assert.True(t, rerr.Is(out.err, rerr.CategoryInput))
	assert.Contains(t, out.err.Error(), "connection closed early")

	_, statErr := os.Stat(filepath.Join(downloadDir, filename))
	assert.True(t, os.IsNotExist(statErr))
}

// TestReceiverDetectsCorruptedChunk covers S5: a byte in the middle chunk
// is flipped in transit. AEAD authentication must fail closed, and the
// partial output file must be removed.
func TestReceiverDetectsCorruptedChunk(t *testing.T) {
	h := newHarness(t)

	const chunkSize = 4096
	content := make([]byte, 3*chunkSize)
	for i := range content {
		content[i] = byte(i % 211)
	}
	filename := "corrupted.bin"

	hash := sha256.Sum256(content)
	hashHex := hex.EncodeToString(hash[:])
	envelope := identity.Envelope(filename, uint64(len(content)), hashHex)
	sigHex := hex.EncodeToString(h.senderID.Sign(envelope))

	senderEphemeral, err := sessioncrypto.GenerateEphemeral()
	require.NoError(t, err)

	downloadDir := t.TempDir()
	receiver := NewReceiver(h.receiverID, h.receiverBook, h.receiverClient)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	type recvOutcome struct {
		result *ReceiveResult
		err    error
	}
	recvCh := make(chan recvOutcome, 1)
	go func() {
		result, err := receiver.Receive(ctx, ReceiveConfig{ExpectedSenderName: "alice", DownloadDir: downloadDir})
		recvCh <- recvOutcome{result, err}
	}()

	session, err := h.senderClient.Serve(ctx, h.senderID.Fingerprint(), h.receiverID.Fingerprint(),
		filename, uint64(len(content)), sigHex, hashHex, senderEphemeral.PublicHex())
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })

	key, err := sessioncrypto.DeriveKey(senderEphemeral, session.ReceiverEphemeralKey, session.SessionID)
	require.NoError(t, err)

	writeChunk := func(plaintext []byte, corrupt bool) {
		ciphertext, err := sessioncrypto.EncryptChunk(key, plaintext)
		require.NoError(t, err)
		if corrupt {
			ciphertext[len(ciphertext)/2] ^= 0xFF
		}
		lenBuf := make([]byte, lengthPrefixSize)
		putLengthPrefix(lenBuf, len(ciphertext))
		require.NoError(t, session.WriteAll(lenBuf))
		require.NoError(t, session.WriteAll(ciphertext))
	}

	writeChunk(content[:chunkSize], false)
	writeChunk(content[chunkSize:2*chunkSize], true) // the middle chunk, flipped in transit
	writeChunk(content[2*chunkSize:], false)
	require.NoError(t, session.Flush())

	out := <-recvCh
	require.Error(t, out.err)
	assert.True(t, rerr.Is(out.err, rerr.CategoryCrypto))

	_, statErr := os.Stat(filepath.Join(downloadDir, filename))
	assert.True(t, os.IsNotExist(statErr))
}

// TestReceiverDetectsHashMismatch covers S6: an attacker controls the
// plaintext but forges the signed hash field so that the AEAD frames all
// decrypt cleanly yet the final SHA-256 comparison fails.
func TestReceiverDetectsHashMismatch(t *testing.T) {
	h := newHarness(t)

	const chunkSize = 4096
	content := make([]byte, 3*chunkSize)
	for i := range content {
		content[i] = byte(i % 223)
	}
	filename := "mismatched.bin"

	forgedHash := sha256.Sum256([]byte("not the real content"))
	forgedHashHex := hex.EncodeToString(forgedHash[:])
	envelope := identity.Envelope(filename, uint64(len(content)), forgedHashHex)
	sigHex := hex.EncodeToString(h.senderID.Sign(envelope))

	senderEphemeral, err := sessioncrypto.GenerateEphemeral()
	require.NoError(t, err)

	downloadDir := t.TempDir()
	receiver := NewReceiver(h.receiverID, h.receiverBook, h.receiverClient)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	type recvOutcome struct {
		result *ReceiveResult
		err    error
	}
	recvCh := make(chan recvOutcome, 1)
	go func() {
		result, err := receiver.Receive(ctx, ReceiveConfig{ExpectedSenderName: "alice", DownloadDir: downloadDir})
		recvCh <- recvOutcome{result, err}
	}()

	session, err := h.senderClient.Serve(ctx, h.senderID.Fingerprint(), h.receiverID.Fingerprint(),
		filename, uint64(len(content)), sigHex, forgedHashHex, senderEphemeral.PublicHex())
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })

	key, err := sessioncrypto.DeriveKey(senderEphemeral, session.ReceiverEphemeralKey, session.SessionID)
	require.NoError(t, err)

	for i := 0; i < len(content); i += chunkSize {
		ciphertext, err := sessioncrypto.EncryptChunk(key, content[i:i+chunkSize])
		require.NoError(t, err)
		lenBuf := make([]byte, lengthPrefixSize)
		putLengthPrefix(lenBuf, len(ciphertext))
		require.NoError(t, session.WriteAll(lenBuf))
		require.NoError(t, session.WriteAll(ciphertext))
	}
	require.NoError(t, session.Flush())

	out := <-recvCh
	require.Error(t, out.err)
	assert.True(t, rerr.Is(out.err, rerr.CategoryInput))

	_, statErr := os.Stat(filepath.Join(downloadDir, filename))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSanitizeFilenameRejectsPathTraversal(t *testing.T) {
	cases := []string{"../etc/passwd", "a/b", ".", "..", ""}
	for _, name := range cases {
		err := sanitizeFilename(name)
		assert.Error(t, err, "expected rejection for %q", name)
	}
}

func TestSanitizeFilenameAcceptsPlainName(t *testing.T) {
	assert.NoError(t, sanitizeFilename("report.pdf"))
}
