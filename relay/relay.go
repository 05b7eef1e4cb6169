// Package relay implements the client side of the relay protocol: an HTTP
// pairing handshake (serve/listen) followed by a raw TCP duplex stream that
// the relay forwards byte-for-byte between sender and receiver once both
// halves have joined a session.
package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rshare/rshare/internal/logger"
	"github.com/rshare/rshare/internal/metrics"
	"github.com/rshare/rshare/rerr"
)

// Role identifies which side of a paired session a TransferSession belongs
// to; it is sent verbatim in the TCP handshake line.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

const (
	readySignal = "READY\n"
	ackSignal   = "ACK\n"
	// postACKDelay gives the relay time to switch the socket into
	// forwarding mode before either side writes payload bytes. This is a
	// fixed part of the wire protocol; shortening it requires a matching
	// change on the relay.
	postACKDelay = 100 * time.Millisecond
)

// Config describes how to reach one relay server.
type Config struct {
	HTTPURL    string
	SocketHost string
	SocketPort int
	// BufferSize sizes the TCP socket buffers and the buffered
	// reader/writer wrapping each TransferSession.
	BufferSize int
}

// Client talks HTTP and raw TCP to a single relay server.
type Client struct {
	cfg        Config
	httpClient *http.Client
	healthSF   singleflight.Group
}

// New constructs a Client for cfg.
func New(cfg Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// HealthCheck performs a GET against the relay's health endpoint. Concurrent
// callers within the same instant are coalesced onto a single in-flight
// request via singleflight, so a CLI watch-loop and an internal readiness
// probe never double up on the relay.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err, _ := c.healthSF.Do("health", func() (interface{}, error) {
		start := time.Now()
		url := c.cfg.HTTPURL + "/actuator/health"
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, rerr.WrapNetworkError(err, "build health check request")
		}

		resp, err := c.httpClient.Do(req)
		metrics.HandshakeDuration.WithLabelValues("health_check").Observe(time.Since(start).Seconds())
		if err != nil {
			return nil, rerr.WrapNetworkError(err, "call health API")
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, rerr.NetworkError("health API failed with status: %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}

type serveRequest struct {
	SenderFp           string `json:"senderFp"`
	ReceiverFp         string `json:"receiverFp"`
	Filename           string `json:"filename"`
	FileSize           uint64 `json:"fileSize"`
	Signature          string `json:"signature"`
	FileHash           string `json:"fileHash"`
	SenderEphemeralKey string `json:"senderEphemeralKey"`
}

type serveResponse struct {
	Status               string `json:"status"`
	SessionID            string `json:"sessionId"`
	SocketPort           int    `json:"socketPort"`
	Message              string `json:"message"`
	ReceiverEphemeralKey string `json:"receiverEphemeralKey"`
}

type listenRequest struct {
	ReceiverFp           string `json:"receiverFp"`
	ReceiverEphemeralKey string `json:"receiverEphemeralKey"`
}

type listenResponse struct {
	Status               string  `json:"status"`
	SessionID            string  `json:"sessionId"`
	SenderFp             string  `json:"senderFp"`
	Filename             string  `json:"filename"`
	FileSize             *uint64 `json:"fileSize"`
	Signature            string  `json:"signature"`
	FileHash             string  `json:"fileHash"`
	SocketPort           int     `json:"socketPort"`
	Message              string  `json:"message"`
	SenderEphemeralKey   string  `json:"senderEphemeralKey"`
	ReceiverEphemeralKey string  `json:"receiverEphemeralKey"`
}

// Serve opens a transfer session as the sender. It blocks until a receiver
// has joined the same session and the TCP handshake completes.
func (c *Client) Serve(ctx context.Context, senderFp, receiverFp, filename string, fileSize uint64, signatureHex, fileHashHex, senderEphemeralHex string) (*TransferSession, error) {
	start := time.Now()
	metrics.HandshakesInitiated.WithLabelValues("sender").Inc()

	reqBody := serveRequest{
		SenderFp:           senderFp,
		ReceiverFp:         receiverFp,
		Filename:           filename,
		FileSize:           fileSize,
		Signature:          signatureHex,
		FileHash:           fileHashHex,
		SenderEphemeralKey: senderEphemeralHex,
	}

	var resp serveResponse
	if err := c.postJSON(ctx, "/api/relay/serve", reqBody, &resp); err != nil {
		metrics.HandshakesFailed.WithLabelValues("network").Inc()
		return nil, err
	}
	logger.Debug("relay serve accepted", logger.String("session_id", resp.SessionID))

	conn, err := c.connectSocket(ctx, resp.SessionID, RoleSender)
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("network").Inc()
		return nil, err
	}

	session := newTransferSession(conn, resp.SessionID, RoleSender, c.cfg.BufferSize)
	session.ReceiverEphemeralKey = resp.ReceiverEphemeralKey

	metrics.HandshakesCompleted.WithLabelValues("success").Inc()
	metrics.HandshakeDuration.WithLabelValues("serve").Observe(time.Since(start).Seconds())
	return session, nil
}

// Listen joins a transfer session as the receiver. It blocks until a sender
// has initiated the same session and the TCP handshake completes.
func (c *Client) Listen(ctx context.Context, receiverFp, receiverEphemeralHex string) (*TransferSession, error) {
	start := time.Now()
	metrics.HandshakesInitiated.WithLabelValues("receiver").Inc()

	reqBody := listenRequest{
		ReceiverFp:           receiverFp,
		ReceiverEphemeralKey: receiverEphemeralHex,
	}

	var resp listenResponse
	if err := c.postJSON(ctx, "/api/relay/listen", reqBody, &resp); err != nil {
		metrics.HandshakesFailed.WithLabelValues("network").Inc()
		return nil, err
	}

	if resp.SessionID == "" {
		metrics.HandshakesFailed.WithLabelValues("protocol").Inc()
		return nil, rerr.SessionError("relay did not return session_id")
	}
	if resp.Filename == "" {
		metrics.HandshakesFailed.WithLabelValues("protocol").Inc()
		return nil, rerr.SessionError("relay did not return filename")
	}
	if resp.FileSize == nil {
		metrics.HandshakesFailed.WithLabelValues("protocol").Inc()
		return nil, rerr.SessionError("relay did not return file_size")
	}
	if resp.Signature == "" {
		metrics.HandshakesFailed.WithLabelValues("protocol").Inc()
		return nil, rerr.SessionError("relay did not return signature")
	}
	if resp.SenderFp == "" {
		metrics.HandshakesFailed.WithLabelValues("protocol").Inc()
		return nil, rerr.SessionError("relay did not return sender_fp")
	}
	if resp.FileHash == "" {
		metrics.HandshakesFailed.WithLabelValues("protocol").Inc()
		return nil, rerr.SessionError("relay did not return file_hash")
	}
	if resp.SocketPort == 0 {
		metrics.HandshakesFailed.WithLabelValues("protocol").Inc()
		return nil, rerr.SessionError("relay did not return socket_port")
	}
	if resp.SenderEphemeralKey == "" {
		metrics.HandshakesFailed.WithLabelValues("protocol").Inc()
		return nil, rerr.SessionError("relay did not return sender ephemeral key")
	}
	if resp.ReceiverEphemeralKey == "" {
		metrics.HandshakesFailed.WithLabelValues("protocol").Inc()
		return nil, rerr.SessionError("relay did not return receiver ephemeral key")
	}

	conn, err := c.connectSocket(ctx, resp.SessionID, RoleReceiver)
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("network").Inc()
		return nil, err
	}

	session := newTransferSession(conn, resp.SessionID, RoleReceiver, c.cfg.BufferSize)
	session.Filename = resp.Filename
	session.FileSize = *resp.FileSize
	session.Signature = resp.Signature
	session.SenderFp = resp.SenderFp
	session.FileHash = resp.FileHash
	session.SenderEphemeralKey = resp.SenderEphemeralKey
	session.ReceiverEphemeralKey = resp.ReceiverEphemeralKey

	metrics.HandshakesCompleted.WithLabelValues("success").Inc()
	metrics.HandshakeDuration.WithLabelValues("listen").Observe(time.Since(start).Seconds())
	return session, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return rerr.WrapSessionError(err, "marshal request body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.HTTPURL+path, bytes.NewReader(payload))
	if err != nil {
		return rerr.WrapNetworkError(err, "build request for %s", path)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return rerr.WrapNetworkError(err, "call %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return rerr.NetworkError("connection timeout or refused, Status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return rerr.WrapSessionError(err, "parse response from %s", path)
	}
	return nil
}

func (c *Client) connectSocket(ctx context.Context, sessionID string, role Role) (net.Conn, error) {
	start := time.Now()
	addr := fmt.Sprintf("%s:%d", c.cfg.SocketHost, c.cfg.SocketPort)

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, rerr.WrapNetworkError(err, "connect to socket server %s", addr)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			conn.Close()
			return nil, rerr.WrapNetworkError(err, "set TCP_NODELAY")
		}
		if err := tcpConn.SetReadBuffer(c.cfg.BufferSize); err != nil {
			conn.Close()
			return nil, rerr.WrapNetworkError(err, "set recv buffer")
		}
		if err := tcpConn.SetWriteBuffer(c.cfg.BufferSize); err != nil {
			conn.Close()
			return nil, rerr.WrapNetworkError(err, "set send buffer")
		}
	}

	handshake := fmt.Sprintf("%s:%s\n", sessionID, role)
	if _, err := conn.Write([]byte(handshake)); err != nil {
		conn.Close()
		return nil, rerr.WrapNetworkError(err, "send handshake")
	}

	ready := make([]byte, len(readySignal))
	if _, err := io.ReadFull(conn, ready); err != nil {
		conn.Close()
		return nil, rerr.WrapNetworkError(err, "read READY signal")
	}
	if string(ready) != readySignal {
		conn.Close()
		return nil, rerr.NetworkError("expected READY signal, got: %q", string(ready))
	}

	if _, err := conn.Write([]byte(ackSignal)); err != nil {
		conn.Close()
		return nil, rerr.WrapNetworkError(err, "send ACK")
	}

	// Gives the relay time to switch the socket into forwarding mode
	// before payload bytes start flowing.
	time.Sleep(postACKDelay)

	metrics.HandshakeDuration.WithLabelValues("tcp_connect").Observe(time.Since(start).Seconds())
	logger.Debug("relay tcp handshake complete", logger.String("session_id", sessionID), logger.String("role", string(role)))
	return conn, nil
}

// TransferSession wraps the paired TCP stream in a buffered reader/writer
// and carries the pairing metadata the relay reported. The receiving side
// gets every field; on the sending side only ReceiverEphemeralKey is set.
type TransferSession struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	SessionID string
	Role      Role

	Filename             string
	FileSize             uint64
	Signature            string
	SenderFp             string
	FileHash             string
	SenderEphemeralKey   string
	ReceiverEphemeralKey string
}

func newTransferSession(conn net.Conn, sessionID string, role Role, bufferSize int) *TransferSession {
	if bufferSize <= 0 {
		bufferSize = 4 * 1024 * 1024
	}
	return &TransferSession{
		conn:      conn,
		reader:    bufio.NewReaderSize(conn, bufferSize),
		writer:    bufio.NewWriterSize(conn, bufferSize),
		SessionID: sessionID,
		Role:      role,
	}
}

// Read reads into buf, returning the number of bytes read.
func (s *TransferSession) Read(buf []byte) (int, error) {
	n, err := s.reader.Read(buf)
	if err != nil {
		return n, rerr.WrapNetworkError(err, "read from socket")
	}
	return n, nil
}

// ReadExact reads exactly len(buf) bytes into buf.
func (s *TransferSession) ReadExact(buf []byte) error {
	if _, err := io.ReadFull(s.reader, buf); err != nil {
		return rerr.WrapNetworkError(err, "read exact from socket")
	}
	return nil
}

// WriteAll writes all of data to the socket.
func (s *TransferSession) WriteAll(data []byte) error {
	if _, err := s.writer.Write(data); err != nil {
		return rerr.WrapNetworkError(err, "write to socket")
	}
	return nil
}

// Flush pushes any buffered writes out to the socket.
func (s *TransferSession) Flush() error {
	if err := s.writer.Flush(); err != nil {
		return rerr.WrapNetworkError(err, "flush socket")
	}
	return nil
}

// Close closes the underlying connection.
func (s *TransferSession) Close() error {
	return s.conn.Close()
}
