package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// Handler answers control requests. Implementations hop onto the
// compositor loop; ctx is cancelled when the request times out.
type Handler interface {
	Status(ctx context.Context) (StatusData, error)
	Outputs(ctx context.Context) (OutputsData, error)
	// Damage repaints r, or the whole screen when r is empty.
	Damage(ctx context.Context, r image.Rectangle) error
	Reload(ctx context.Context) error
}

// Server handles IPC requests from clients
type Server struct {
	socketPath     string
	listener       net.Listener
	handler        Handler
	logger         *slog.Logger
	requestTimeout time.Duration
	wg             sync.WaitGroup
	shuttingDown   bool
	shutdownMu     sync.Mutex
}

// NewServer creates a server for socketPath.
func NewServer(socketPath string, handler Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		socketPath:     socketPath,
		handler:        handler,
		logger:         logger,
		requestTimeout: 5 * time.Second,
	}
}

// Start begins listening for IPC connections
func (s *Server) Start() error {
	// Remove a stale socket left by a crashed daemon.
	os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create IPC socket: %w", err)
	}
	s.listener = listener

	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.logger.Info("control socket listening", "path", s.socketPath)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.shutdownMu.Lock()
			stopping := s.shuttingDown
			s.shutdownMu.Unlock()
			if stopping {
				return
			}
			s.logger.Warn("control socket accept failed", "error", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// handleConnection serves one newline-delimited JSON request.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(s.requestTimeout))

	reader := bufio.NewReader(conn)
	data, err := reader.ReadBytes('\n')
	if err != nil && err != io.EOF {
		s.logger.Debug("control socket read failed", "error", err)
		return
	}

	var resp *Response
	req, err := ParseRequest(data)
	if err != nil {
		resp = NewErrorResponse(fmt.Sprintf("Invalid request: %v", err))
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), s.requestTimeout)
		resp = s.handleCommand(ctx, req)
		cancel()
	}

	respData, err := resp.Marshal()
	if err != nil {
		s.logger.Warn("failed to marshal response", "error", err)
		return
	}
	respData = append(respData, '\n')
	if _, err := conn.Write(respData); err != nil {
		s.logger.Debug("failed to send response", "error", err)
	}
}

// handleCommand processes an IPC command and returns a response
func (s *Server) handleCommand(ctx context.Context, req *Request) *Response {
	s.logger.Debug("control request", "command", string(req.Command))
	switch req.Command {
	case CommandReload:
		if err := s.handler.Reload(ctx); err != nil {
			return NewErrorResponse(fmt.Sprintf("Failed to reload config: %v", err))
		}
		return okResponse(nil)
	case CommandGetStatus:
		status, err := s.handler.Status(ctx)
		if err != nil {
			return NewErrorResponse(fmt.Sprintf("Failed to get status: %v", err))
		}
		return okResponse(status)
	case CommandGetOutputs:
		outputs, err := s.handler.Outputs(ctx)
		if err != nil {
			return NewErrorResponse(fmt.Sprintf("Failed to get outputs: %v", err))
		}
		return okResponse(outputs)
	case CommandDamageScreen:
		var rect image.Rectangle
		if len(req.Payload) > 0 {
			var p DamageScreenPayload
			if err := json.Unmarshal(req.Payload, &p); err != nil {
				return NewErrorResponse(fmt.Sprintf("Invalid damage payload: %v", err))
			}
			if p.Width < 0 || p.Height < 0 {
				return NewErrorResponse("damage width and height must be >= 0")
			}
			rect = image.Rect(p.X, p.Y, p.X+p.Width, p.Y+p.Height)
		}
		if err := s.handler.Damage(ctx, rect); err != nil {
			return NewErrorResponse(fmt.Sprintf("Failed to damage screen: %v", err))
		}
		return okResponse(nil)
	default:
		return NewErrorResponse(fmt.Sprintf("Unknown command: %s", req.Command))
	}
}

func okResponse(data any) *Response {
	resp, err := NewOKResponse(data)
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	return resp
}

// Stop closes the socket and waits for in-flight requests.
func (s *Server) Stop() {
	s.shutdownMu.Lock()
	s.shuttingDown = true
	s.shutdownMu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	os.Remove(s.socketPath)
}
