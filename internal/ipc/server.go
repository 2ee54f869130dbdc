package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"clipforge/internal/daemon"
	"clipforge/internal/faults"
	"clipforge/internal/jobs"
	"clipforge/internal/logging"
	"clipforge/internal/reclaimer"
	"clipforge/internal/services"
)

const serviceName = "Clipforge"

const defaultRecentErrors = 20

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("restrict socket permissions: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(serviceName, &service{daemon: d, logger: logger, ctx: serverCtx}); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"),
				)
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"),
		)
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

// fail records err with the daemon's handler and returns its wire form.
func (s *service) fail(ctx context.Context, err error, req faults.RequestInfo) *Fault {
	return faultFrom(s.daemon.Handle(ctx, err, req))
}

func (s *service) Process(req ProcessRequest, resp *ProcessResponse) error {
	ctx := services.WithUserID(services.WithJobID(s.ctx, req.JobID), req.UserID)
	job, err := s.daemon.Process(ctx, jobs.ProcessRequest{
		JobID:            req.JobID,
		UserID:           req.UserID,
		RequestedSeconds: req.RequestedSeconds,
		CustomSeconds:    req.CustomSeconds,
		Subtitles:        req.Subtitles,
		ClipCount:        req.ClipCount,
	})
	if err != nil {
		resp.Fault = s.fail(ctx, err, faults.RequestInfo{UserID: req.UserID, Method: "Process"})
		return nil
	}
	resp.Job = jobFrom(job)
	logging.WithContext(ctx, s.logger).Info("process requested via IPC",
		logging.String(logging.FieldEventType, "ipc_process"),
	)
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	*resp = statusFrom(s.daemon.Status(s.ctx))
	return nil
}

func (s *service) RunSweep(req SweepRequest, resp *SweepResponse) error {
	ctx := services.WithSweep(s.ctx, req.Name)
	report, err := s.daemon.RunSweep(ctx, req.Name)
	resp.Sweep = req.Name
	if err != nil {
		if errors.Is(err, reclaimer.ErrUnknownSweep) {
			resp.Fault = s.fail(ctx, err, faults.RequestInfo{Method: "RunSweep"})
			return nil
		}
		// The reclaimer has already recorded sweep failures.
		resp.Fault = faultFrom(faults.Normalize(err))
		return nil
	}
	resp.Skipped = report.Skipped
	resp.Examined = report.Examined
	resp.Removed = report.Removed
	resp.Bytes = report.Bytes
	resp.Warnings = report.Warnings
	resp.Detail = report.Detail
	resp.Elapsed = report.Elapsed
	return nil
}

func (s *service) RecentErrors(req RecentErrorsRequest, resp *RecentErrorsResponse) error {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultRecentErrors
	}
	for _, e := range s.daemon.RecentErrors(limit) {
		resp.Errors = append(resp.Errors, ErrorEntry{
			ID:        e.ID,
			Type:      string(e.Type),
			Severity:  string(e.Severity),
			Code:      e.Code,
			Message:   e.Message,
			JobID:     e.Context.JobID,
			Timestamp: e.Timestamp,
		})
	}
	return nil
}
