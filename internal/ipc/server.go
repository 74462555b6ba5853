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

	"worldbackup/internal/daemon"
	"worldbackup/internal/logging"
	"worldbackup/internal/scheduler"
)

const serviceName = "WorldBackup"

// Server answers CLI requests with JSON-RPC over a Unix socket. One
// connection is served per goroutine; requests that start cycles or prunes
// are serialized by the scheduler, not here.
type Server struct {
	path     string
	logger   *slog.Logger
	listener net.Listener
	rpc      *rpc.Server

	conns   sync.WaitGroup
	serving bool
	done    chan struct{}
}

// NewServer binds path, replacing any stale socket left by a killed daemon.
// ctx bounds the daemon calls made on behalf of clients.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(serviceName, &service{daemon: d, logger: logger, ctx: ctx}); err != nil {
		return nil, fmt.Errorf("register rpc service: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	return &Server{
		path:     path,
		logger:   logger,
		listener: listener,
		rpc:      rpcServer,
		done:     make(chan struct{}),
	}, nil
}

// Serve accepts connections in the background until Close. Call it once,
// from the goroutine that later calls Close.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.serving = true
	go func() {
		defer close(s.done)
		for {
			conn, err := s.listener.Accept()
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if err != nil {
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "CLI commands may fail to reach the daemon"),
					logging.String(logging.FieldErrorHint, "check the socket directory permissions"),
				)
				continue
			}
			s.conns.Add(1)
			go func() {
				defer s.conns.Done()
				s.rpc.ServeCodec(jsonrpc.NewServerCodec(conn))
			}()
		}
	}()
}

// Close stops accepting, waits for open connections, and removes the socket.
func (s *Server) Close() {
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug("close listener", logging.Error(err))
	}
	if s.serving {
		<-s.done
	}
	s.conns.Wait()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "a stale socket is left behind"),
			logging.String(logging.FieldErrorHint, "remove the socket file before starting the daemon again"),
		)
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	resp.Status = s.daemon.Status(s.ctx)
	resp.PID = os.Getpid()
	return nil
}

func (s *service) RunCycle(_ RunCycleRequest, resp *RunCycleResponse) error {
	s.logger.Debug("backup cycle requested")
	out, err := s.daemon.RunCycle(s.ctx)
	if errors.Is(err, scheduler.ErrBusy) {
		resp.Busy = true
		return nil
	}
	if err != nil {
		return err
	}
	resp.Outcome = out
	resp.Fatal = out.Fatal()
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	s.logger.Info("backup cycle finished via IPC",
		logging.String(logging.FieldEventType, "ipc_run_cycle"),
		logging.String(logging.FieldCycleID, out.ID),
		logging.String("outcome", string(out.Kind)))
	return nil
}

func (s *service) Prune(req PruneRequest, resp *PruneResponse) error {
	s.logger.Debug("prune requested", logging.Bool("dry_run", req.DryRun))
	report, err := s.daemon.Prune(s.ctx, req.DryRun)
	if errors.Is(err, scheduler.ErrBusy) {
		resp.Busy = true
		return nil
	}
	resp.Report = report
	if err != nil {
		resp.Error = err.Error()
	}
	s.logger.Info("prune finished via IPC",
		logging.String(logging.FieldEventType, "ipc_prune"),
		logging.Bool("dry_run", req.DryRun),
		logging.Int("deleted_count", len(report.Deleted)))
	return nil
}

func (s *service) List(_ ListRequest, resp *ListResponse) error {
	resp.Backups = s.daemon.List()
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
