package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

const (
	DEFAULT_READ_TIMEOUT     = 60 * time.Second
	DEFAULT_WRITE_TIMEOUT    = DEFAULT_READ_TIMEOUT
	DEFAULT_SHUTDOWN_TIMEOUT = 30 * time.Second
	GRACEFUL_ENVIRON_KEY     = "IS_GRACEFUL"
	GRACEFUL_ENVIRON_VALUE   = GRACEFUL_ENVIRON_KEY + "=1"
	GRACEFUL_LISTENER_FD     = 3
)

// Server wraps http.Server to support graceful shutdown and restart.
// Hooks added with RegisterOnShutdown run when a stop signal arrives, which is
// how background workers sharing the process learn to stop.
type Server struct {
	*http.Server

	listener        net.Listener
	isGraceful      bool
	signalChan      chan os.Signal
	stopChan        <-chan struct{}
	shutdownChan    chan struct{}
	shutdownOnce    sync.Once
	shutdownTimeout time.Duration
}

// NewServer creates a Server with timeouts and handler.
func NewServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration) *Server {
	return &Server{
		Server: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		},
		isGraceful:      os.Getenv(GRACEFUL_ENVIRON_KEY) != "",
		signalChan:      make(chan os.Signal, 1),
		shutdownChan:    make(chan struct{}),
		shutdownTimeout: DEFAULT_SHUTDOWN_TIMEOUT,
	}
}

// ListenAndServe starts serving on tcp and handles signals.
func (srv *Server) ListenAndServe() error {
	addr := srv.Addr
	if addr == "" {
		addr = ":http"
	}
	ln, err := srv.getNetListener(addr)
	if err != nil {
		return err
	}
	return srv.Serve(ln)
}

// Serve accepts connections on ln until a stop signal has drained the server.
// It returns http.ErrServerClosed after a graceful stop.
func (srv *Server) Serve(ln net.Listener) error {
	srv.listener = ln
	go srv.handleSignals()
	err := srv.Server.Serve(ln)
	if !errors.Is(err, http.ErrServerClosed) {
		srv.shutdownOnce.Do(func() { close(srv.shutdownChan) })
		return err
	}
	<-srv.shutdownChan
	return err
}

// StopOn shuts the server down gracefully once stop is closed, the same way a
// SIGTERM would. Call it before Serve.
func (srv *Server) StopOn(stop <-chan struct{}) {
	srv.stopChan = stop
}

func (srv *Server) getNetListener(addr string) (net.Listener, error) {
	if srv.isGraceful {
		file := os.NewFile(GRACEFUL_LISTENER_FD, "")
		ln, err := net.FileListener(file)
		if err != nil {
			return nil, fmt.Errorf("net.FileListener error: %w", err)
		}
		return ln, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("net.Listen error: %w", err)
	}
	return ln, nil
}

func (srv *Server) handleSignals() {
	signal.Notify(srv.signalChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR2)
	defer signal.Stop(srv.signalChan)

	for {
		select {
		case <-srv.shutdownChan:
			return
		case <-srv.stopChan:
			Sugar.Info("stop requested, graceful shutting down")
			srv.shutdownHTTPServer()
			return
		case sig := <-srv.signalChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				Sugar.Infof("received %s, graceful shutting down", sig)
				srv.shutdownHTTPServer()
				return
			case syscall.SIGUSR2:
				Sugar.Info("received SIGUSR2, graceful restarting")
				if pid, err := srv.startNewProcess(); err != nil {
					Sugar.Errorf("start new process failed: %v, continue serving", err)
				} else {
					Sugar.Infof("start new process succeeded, new pid=%d", pid)
					srv.shutdownHTTPServer()
					return
				}
			}
		}
	}
}

func (srv *Server) shutdownHTTPServer() {
	srv.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), srv.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			Sugar.Errorf("HTTP server shutdown error: %v", err)
		} else {
			Sugar.Info("HTTP server shutdown success")
		}
		close(srv.shutdownChan)
	})
}

// startNewProcess re-executes the binary, handing it the listening socket.
// The child takes over consuming as soon as the parent's consumer stops.
func (srv *Server) startNewProcess() (uintptr, error) {
	tcpLn, ok := srv.listener.(*net.TCPListener)
	if !ok {
		return 0, fmt.Errorf("listener is not *net.TCPListener")
	}
	file, err := tcpLn.File()
	if err != nil {
		return 0, fmt.Errorf("get listener file: %w", err)
	}

	envs := []string{}
	for _, e := range os.Environ() {
		if e != GRACEFUL_ENVIRON_VALUE {
			envs = append(envs, e)
		}
	}
	envs = append(envs, GRACEFUL_ENVIRON_VALUE)

	attr := &syscall.ProcAttr{
		Env:   envs,
		Files: []uintptr{os.Stdin.Fd(), os.Stdout.Fd(), os.Stderr.Fd(), file.Fd()},
	}
	pid, err := syscall.ForkExec(os.Args[0], os.Args, attr)
	if err != nil {
		return 0, fmt.Errorf("forkexec: %w", err)
	}
	return uintptr(pid), nil
}

// GraceServer starts an HTTP server with graceful capabilities. It stops on
// SIGTERM/SIGINT or when stop is closed; onShutdown hooks run when the server
// begins its graceful stop.
func GraceServer(addr string, handler http.Handler, stop <-chan struct{}, onShutdown ...func()) error {
	srv := NewServer(addr, handler, DEFAULT_READ_TIMEOUT, DEFAULT_WRITE_TIMEOUT)
	srv.StopOn(stop)
	for _, f := range onShutdown {
		srv.RegisterOnShutdown(f)
	}
	return srv.ListenAndServe()
}
