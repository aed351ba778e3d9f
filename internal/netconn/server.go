// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

// Package netconn is the TCP transport for the hub: it accepts clients,
// splits their input into protocol lines and performs non-blocking writes.
package netconn

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/samber/oops"
)

// DefaultMaxLineLength is used when the server is given no line limit.
const DefaultMaxLineLength = 64 * 1024

// Server accepts client connections.
type Server struct {
	addr     string
	handler  Handler
	maxLine  int
	listener net.Listener
	conns    map[*Conn]struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
}

// NewServer creates a server listening on addr once Run is called.
func NewServer(addr string, h Handler, maxLine int) *Server {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineLength
	}
	return &Server{
		addr:    addr,
		handler: h,
		maxLine: maxLine,
		conns:   make(map[*Conn]struct{}),
	}
}

// Addr returns the bound listen address, or "" before Run binds.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Listen binds the listen address. Run calls it when the caller has not.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return oops.Code("LISTEN_FAILED").With("addr", s.addr).Wrapf(err, "failed to listen")
	}
	s.listener = listener
	slog.Info("hub listening", "addr", listener.Addr().String())
	return nil
}

// Run accepts until ctx is cancelled, then closes every open connection
// and waits for their goroutines.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.RLock()
	listener := s.listener
	s.mu.RUnlock()

	go func() {
		<-ctx.Done()
		if err := listener.Close(); err != nil {
			slog.Debug("error closing listener", "error", err)
		}
	}()

	defer s.shutdown()

	for {
		nc, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("accept failed", "error", err)
			continue
		}
		s.serve(nc)
	}
}

func (s *Server) serve(nc net.Conn) {
	c := newConn(nc, s.handler, s.maxLine)

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	slog.Debug("connection accepted", "conn_id", c.ID().String(), "remote", c.RemoteAddr())
	s.handler.Connect(c)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
		}()
		c.serve()
	}()
}

// Len is the number of open connections.
func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *Server) shutdown() {
	s.mu.RLock()
	open := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		open = append(open, c)
	}
	s.mu.RUnlock()

	for _, c := range open {
		if err := c.Close(); err != nil {
			slog.Debug("error closing connection", "conn_id", c.ID().String(), "error", err)
		}
	}
	s.wg.Wait()
}
