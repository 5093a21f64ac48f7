package ingest

import (
	"bufio"
	"context"
	"errors"
	"net"
)

// StartTCP accepts newline-delimited access records on ingest.tcp.addr.
func StartTCP(ctx context.Context, sink *Sink) {
	logger := sink.Logger
	current := sink.Config.Get().Ingest.TCP
	if !current.Enabled {
		if logger != nil {
			logger.Info("tcp ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("tcp ingest enabled", "addr", current.Addr)
	}
	ln, err := net.Listen("tcp", current.Addr)
	if err != nil {
		if logger != nil {
			logger.Error("tcp listen error", "err", err)
		}
		return
	}
	go serveLines(ctx, ln, sink, "tcp", nil)
}

// serveLines accepts until ctx is done or ln is closed. Each connection is
// its own stream with its own parser. strip, when set, rewrites every line
// before parsing.
func serveLines(ctx context.Context, ln net.Listener, sink *Sink, source string, strip func(string) string) {
	logger := sink.Logger
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if logger != nil {
				logger.Warn("accept error", "source", source, "err", err)
			}
			continue
		}
		go handleConn(ctx, conn, sink, source, strip)
	}
}

func handleConn(ctx context.Context, conn net.Conn, sink *Sink, source string, strip func(string) string) {
	defer conn.Close()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	parser := NewParser()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strip != nil {
			line = strip(line)
		}
		sink.emitLine(ctx, parser, line, source)
		if ctx.Err() != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil && sink.Logger != nil {
		sink.Logger.Warn("stream read error", "source", source, "err", err)
	}
}
