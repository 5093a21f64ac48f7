package ingest

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strings"
	"time"
)

var reSyslogPRI = regexp.MustCompile(`^\s*<\d{1,3}>(?:1\s+)?`)

// StripSyslogHeader drops the <PRI> prefix and RFC 5424 version so the
// timestamp and key=value body reach the line parser.
func StripSyslogHeader(line string) string {
	return reSyslogPRI.ReplaceAllString(line, "")
}

// StartSyslog listens on ingest.syslog.udp_addr and/or tcp_addr. parser
// serves UDP datagrams; every TCP connection gets a fresh one.
func StartSyslog(ctx context.Context, sink *Sink, parser *Parser) {
	logger := sink.Logger
	current := sink.Config.Get().Ingest.Syslog
	if !current.Enabled {
		if logger != nil {
			logger.Info("syslog ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("syslog ingest enabled", "udp_addr", current.UDPAddr, "tcp_addr", current.TCPAddr)
	}
	if parser == nil {
		parser = NewParser()
	}
	if current.UDPAddr != "" {
		conn, err := net.ListenPacket("udp", current.UDPAddr)
		if err != nil {
			if logger != nil {
				logger.Error("syslog udp listen error", "err", err)
			}
		} else {
			go serveSyslogUDP(ctx, conn, sink, parser)
		}
	}
	if current.TCPAddr != "" {
		ln, err := net.Listen("tcp", current.TCPAddr)
		if err != nil {
			if logger != nil {
				logger.Error("syslog tcp listen error", "err", err)
			}
			return
		}
		go serveLines(ctx, ln, sink, "syslog", StripSyslogHeader)
	}
}

func serveSyslogUDP(ctx context.Context, conn net.PacketConn, sink *Sink, parser *Parser) {
	defer conn.Close()
	logger := sink.Logger
	buf := make([]byte, 8192)
	for {
		if ctx.Err() != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if logger != nil {
				logger.Warn("syslog udp read error", "err", err)
			}
			continue
		}
		for _, line := range strings.Split(string(buf[:n]), "\n") {
			sink.emitLine(ctx, parser, StripSyslogHeader(line), "syslog")
		}
	}
}
