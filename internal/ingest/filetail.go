package ingest

import (
	"bufio"
	"context"
	"io"
	"os"
	"time"
)

func StartFileTail(ctx context.Context, sink *Sink) {
	logger := sink.Logger
	current := sink.Config.Get().Ingest.FileTail
	if !current.Enabled {
		if logger != nil {
			logger.Info("file tail ingest disabled")
		}
		return
	}
	for _, path := range current.Files {
		if logger != nil {
			logger.Info("file tail ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		}
		// each file gets its own parser so CSV headers do not leak across files
		go tailFile(ctx, path, current.StartAtEnd, sink, NewParser())
	}
}

func tailFile(ctx context.Context, path string, startAtEnd bool, sink *Sink, parser *Parser) {
	logger := sink.Logger
	var file *os.File
	var offset int64
	for {
		select {
		case <-ctx.Done():
			if file != nil {
				_ = file.Close()
			}
			return
		default:
		}
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				if logger != nil {
					logger.Warn("tail open failed", "path", path, "err", err)
				}
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file = f
			offset = 0
			if startAtEnd {
				if pos, err := file.Seek(0, io.SeekEnd); err == nil {
					offset = pos
				}
			}
		}

		reader := bufio.NewReader(file)
		var partial string
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					partial += line
					if !BackoffSleep(ctx, 200*time.Millisecond) {
						_ = file.Close()
						return
					}
					info, statErr := os.Stat(path)
					if statErr == nil && info.Size() < offset {
						// truncated or rotated: reopen from the start
						_ = file.Close()
						file = nil
						startAtEnd = false
						break
					}
					continue
				}
				if logger != nil {
					logger.Warn("tail read error", "path", path, "err", err)
				}
				_ = file.Close()
				file = nil
				break
			}
			line = partial + line
			partial = ""
			offset += int64(len(line))
			sink.emitLine(ctx, parser, line, "file_tail")
		}
	}
}
