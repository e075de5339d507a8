// Package logging routes the standard logger to stdout and, when configured,
// to a size-rotated file.
package logging

import (
	"io"
	"log"
	"os"

	"github.com/playmatatu/escrow/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup points the standard logger at stdout and the rotating log file. The
// returned closer flushes and closes the file; it is a no-op without one.
func Setup(cfg *config.Config) io.Closer {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if cfg.LogFile == "" {
		log.SetOutput(os.Stdout)
		return nopCloser{}
	}

	rotate := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
		LocalTime:  true,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotate))
	log.Printf("[LOG] writing to %s (max %dMB, %d backups)", cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	return rotate
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
