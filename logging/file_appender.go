package logging

import (
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for file appenders.
const (
	fileAppenderMaxSizeMB  = 64
	fileAppenderMaxBackups = 2
)

// FileAppender writes console formatted log lines to a size-rotated file. Close it after the
// last log line.
type FileAppender struct {
	ConsoleAppender
	file *lumberjack.Logger
}

// NewFileAppender returns an appender writing to filename. The file and its parent directory are
// created on the first write; older files are rotated out and compressed.
func NewFileAppender(filename string) *FileAppender {
	file := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    fileAppenderMaxSizeMB,
		MaxBackups: fileAppenderMaxBackups,
		Compress:   true,
	}
	return &FileAppender{ConsoleAppender: NewWriterAppender(file), file: file}
}

// Close closes the current log file.
func (fa *FileAppender) Close() error {
	return fa.file.Close()
}
