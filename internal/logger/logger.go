// Package logger 是对 zerolog 的薄封装，统一 gserve 各组件的日志格式。
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger 内嵌 zerolog.Logger，可直接使用 Info()/Error() 等方法。
type Logger struct {
	zerolog.Logger
}

// New 返回输出到 stdout 的 JSON 日志，每条记录带 role 与时间戳。
func New(role string) *Logger {
	return NewWithWriter(os.Stdout, role)
}

// NewWithWriter 同 New，但写入指定的 io.Writer。
func NewWithWriter(w io.Writer, role string) *Logger {
	l := zerolog.New(w).With().
		Str("role", role).
		Timestamp().
		Logger()
	return &Logger{l}
}

// Nop 丢弃所有输出，用于测试或调用方未提供 logger 的场景。
func Nop() *Logger {
	return &Logger{zerolog.Nop()}
}

// Named 派生一个带 component 字段的子 logger。
func (l *Logger) Named(component string) *Logger {
	return &Logger{l.With().Str("component", component).Logger()}
}

// SetLevel 解析并设置日志级别，非法值回落到 info。
func (l *Logger) SetLevel(level string) *Logger {
	lv, err := zerolog.ParseLevel(level)
	if err != nil || lv == zerolog.NoLevel {
		lv = zerolog.InfoLevel
	}
	l.Logger = l.Level(lv)
	return l
}
