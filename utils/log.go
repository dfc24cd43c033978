// Package utils provides logging, error wrapping, buffer pools and uuid
// helpers that are used in all sub-packages of ws_tunnel_simple.
package utils

import (
	"flag"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	Log_debug = iota
	Log_info
	Log_warning
	Log_error
	Log_fatal

	DefaultLL = Log_info
)

// LogLevel 值越小越唠叨, 值越大打印的越少, 见 log_开头的常量;
// 我们的loglevel就是zap的loglevel+1.
var (
	LogLevel       int
	LogOutFileName string

	ZapLogger *zap.Logger
)

func init() {
	flag.IntVar(&LogLevel, "ll", DefaultLL, "log level,0=debug, 1=info, 2=warning, 3=error, 4=dpanic, 5=panic, 6=fatal")
	flag.StringVar(&LogOutFileName, "lf", "", "log output file name. If empty, log to stdout only")
}

func InitLog() {
	atomicLevel := zap.NewAtomicLevel()
	atomicLevel.SetLevel(zapcore.Level(LogLevel - 1))

	var writes = []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}

	if LogOutFileName != "" {
		//文件日志我们用lumberjack自动轮转，避免跑长了之后单文件过大
		writes = append(writes, zapcore.AddSync(&lumberjack.Logger{
			Filename:   LogOutFileName,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}))
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey:  "msg",
		LevelKey:    "level",
		TimeKey:     "time",
		FunctionKey: "func",
		EncodeLevel: zapcore.CapitalColorLevelEncoder,
		EncodeTime:  zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000"),
		EncodeName:  zapcore.FullNameEncoder,
		LineEnding:  zapcore.DefaultLineEnding,
	}), zapcore.NewMultiWriteSyncer(writes...), atomicLevel)

	ZapLogger = zap.New(core)
}

func canLogLevel(l zapcore.Level, msg string) *zapcore.CheckedEntry {
	if ZapLogger == nil {
		return nil
	}
	return ZapLogger.Check(l, msg)
}

func CanLogErr(msg string) *zapcore.CheckedEntry {
	return canLogLevel(zap.ErrorLevel, msg)
}

func CanLogInfo(msg string) *zapcore.CheckedEntry {
	return canLogLevel(zap.InfoLevel, msg)
}

func CanLogWarn(msg string) *zapcore.CheckedEntry {
	return canLogLevel(zap.WarnLevel, msg)
}

func CanLogDebug(msg string) *zapcore.CheckedEntry {
	return canLogLevel(zap.DebugLevel, msg)
}
