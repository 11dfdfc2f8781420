package logger

import (
	"os"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Error = errs.Class("logger")

type Config struct {
	Level      string `help:"日志级别,可选[debug|info|warn|error]" releaseDefault:"info" default:"debug"`
	Encoding   string `help:"日志格式,可选[json|console]" releaseDefault:"json" default:"console"`
	Output     string `help:"日志输出,stderr|stdout|文件路径" default:"stderr"`
	MaxSize    int    `help:"单个日志文件最大大小(MB),仅文件输出生效" default:"100"`
	MaxBackups int    `help:"保留旧日志文件的最大个数" default:"7"`
	MaxAge     int    `help:"保留旧日志文件的最大天数" default:"30"`
	Compress   bool   `help:"是否压缩旧日志文件" default:"false"`
}

// New builds a zap logger from conf. File outputs are rotated by lumberjack.
func New(conf Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(conf.Level)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	switch conf.Encoding {
	case "json", "":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, Error.New("unknown encoding %q", conf.Encoding)
	}

	core := zapcore.NewCore(enc, writer(conf), zap.NewAtomicLevelAt(level))
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.DPanicLevel)), nil
}

func writer(conf Config) zapcore.WriteSyncer {
	switch conf.Output {
	case "", "stderr":
		return zapcore.Lock(os.Stderr)
	case "stdout":
		return zapcore.Lock(os.Stdout)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   conf.Output,
		MaxSize:    conf.MaxSize,
		MaxBackups: conf.MaxBackups,
		MaxAge:     conf.MaxAge,
		Compress:   conf.Compress,
		LocalTime:  true,
	})
}
