package log

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init 初始化全局 zerolog：dev 环境使用彩色控制台输出，其余环境输出 JSON。
// level 为空时 dev 默认 debug，其余默认 info。
func Init(env, level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLevel(env, level))
	if env == "dev" {
		cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		log.Logger = zerolog.New(cw).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLevel(env, level string) zerolog.Level {
	if level != "" {
		if lvl, err := zerolog.ParseLevel(level); err == nil {
			return lvl
		}
	}
	if env == "dev" {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}
