package repo

import (
	"bingo-service/internal/config"
	"bingo-service/internal/feed"
	"bingo-service/pkg/logger"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NC stays nil when NATS is disabled.
var NC *nats.Conn

func InitNATS() {
	conf := config.GlobalConfig.NATS
	if !conf.Enabled {
		logger.Log.Info("NATS disabled, game events stay in-process")
		return
	}
	nc, err := feed.ConnectNATS(conf.URL)
	if err != nil {
		logger.Log.Fatal("Failed to connect to NATS", zap.String("url", conf.URL), zap.Error(err))
	}
	NC = nc
	logger.Log.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()))
}

func CloseNATS() {
	if NC == nil {
		return
	}
	if err := NC.Drain(); err != nil {
		logger.Log.Warn("NATS drain failed", zap.Error(err))
	}
}
