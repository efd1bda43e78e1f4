package service

import (
	"context"

	"bingo-service/internal/config"
	"bingo-service/internal/feed"
	"bingo-service/internal/service/auth"
	"bingo-service/internal/service/catalog"
	"bingo-service/internal/service/draw"
	"bingo-service/internal/service/ledger"
	"bingo-service/internal/service/session"
	"bingo-service/internal/service/user"
	"bingo-service/pkg/utils/random"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	Auth    *auth.Service
	User    *user.Service
	Catalog *catalog.Service
	Ledger  *ledger.Service
	Session *session.Service
	Draws   *draw.Manager
	Hub     *feed.Hub
}

// NewContainer wires the services. rdb and nc may be nil; without redis the
// draw lease is process-local and without either the feed stays in-process.
func NewContainer(db *gorm.DB, rdb *redis.Client, nc *nats.Conn) *Container {
	gameConf := config.GlobalConfig.Game

	hub := feed.NewHub()
	publishers := feed.Multi{hub}
	var lease draw.Lease = draw.LocalLease{}
	if rdb != nil {
		publishers = append(publishers, feed.NewRedisPublisher(rdb, "bingo"))
		lease = draw.NewRedisLease(rdb, gameConf.DrawLeaseTTL)
	}
	if nc != nil {
		publishers = append(publishers, feed.NewNATSPublisher(nc, config.GlobalConfig.NATS.SubjectPrefix))
	}

	authSvc := auth.NewService(db)
	ledgerSvc := ledger.NewService(db, authSvc, gameConf.PointsPerWin)
	drawer := draw.NewDrawer(db, random.NewLocked(random.New()), publishers)
	manager := draw.NewManager(drawer, lease, draw.SecondsInterval)

	return &Container{
		Auth:    authSvc,
		User:    user.NewService(db, authSvc),
		Catalog: catalog.NewService(db, authSvc),
		Ledger:  ledgerSvc,
		Session: session.NewService(db, ledgerSvc, drawer, manager, publishers, authSvc, random.NewLocked(random.New())),
		Draws:   manager,
		Hub:     hub,
	}
}

func (c *Container) Start(ctx context.Context) error {
	if err := c.Auth.EnsureDefaultAdmin(ctx); err != nil {
		return err
	}
	return c.Session.RecoverSchedulers(ctx)
}

// Stop halts every draw scheduler and waits for in-flight draws.
func (c *Container) Stop() {
	c.Draws.StopAll()
}
