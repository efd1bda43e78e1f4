//go:build integration

package ledger_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"bingo-service/internal/model"
	"bingo-service/internal/service/ledger"
	"bingo-service/internal/testutil"
	appErr "bingo-service/pkg/errors"

	"github.com/sourcegraph/conc/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("bingo_test"),
		tcpostgres.WithUsername("test_user"),
		tcpostgres.WithPassword("test_password"),
		tcpostgres.BasicWaitStrategies(),
		testcontainers.WithLabels(map[string]string{
			"test":      "bingo-ledger",
			"timestamp": time.Now().Format("20060102-150405"),
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.All()...))
	return db
}

func TestPostgresConcurrentEntryAndClaim(t *testing.T) {
	db := setupPostgres(t)
	svc := ledger.NewService(db, testutil.AllowAll{}, 10)
	ctx := context.Background()

	const players = 20
	ids := make([]int64, 0, players)
	for i := 0; i < players; i++ {
		ids = append(ids, testutil.CreateUser(t, db, fmt.Sprintf("+1555200%04d", i), 1500).ID)
	}
	mode := testutil.CreateMode(t, db, model.PatternFullCard, 5)
	room := testutil.CreateRoom(t, db, mode, 2, 1000)
	game := testutil.CreateGame(t, db, room, model.GameInProgress, ids...)

	purchases := pool.NewWithResults[error]().WithMaxGoroutines(8)
	for _, id := range ids {
		for attempt := 0; attempt < 2; attempt++ {
			purchases.Go(func() error {
				_, err := svc.PurchaseEntry(ctx, game.ID, id, nil)
				return err
			})
		}
	}
	var paid, duplicate int
	for _, err := range purchases.Wait() {
		switch {
		case err == nil:
			paid++
		case appErr.IsKind(err, appErr.KindAlreadyPaid):
			duplicate++
		default:
			t.Fatalf("unexpected purchase error: %v", err)
		}
	}
	assert.Equal(t, players, paid)
	assert.Equal(t, players, duplicate)
	assert.Equal(t, int64(players*1000), testutil.ReloadGame(t, db, game.ID).PrizePool)

	_, err := svc.FinishWithWinner(ctx, 0, game.ID, ids[0], "")
	require.NoError(t, err)

	claims := pool.NewWithResults[error]()
	for i := 0; i < 5; i++ {
		claims.Go(func() error {
			_, err := svc.ClaimPrize(ctx, game.ID, ids[0])
			return err
		})
	}
	var ok int
	for _, err := range claims.Wait() {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, appErr.ErrNothingToClaim)
	}
	assert.Equal(t, 1, ok)

	for _, id := range ids {
		report, err := svc.Audit(ctx, id)
		require.NoError(t, err)
		assert.True(t, report.Consistent, "user %d", id)
	}
	assert.Equal(t, int64(500+players*1000), testutil.ReloadUser(t, db, ids[0]).Balance)
}
