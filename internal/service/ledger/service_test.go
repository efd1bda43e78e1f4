package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"bingo-service/internal/model"
	"bingo-service/internal/service/ledger"
	"bingo-service/internal/testutil"
	appErr "bingo-service/pkg/errors"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type denyAll struct{}

func (denyAll) RequireAdmin(context.Context, int64) error { return appErr.ErrAdminRequired }

func newTestService(t *testing.T) (*gorm.DB, *ledger.Service) {
	t.Helper()
	db := testutil.NewDB(t)
	return db, ledger.NewService(db, testutil.AllowAll{}, 10)
}

func newWaitingGame(t *testing.T, db *gorm.DB, entryCost int64, userIDs ...int64) *model.Game {
	t.Helper()
	mode := testutil.CreateMode(t, db, model.PatternHorizontalLine, 5)
	room := testutil.CreateRoom(t, db, mode, 1, entryCost)
	return testutil.CreateGame(t, db, room, model.GameWaiting, userIDs...)
}

func newRunningGame(t *testing.T, db *gorm.DB, entryCost int64, userIDs ...int64) *model.Game {
	t.Helper()
	mode := testutil.CreateMode(t, db, model.PatternHorizontalLine, 5)
	room := testutil.CreateRoom(t, db, mode, 1, entryCost)
	return testutil.CreateGame(t, db, room, model.GameInProgress, userIDs...)
}

func TestPurchaseEntryDebitsAndCreditsPool(t *testing.T) {
	db, svc := newTestService(t)
	user := testutil.CreateUser(t, db, "+15550000001", 5000)
	game := newWaitingGame(t, db, 1000, user.ID)

	issued := 0
	receipt, err := svc.PurchaseEntry(context.Background(), game.ID, user.ID, func(tx *gorm.DB, p *model.GameParticipant) error {
		issued++
		assert.True(t, p.PaidEntry)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, issued)
	assert.Equal(t, int64(4000), receipt.Balance)
	assert.Equal(t, int64(1000), receipt.PrizePool)

	assert.Equal(t, int64(4000), testutil.ReloadUser(t, db, user.ID).Balance)
	assert.Equal(t, int64(1000), testutil.ReloadGame(t, db, game.ID).PrizePool)

	var p model.GameParticipant
	require.NoError(t, db.Where("game_id = ? AND user_id = ?", game.ID, user.ID).First(&p).Error)
	assert.True(t, p.PaidEntry)
	assert.NotNil(t, p.PaidAt)

	var txs []model.Transaction
	require.NoError(t, db.Where("user_id = ?", user.ID).Find(&txs).Error)
	require.Len(t, txs, 1)
	assert.Equal(t, model.TxEntryFee, txs[0].Type)
	assert.Equal(t, int64(1000), txs[0].Amount)
	assert.Equal(t, int64(4000), txs[0].BalanceAfter)
}

func TestPurchaseEntryTwiceNeverDebitsTwice(t *testing.T) {
	db, svc := newTestService(t)
	user := testutil.CreateUser(t, db, "+15550000002", 5000)
	game := newWaitingGame(t, db, 1000, user.ID)
	ctx := context.Background()

	_, err := svc.PurchaseEntry(ctx, game.ID, user.ID, nil)
	require.NoError(t, err)
	_, err = svc.PurchaseEntry(ctx, game.ID, user.ID, nil)
	require.ErrorIs(t, err, appErr.ErrAlreadyPaid)

	assert.Equal(t, int64(4000), testutil.ReloadUser(t, db, user.ID).Balance)
	assert.Equal(t, int64(1000), testutil.ReloadGame(t, db, game.ID).PrizePool)
}

func TestPurchaseEntryInsufficientBalance(t *testing.T) {
	db, svc := newTestService(t)
	user := testutil.CreateUser(t, db, "+15550000003", 500)
	game := newWaitingGame(t, db, 1000, user.ID)

	_, err := svc.PurchaseEntry(context.Background(), game.ID, user.ID, nil)
	require.ErrorIs(t, err, appErr.ErrInsufficientBalance)
	assert.Equal(t, appErr.KindInsufficientBalance, appErr.KindOf(err))

	assert.Equal(t, int64(500), testutil.ReloadUser(t, db, user.ID).Balance)
	assert.Equal(t, int64(0), testutil.ReloadGame(t, db, game.ID).PrizePool)
	var count int64
	db.Model(&model.Transaction{}).Count(&count)
	assert.Zero(t, count)
}

func TestPurchaseEntryRollsBackWhenIssueFails(t *testing.T) {
	db, svc := newTestService(t)
	user := testutil.CreateUser(t, db, "+15550000004", 5000)
	game := newWaitingGame(t, db, 1000, user.ID)

	_, err := svc.PurchaseEntry(context.Background(), game.ID, user.ID, func(*gorm.DB, *model.GameParticipant) error {
		return errors.New("card store unavailable")
	})
	require.Error(t, err)

	assert.Equal(t, int64(5000), testutil.ReloadUser(t, db, user.ID).Balance)
	assert.Equal(t, int64(0), testutil.ReloadGame(t, db, game.ID).PrizePool)
	var p model.GameParticipant
	require.NoError(t, db.Where("game_id = ? AND user_id = ?", game.ID, user.ID).First(&p).Error)
	assert.False(t, p.PaidEntry)
}

func TestPurchaseEntryRejectsFinishedGameAndStrangers(t *testing.T) {
	db, svc := newTestService(t)
	member := testutil.CreateUser(t, db, "+15550000005", 5000)
	stranger := testutil.CreateUser(t, db, "+15550000006", 5000)
	game := newWaitingGame(t, db, 1000, member.ID)
	ctx := context.Background()

	_, err := svc.PurchaseEntry(ctx, game.ID, stranger.ID, nil)
	require.ErrorIs(t, err, appErr.ErrNotParticipant)

	_, err = svc.FinishWithoutWinner(ctx, 0, game.ID)
	require.NoError(t, err)
	_, err = svc.PurchaseEntry(ctx, game.ID, member.ID, nil)
	require.ErrorIs(t, err, appErr.ErrGameFinished)

	_, err = svc.PurchaseEntry(ctx, 9999, member.ID, nil)
	require.ErrorIs(t, err, appErr.ErrGameNotFound)
}

func TestConcurrentPurchasesSettleExactly(t *testing.T) {
	db, svc := newTestService(t)
	ctx := context.Background()

	const players = 8
	ids := make([]int64, 0, players)
	for i := 0; i < players; i++ {
		ids = append(ids, testutil.CreateUser(t, db, fmt.Sprintf("+1555100%04d", i), 3000).ID)
	}
	game := newWaitingGame(t, db, 1000, ids...)

	var wg conc.WaitGroup
	for _, id := range ids {
		id := id
		for attempt := 0; attempt < 3; attempt++ {
			wg.Go(func() {
				_, _ = svc.PurchaseEntry(ctx, game.ID, id, nil)
			})
		}
	}
	wg.Wait()

	assert.Equal(t, int64(players*1000), testutil.ReloadGame(t, db, game.ID).PrizePool)
	for _, id := range ids {
		assert.Equal(t, int64(2000), testutil.ReloadUser(t, db, id).Balance)
		report, err := svc.Audit(ctx, id)
		require.NoError(t, err)
		assert.True(t, report.Consistent)
		assert.Equal(t, int64(1), report.Transactions)
	}
}

func TestClaimPrizeOnlyOnce(t *testing.T) {
	db, svc := newTestService(t)
	winner := testutil.CreateUser(t, db, "+15550000010", 5000)
	loser := testutil.CreateUser(t, db, "+15550000011", 5000)
	game := newRunningGame(t, db, 1000, winner.ID, loser.ID)
	ctx := context.Background()

	for _, id := range []int64{winner.ID, loser.ID} {
		_, err := svc.PurchaseEntry(ctx, game.ID, id, nil)
		require.NoError(t, err)
	}
	finished, err := svc.FinishWithWinner(ctx, 0, game.ID, winner.ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.PatternHorizontalLine, finished.WinPattern)

	_, err = svc.ClaimPrize(ctx, game.ID, loser.ID)
	require.ErrorIs(t, err, appErr.ErrNotWinner)

	results := pool.NewWithResults[error]()
	for i := 0; i < 4; i++ {
		results.Go(func() error {
			_, err := svc.ClaimPrize(ctx, game.ID, winner.ID)
			return err
		})
	}
	var paid, nothing int
	for _, err := range results.Wait() {
		switch {
		case err == nil:
			paid++
		case errors.Is(err, appErr.ErrNothingToClaim):
			nothing++
		default:
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	assert.Equal(t, 1, paid)
	assert.Equal(t, 3, nothing)

	assert.Equal(t, int64(6000), testutil.ReloadUser(t, db, winner.ID).Balance)
	assert.Equal(t, int64(0), testutil.ReloadGame(t, db, game.ID).PrizePool)

	report, err := svc.Audit(ctx, winner.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, int64(1000), report.LedgerSum)
}

func TestFinishHappensExactlyOnce(t *testing.T) {
	db, svc := newTestService(t)
	a := testutil.CreateUser(t, db, "+15550000020", 0)
	b := testutil.CreateUser(t, db, "+15550000021", 0)
	game := newRunningGame(t, db, 0, a.ID, b.ID)
	ctx := context.Background()

	finished, err := svc.FinishWithWinner(ctx, 0, game.ID, a.ID, model.PatternFullCard)
	require.NoError(t, err)
	assert.Equal(t, model.GameFinished, finished.Status)
	require.NotNil(t, finished.WinnerID)
	assert.Equal(t, a.ID, *finished.WinnerID)
	assert.NotNil(t, finished.FinishedAt)
	assert.Nil(t, finished.OpenRoomID)

	_, err = svc.FinishWithoutWinner(ctx, 0, game.ID)
	require.ErrorIs(t, err, appErr.ErrGameFinished)
	_, err = svc.FinishWithWinner(ctx, 0, game.ID, b.ID, "")
	require.ErrorIs(t, err, appErr.ErrGameFinished)

	winner := testutil.ReloadUser(t, db, a.ID)
	assert.Equal(t, 1, winner.Wins)
	assert.Equal(t, int64(10), winner.Points)
	assert.Equal(t, 1, winner.GamesPlayed)

	other := testutil.ReloadUser(t, db, b.ID)
	assert.Equal(t, 0, other.Wins)
	assert.Equal(t, 1, other.GamesPlayed)
}

func TestFinishWithWinnerRequiresParticipant(t *testing.T) {
	db, svc := newTestService(t)
	member := testutil.CreateUser(t, db, "+15550000030", 0)
	outsider := testutil.CreateUser(t, db, "+15550000031", 0)
	game := newRunningGame(t, db, 0, member.ID)

	_, err := svc.FinishWithWinner(context.Background(), 0, game.ID, outsider.ID, "")
	require.ErrorIs(t, err, appErr.ErrNotParticipant)
	assert.Equal(t, model.GameInProgress, testutil.ReloadGame(t, db, game.ID).Status)
}

func TestFinishWithWinnerRequiresStartedGame(t *testing.T) {
	db, svc := newTestService(t)
	member := testutil.CreateUser(t, db, "+15550000032", 0)
	game := newWaitingGame(t, db, 0, member.ID)
	ctx := context.Background()

	_, err := svc.FinishWithWinner(ctx, 0, game.ID, member.ID, "")
	require.ErrorIs(t, err, appErr.ErrWinnerBeforeStart)

	stored := testutil.ReloadGame(t, db, game.ID)
	assert.Equal(t, model.GameWaiting, stored.Status)
	assert.Nil(t, stored.WinnerID)
	assert.Equal(t, 0, testutil.ReloadUser(t, db, member.ID).Wins)

	finished, err := svc.FinishWithoutWinner(ctx, 0, game.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GameFinished, finished.Status)
	assert.Nil(t, finished.WinnerID)
}

func TestAdministrativeOperationsRequireAdmin(t *testing.T) {
	db := testutil.NewDB(t)
	svc := ledger.NewService(db, denyAll{}, 10)
	user := testutil.CreateUser(t, db, "+15550000040", 0)
	game := newWaitingGame(t, db, 0, user.ID)
	ctx := context.Background()

	_, err := svc.AdminAddBalance(ctx, user.ID, user.ID, 100, "")
	require.ErrorIs(t, err, appErr.ErrAdminRequired)
	_, err = svc.FinishWithoutWinner(ctx, user.ID, game.ID)
	require.ErrorIs(t, err, appErr.ErrAdminRequired)
	_, err = svc.FinishWithWinner(ctx, user.ID, game.ID, user.ID, "")
	require.ErrorIs(t, err, appErr.ErrAdminRequired)

	assert.Equal(t, int64(0), testutil.ReloadUser(t, db, user.ID).Balance)
	assert.Equal(t, model.GameWaiting, testutil.ReloadGame(t, db, game.ID).Status)
}

func TestAdminAddBalance(t *testing.T) {
	db, svc := newTestService(t)
	admin := testutil.CreateAdmin(t, db, "+15550000050")
	user := testutil.CreateUser(t, db, "+15550000051", 200)
	ctx := context.Background()

	_, err := svc.AdminAddBalance(ctx, admin.ID, user.ID, 0, "")
	require.ErrorIs(t, err, appErr.ErrInvalidAmount)
	_, err = svc.AdminAddBalance(ctx, admin.ID, user.ID, -5, "")
	require.ErrorIs(t, err, appErr.ErrInvalidAmount)
	_, err = svc.AdminAddBalance(ctx, admin.ID, 9999, 100, "")
	require.ErrorIs(t, err, appErr.ErrUserNotFound)

	receipt, err := svc.AdminAddBalance(ctx, admin.ID, user.ID, 1550, "promo")
	require.NoError(t, err)
	assert.Equal(t, int64(1750), receipt.Balance)

	history, err := svc.History(ctx, user.ID, 1, 10)
	require.NoError(t, err)
	require.Equal(t, int64(1), history.Total)
	assert.Equal(t, model.TxDeposit, history.Items[0].Type)
	assert.Equal(t, "promo", history.Items[0].Description)
}

func TestAuditInvariantAcrossOperations(t *testing.T) {
	db, svc := newTestService(t)
	user := testutil.CreateUser(t, db, "+15550000060", 2500)
	ctx := context.Background()

	_, err := svc.AdminAddBalance(ctx, 0, user.ID, 1000, "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		game := newRunningGame(t, db, 700, user.ID)
		_, err := svc.PurchaseEntry(ctx, game.ID, user.ID, nil)
		require.NoError(t, err)
		if i == 1 {
			_, err = svc.FinishWithWinner(ctx, 0, game.ID, user.ID, "")
			require.NoError(t, err)
			_, err = svc.ClaimPrize(ctx, game.ID, user.ID)
			require.NoError(t, err)
		}
	}

	report, err := svc.Audit(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, int64(2500+1000-3*700+700), report.Balance)
	assert.Equal(t, report.Balance-report.StartingBalance, report.LedgerSum)
	assert.Equal(t, int64(5), report.Transactions)

	history, err := svc.History(ctx, user.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), history.Total)
	require.Len(t, history.Items, 2)
	assert.Greater(t, history.Items[0].ID, history.Items[1].ID)
}
