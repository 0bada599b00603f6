package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shield/apps/reconciler/internal/model"
)

func sampleIntent() model.Intent {
	return model.Intent{
		IntentID:       "0x0000000000000000000000000000000000000000000000000000000000000abc",
		Kind:           model.IntentKindMint,
		UserAddress:    "0x00000000000000000000000000000000000000c3",
		Asset:          "0x00000000000000000000000000000000000000d4",
		Amount:         "1000000000000000000000",
		LockedNAV:      "1000000000000000000",
		ExpectedOutput: "1000000000000000000000",
		ExecutionFee:   "0",
		ExpiresAt:      1700000000,
		BlockNumber:    100,
		TxHash:         "0xfeed",
	}
}

func TestCreateIntent_NewRowEnqueuesOutbox(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewIntentRepository(db, zap.NewNop())
	intent := sampleIntent()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO intents .* ON CONFLICT \(intent_id\) DO NOTHING`).
		WithArgs(intent.IntentID, intent.Kind, intent.UserAddress, intent.Asset, intent.Amount, intent.LockedNAV,
			intent.ExpectedOutput, intent.ExecutionFee, intent.ExpiresAt, model.IntentStatusPending, intent.BlockNumber, intent.TxHash).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO event_outbox`).
		WithArgs("intent:"+intent.IntentID+":created", OutboxIntentCreated, intent.IntentID, model.OutboxStatusUnsent, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	created, err := repo.CreateIntent(context.Background(), intent)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateIntent_ReplayIsNoop(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewIntentRepository(db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO intents`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	created, err := repo.CreateIntent(context.Background(), sampleIntent())
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateIntentStatus_OnlyFromPending(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewIntentRepository(db, zap.NewNop())
	hash := "0xbeef"

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE intents\s+SET status = \$2, execution_tx_hash = \$3, updated_at = NOW\(\)\s+WHERE intent_id = \$1 AND status = 'PENDING'`).
		WithArgs("0xabc", model.IntentStatusProcessed, &hash).
		WillReturnRows(sqlmock.NewRows([]string{"kind"}).AddRow("MINT"))
	mock.ExpectExec(`INSERT INTO event_outbox`).
		WithArgs("intent:0xabc:PROCESSED", OutboxIntentUpdated, "0xabc", model.OutboxStatusUnsent, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updated, err := repo.UpdateIntentStatus(context.Background(), "0xabc", model.IntentStatusProcessed, &hash)
	require.NoError(t, err)
	assert.True(t, updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateIntentStatus_TerminalIsUntouched(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewIntentRepository(db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE intents`).
		WillReturnRows(sqlmock.NewRows([]string{"kind"}))
	mock.ExpectRollback()

	updated, err := repo.UpdateIntentStatus(context.Background(), "0xabc", model.IntentStatusFailed, nil)
	require.NoError(t, err)
	assert.False(t, updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateIntentStatus_RejectsPendingTarget(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewIntentRepository(db, zap.NewNop())

	_, err := repo.UpdateIntentStatus(context.Background(), "0xabc", model.IntentStatusPending, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetIntent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewIntentRepository(db, zap.NewNop())
	now := time.Now()

	cols := []string{"intent_id", "kind", "user_address", "asset", "amount", "locked_nav", "expected_output", "execution_fee",
		"expires_at", "status", "block_number", "tx_hash", "execution_tx_hash", "execution_attempted_at", "created_at", "updated_at"}
	mock.ExpectQuery(`SELECT .* FROM intents WHERE intent_id = \$1`).
		WithArgs("0xabc").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("0xabc", "REDEEM", "0xc3", "0xd4", "5", "1", "5", "0", int64(9), "PENDING", uint64(3), "0xfeed", nil, nil, now, now))
	mock.ExpectQuery(`SELECT .* FROM intents WHERE intent_id = \$1`).
		WithArgs("0xmissing").
		WillReturnRows(sqlmock.NewRows(cols))

	intent, err := repo.GetIntent(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, model.IntentKindRedeem, intent.Kind)
	assert.Equal(t, model.IntentStatusPending, intent.Status)
	assert.Nil(t, intent.ExecutionTxHash)
	assert.Nil(t, intent.ExecutionAttemptedAt)

	_, err = repo.GetIntent(context.Background(), "0xmissing")
	assert.ErrorIs(t, err, ErrIntentNotFound)
}

func TestMarkExecutionAttempt_ClaimsOnce(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewIntentRepository(db, zap.NewNop())

	claim := `UPDATE intents\s+SET execution_attempted_at = NOW\(\), updated_at = NOW\(\)\s+WHERE intent_id = \$1 AND status = 'PENDING' AND execution_attempted_at IS NULL`
	mock.ExpectExec(claim).WithArgs("0xabc").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(claim).WithArgs("0xabc").WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := repo.MarkExecutionAttempt(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repo.MarkExecutionAttempt(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.False(t, claimed, "a second claim must not allow another broadcast")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkExecutionAttempt_Error(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewIntentRepository(db, zap.NewNop())

	mock.ExpectExec(`UPDATE intents`).WillReturnError(errors.New("connection reset"))

	_, err := repo.MarkExecutionAttempt(context.Background(), "0xabc")
	assert.ErrorContains(t, err, "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpirePending(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewIntentRepository(db, zap.NewNop())
	now := time.Unix(1700000000, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE intents\s+SET status = 'EXPIRED'.*WHERE status = 'PENDING' AND expires_at < \$1 AND execution_attempted_at IS NULL`).
		WithArgs(now.Unix()).
		WillReturnRows(sqlmock.NewRows([]string{"intent_id", "kind"}).AddRow("0x01", "MINT").AddRow("0x02", "REDEEM"))
	mock.ExpectExec(`INSERT INTO event_outbox`).
		WithArgs("intent:0x01:EXPIRED", OutboxIntentUpdated, "0x01", model.OutboxStatusUnsent, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO event_outbox`).
		WithArgs("intent:0x02:EXPIRED", OutboxIntentUpdated, "0x02", model.OutboxStatusUnsent, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ids, err := repo.ExpirePending(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, []string{"0x01", "0x02"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpirePending_ErrorRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewIntentRepository(db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE intents`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := repo.ExpirePending(context.Background(), time.Now())
	assert.ErrorContains(t, err, "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}
