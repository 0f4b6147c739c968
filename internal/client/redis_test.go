package client

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishOutcome(t *testing.T) {
	db, mock := redismock.NewClientMock()
	r := NewRedisClientFrom(db)

	mock.ExpectRPush("analysis:outcome:trk-1", `{"state":"resolved"}`).SetVal(1)
	mock.ExpectExpire("analysis:outcome:trk-1", time.Minute).SetVal(true)

	err := r.PublishOutcome(context.Background(), "trk-1", map[string]string{"state": "resolved"}, time.Minute)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishOutcome_PushError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	r := NewRedisClientFrom(db)

	mock.ExpectRPush("analysis:outcome:trk-1", `"x"`).SetErr(fmt.Errorf("connection reset"))

	err := r.PublishOutcome(context.Background(), "trk-1", "x", time.Minute)
	assert.ErrorContains(t, err, "connection reset")
}

func TestAwaitOutcome(t *testing.T) {
	db, mock := redismock.NewClientMock()
	r := NewRedisClientFrom(db)

	mock.ExpectBLPop(5*time.Second, "analysis:outcome:trk-2").
		SetVal([]string{"analysis:outcome:trk-2", `{"state":"failed"}`})

	data, err := r.AwaitOutcome(context.Background(), "trk-2", 5*time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"failed"}`, string(data))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAwaitOutcome_Timeout(t *testing.T) {
	db, mock := redismock.NewClientMock()
	r := NewRedisClientFrom(db)

	mock.ExpectBLPop(time.Second, "analysis:outcome:gone").RedisNil()

	_, err := r.AwaitOutcome(context.Background(), "gone", time.Second)
	assert.ErrorIs(t, err, ErrNoOutcome)
}
