package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deferIngest(t *testing.T, env *testEnv, sessionID string) {
	t.Helper()
	env.store.setFailAll(errStoreDown)
	outcome := env.ingest(t, checkoutEvent(t, sessionID, eventOptions{email: "a@b.com"}))
	require.Equal(t, OutcomeDeferred, outcome)
}

func TestProcessPendingBatch_DeadLettersAfterMaxAttempts(t *testing.T) {
	env := newTestEnv(t)
	env.svc.maxRetryAttempts = 3
	deferIngest(t, env, "cs_test_1")

	env.svc.processPendingBatch(context.Background())
	assert.Equal(t, 1, env.svc.PendingIngests())
	assert.Empty(t, env.publisher.deadLetters)

	env.svc.processPendingBatch(context.Background())
	assert.Zero(t, env.svc.PendingIngests())

	require.Len(t, env.publisher.deadLetters, 1)
	dl := env.publisher.deadLetters[0]
	assert.Equal(t, "evt_cs_test_1", dl.EventID)
	assert.Equal(t, "cs_test_1", dl.SessionID)
	assert.Equal(t, 3, dl.Attempts)
	assert.Contains(t, dl.Error, errStoreDown.Error())
	assert.Equal(t, "a@b.com", dl.Record.CustomerEmail)
}

func TestEnqueuePending_OverflowGoesToDeadLetter(t *testing.T) {
	env := newTestEnv(t)
	env.svc.maxPending = 1

	deferIngest(t, env, "cs_test_1")
	deferIngest(t, env, "cs_test_2")

	assert.Equal(t, 1, env.svc.PendingIngests())
	require.Len(t, env.publisher.deadLetters, 1)
	assert.Equal(t, "cs_test_2", env.publisher.deadLetters[0].SessionID)
}

func TestDeadLetter_KeepsCartWhenStoreIsDown(t *testing.T) {
	env := newTestEnv(t)
	env.svc.maxRetryAttempts = 1
	env.store.setFailAll(errStoreDown)

	payload := checkoutEvent(t, "cs_test_1", eventOptions{
		email:    "a@b.com",
		metadata: map[string]string{"cart": `[{"id":"p1","q":2}]`},
	})
	require.Equal(t, OutcomeDeferred, env.ingest(t, payload))

	env.svc.processPendingBatch(context.Background())
	assert.Zero(t, env.svc.PendingIngests())

	require.Len(t, env.publisher.deadLetters, 1)
	items := env.publisher.deadLetters[0].Record.Items
	require.Len(t, items, 1)
	assert.Equal(t, "p1", items[0].ProductID)
	assert.Equal(t, "photos/sunset.jpg", items[0].AssetRef)
	assert.Equal(t, 2, items[0].QuantityPurchased)
}

func TestDeadLetter_ShutdownKeepsCartWhenStoreIsDown(t *testing.T) {
	env := newTestEnv(t)
	env.svc.retryInterval = time.Hour
	env.store.setFailAll(errStoreDown)

	payload := checkoutEvent(t, "cs_test_1", eventOptions{
		email:    "a@b.com",
		metadata: map[string]string{"cart": `[{"id":"p2","q":3}]`},
	})
	require.Equal(t, OutcomeDeferred, env.ingest(t, payload))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	env.svc.RunIngestRetries(ctx)

	require.Len(t, env.publisher.deadLetters, 1)
	items := env.publisher.deadLetters[0].Record.Items
	require.Len(t, items, 1)
	assert.Equal(t, "photos/harbor.jpg", items[0].AssetRef)
	assert.Equal(t, 3, items[0].QuantityPurchased)
}

func TestRunIngestRetries(t *testing.T) {
	env := newTestEnv(t)
	env.svc.retryInterval = 10 * time.Millisecond
	deferIngest(t, env, "cs_test_1")
	env.store.setFailAll(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		env.svc.RunIngestRetries(ctx)
	}()

	assert.Eventually(t, func() bool {
		_, err := env.purchases.Get(context.Background(), "cs_test_1")
		return err == nil
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Empty(t, env.publisher.deadLetters)
}

func TestRunIngestRetries_FlushesBeforeReturning(t *testing.T) {
	env := newTestEnv(t)
	env.svc.retryInterval = time.Hour
	deferIngest(t, env, "cs_test_1")
	deferIngest(t, env, "cs_test_2")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		env.svc.RunIngestRetries(ctx)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("retry worker did not stop")
	}

	// Worker вернулся только после отправки всех отложенных событий.
	assert.Len(t, env.publisher.deadLetters, 2)
	assert.Zero(t, env.svc.PendingIngests())
}
