package sfu

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFakeEngineProduceConsumeLifecycle(t *testing.T) {
	ctx := context.Background()
	engine := NewFakeEngine()
	require.NoError(t, engine.Initialize(ctx))

	router, err := engine.CreateRouter(ctx, DefaultCodecs())
	require.NoError(t, err)

	send, err := router.CreateTransport(ctx, CreateTransportOptions{Direction: DirectionSend})
	require.NoError(t, err)
	require.NoError(t, router.ConnectTransport(ctx, send.ID, DtlsParameters{}))

	err = router.ConnectTransport(ctx, send.ID, DtlsParameters{})
	require.ErrorIs(t, err, ErrAlreadyConnected)

	producer, err := router.Produce(ctx, send.ID, KindVideo, RtpParameters{})
	require.NoError(t, err)

	recv, err := router.CreateTransport(ctx, CreateTransportOptions{Direction: DirectionRecv})
	require.NoError(t, err)
	require.NoError(t, router.ConnectTransport(ctx, recv.ID, DtlsParameters{}))

	require.True(t, router.(*FakeRouter).CanConsume(producer.ID, RtpCapabilities{}))

	consumer, err := router.Consume(ctx, recv.ID, producer.ID, RtpCapabilities{})
	require.NoError(t, err)
	require.Equal(t, producer.ID, consumer.ProducerID)

	require.NoError(t, router.ResumeConsumer(ctx, consumer.ID))
	require.NoError(t, router.PauseConsumer(ctx, consumer.ID))

	require.NoError(t, router.CloseProducer(ctx, producer.ID))
	require.NoError(t, router.CloseProducer(ctx, producer.ID))

	_, _, consumers := router.(*FakeRouter).LiveCounts()
	require.Equal(t, 0, consumers, "closing a producer tears down its consumers")
}

func TestFakeRouterDenyConsume(t *testing.T) {
	ctx := context.Background()
	router := newFakeRouter(DefaultCodecs())

	send, _ := router.CreateTransport(ctx, CreateTransportOptions{Direction: DirectionSend})
	_ = router.ConnectTransport(ctx, send.ID, DtlsParameters{})
	producer, _ := router.Produce(ctx, send.ID, KindVideo, RtpParameters{})

	router.DenyConsumeForKind(KindVideo)

	recv, _ := router.CreateTransport(ctx, CreateTransportOptions{Direction: DirectionRecv})
	_ = router.ConnectTransport(ctx, recv.ID, DtlsParameters{})

	_, err := router.Consume(ctx, recv.ID, producer.ID, RtpCapabilities{})
	require.ErrorIs(t, err, ErrCannotConsume)
}
