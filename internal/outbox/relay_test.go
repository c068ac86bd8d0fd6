package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/event-registration/internal/model"
	"github.com/Shivanand-hulikatti/event-registration/internal/repository"
	"github.com/Shivanand-hulikatti/event-registration/internal/repository/memstore"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func seed(t *testing.T, store *memstore.Store, registrations int) {
	t.Helper()
	ctx := context.Background()
	e, err := store.CreateEvent(ctx, model.CreateEventRequest{Name: "Quiz", Type: model.EventSoloMulti})
	require.NoError(t, err)
	for i := 0; i < registrations; i++ {
		_, err := store.CreateRegistration(ctx, repository.NewRegistration{EventID: e.ID, ParticipantID: 7})
		require.NoError(t, err)
	}
}

func TestFlush_DrainsInBatches(t *testing.T) {
	store := memstore.New()
	seed(t, store, 3) // free event: created + confirmed per registration

	w := &fakeWriter{}
	n, err := NewRelay(store, w, Options{BatchSize: 4}).Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Zero(t, store.Pending())

	msgs := w.written()
	require.Len(t, msgs, 6)
	assert.Equal(t, repository.TopicRegistrationCreated, header(msgs[0], "event-type"))
	assert.Equal(t, repository.TopicRegistrationConfirmed, header(msgs[1], "event-type"))
	assert.Equal(t, "1", string(msgs[0].Key))
	_, err = uuid.Parse(header(msgs[0], "message-id"))
	assert.NoError(t, err)
}

func TestFlush_BrokerErrorKeepsMessages(t *testing.T) {
	store := memstore.New()
	seed(t, store, 1)

	w := &fakeWriter{err: errors.New("leader not available")}
	relay := NewRelay(store, w, Options{BatchSize: 10})

	_, err := relay.Flush(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, store.Pending())

	w.err = nil
	n, err := relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRun_StopsOnCancel(t *testing.T) {
	store := memstore.New()
	seed(t, store, 1)
	w := &fakeWriter{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewRelay(store, w, Options{PollInterval: 10 * time.Millisecond}).Run(ctx) }()

	require.Eventually(t, func() bool { return len(w.written()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestNewKafkaWriter(t *testing.T) {
	w := NewKafkaWriter([]string{"localhost:9092"}, "registration-events")
	assert.Equal(t, "registration-events", w.Topic)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
}
