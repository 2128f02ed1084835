package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/service-booking-engine/internal/model"
)

func TestConsumerHandle_AppendsOneLinePerEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "reservations.log")
	c := NewConsumer("amqp://unused", path, zap.NewNop())

	res := model.Reservation{
		ID: "r-1", CheckoutID: "c-1", OwnerID: "u-1", ServiceID: "svc-a",
		EventDate: model.NewDay(2025, 6, 1), Quantity: 2, Status: model.ReservationConfirmed,
	}
	at := time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)
	for _, typ := range []string{ReservationConfirmed, ReservationCancelled} {
		body, err := json.Marshal(NewReservationEvent(typ, res, at))
		require.NoError(t, err)
		require.NoError(t, c.Handle(body))
	}

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "reservation.confirmed")
	assert.Contains(t, lines[0], "date=2025-06-01")
	assert.Contains(t, lines[1], "reservation.cancelled")
}

func TestConsumerHandle_RejectsMalformed(t *testing.T) {
	c := NewConsumer("amqp://unused", filepath.Join(t.TempDir(), "r.log"), nil)
	assert.Error(t, c.Handle([]byte("{")))
	assert.Error(t, c.Handle([]byte(`{"type":""}`)))
}
