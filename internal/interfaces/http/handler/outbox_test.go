package handler

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	appevent "github.com/tradeledger/backend/internal/application/event"
	"github.com/tradeledger/backend/internal/interfaces/http/dto"
)

func setupOutboxRouter(outbox *mockOutboxAdmin) *gin.Engine {
	h := NewOutboxHandler(outbox)
	r := gin.New()
	r.GET("/outbox/stats", h.Stats)
	r.GET("/outbox/dead-letters", h.DeadLetters)
	r.POST("/outbox/dead-letters/retry", h.RetryAll)
	r.GET("/outbox/entries/:id", h.Get)
	r.POST("/outbox/entries/:id/retry", h.Retry)
	return r
}

func TestOutboxHandler(t *testing.T) {
	outbox := new(mockOutboxAdmin)
	router := setupOutboxRouter(outbox)
	dead := appevent.OutboxEntryView{ID: uuid.New(), EventType: "TransactionPosted", Status: "DEAD", LastError: "broker unavailable"}

	t.Run("stats", func(t *testing.T) {
		outbox.On("Stats", mock.Anything).Return(&appevent.OutboxStats{Pending: 3, Dead: 1, Total: 4}, nil).Once()

		w := performRequest(router, http.MethodGet, "/outbox/stats", nil)

		require.Equal(t, http.StatusOK, w.Code)
		var stats appevent.OutboxStats
		require.NoError(t, json.Unmarshal(decodeResponse(t, w).Data, &stats))
		assert.Equal(t, int64(1), stats.Dead)
	})

	t.Run("dead letters honour the limit", func(t *testing.T) {
		outbox.On("DeadLetters", mock.Anything, 10).Return([]appevent.OutboxEntryView{dead}, nil).Once()

		w := performRequest(router, http.MethodGet, "/outbox/dead-letters?limit=10", nil)

		require.Equal(t, http.StatusOK, w.Code)
		var entries []appevent.OutboxEntryView
		require.NoError(t, json.Unmarshal(decodeResponse(t, w).Data, &entries))
		require.Len(t, entries, 1)
		assert.Equal(t, dead.ID, entries[0].ID)
	})

	t.Run("limit out of range", func(t *testing.T) {
		w := performRequest(router, http.MethodGet, "/outbox/dead-letters?limit=5000", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("retry one", func(t *testing.T) {
		requeued := dead
		requeued.Status = "PENDING"
		outbox.On("Retry", mock.Anything, dead.ID).Return(&requeued, nil).Once()

		w := performRequest(router, http.MethodPost, "/outbox/entries/"+dead.ID.String()+"/retry", nil)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("retry a delivered entry", func(t *testing.T) {
		sent := uuid.New()
		outbox.On("Retry", mock.Anything, sent).Return(nil, appevent.ErrOutboxEntryNotDead).Once()

		w := performRequest(router, http.MethodPost, "/outbox/entries/"+sent.String()+"/retry", nil)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, "OUTBOX_ENTRY_NOT_DEAD", decodeResponse(t, w).Error.Reason)
	})

	t.Run("unknown entry", func(t *testing.T) {
		missing := uuid.New()
		outbox.On("GetEntry", mock.Anything, missing).Return(nil, appevent.ErrOutboxEntryNotFound).Once()

		w := performRequest(router, http.MethodGet, "/outbox/entries/"+missing.String(), nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("retry all", func(t *testing.T) {
		outbox.On("RetryAll", mock.Anything).Return(7, nil).Once()

		w := performRequest(router, http.MethodPost, "/outbox/dead-letters/retry", nil)

		require.Equal(t, http.StatusOK, w.Code)
		var body dto.RetryAllResponse
		require.NoError(t, json.Unmarshal(decodeResponse(t, w).Data, &body))
		assert.Equal(t, 7, body.Requeued)
	})

	outbox.AssertExpectations(t)
}
