package report

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/print-slicer/backend/internal/models"
	"github.com/print-slicer/backend/internal/records"
)

func successResult(id string) models.FileResult {
	return models.FileResult{
		FileID:     id,
		Name:       id + ".stl",
		Status:     models.FileStatusSuccess,
		MassGrams:  12.5,
		Dimensions: &models.BoundingBox{X: 10, Y: 20, Z: 30},
		Pricing:    &models.PricingTiers{Good: 1.1, Better: 1.2, Best: 1.4},
	}
}

func TestRecordSink(t *testing.T) {
	store := records.NewMemoryStore()
	store.Put(models.FileRecord{FileID: "a", Status: models.FileStatusPending})
	sink := NewRecordSink(store)

	require.NoError(t, sink.Deliver(context.Background(), successResult("a")))
	rec, err := store.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusSuccess, rec.Status)
	assert.InDelta(t, 12.5, rec.MassGrams, 1e-9)
	assert.Equal(t, 1, store.Updates("a"))

	err = sink.Deliver(context.Background(), successResult("missing"))
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.True(t, errors.Is(err, records.ErrNotFound))
}

func TestCallbackSink_Success(t *testing.T) {
	var got CallbackPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	signer := NewSigner("secret", "slicer", time.Minute)
	sink := NewCallbackSink(srv.URL, srv.Client(), signer)
	require.NoError(t, sink.Deliver(context.Background(), successResult("f1")))

	assert.Equal(t, "f1", got.FileID)
	assert.Equal(t, models.FileStatusSuccess, got.Status)
	assert.Empty(t, got.Error)
	require.NotNil(t, got.Pricing)
	assert.InDelta(t, 1.4, got.Pricing.Best, 1e-9)

	require.True(t, strings.HasPrefix(auth, "Bearer "))
	token, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), &jwt.RegisteredClaims{},
		func(*jwt.Token) (any, error) { return []byte("secret"), nil })
	require.NoError(t, err)
	sub, _ := token.Claims.GetSubject()
	assert.Equal(t, "f1", sub)
}

func TestCallbackSink_Failures(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		err := NewCallbackSink(srv.URL, nil, nil).Deliver(context.Background(), successResult("f"))
		var de *DeliveryError
		require.ErrorAs(t, err, &de)
		assert.False(t, de.Transport)
		assert.Equal(t, http.StatusBadGateway, de.StatusCode)
	})

	t.Run("transport", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := srv.URL
		srv.Close()

		err := NewCallbackSink(url, nil, nil).Deliver(context.Background(), successResult("f"))
		var de *DeliveryError
		require.ErrorAs(t, err, &de)
		assert.True(t, de.Transport)
	})
}

func TestPayloadFromResult_Error(t *testing.T) {
	p := PayloadFromResult(models.FileResult{
		FileID:      "x",
		Status:      models.FileStatusError,
		Message:     "dimension X too large",
		FailureKind: models.FailureDimensionExceeded,
	})
	assert.Equal(t, "dimension X too large", p.Error)
	assert.Nil(t, p.Pricing)
}

func TestNewSigner_Empty(t *testing.T) {
	assert.Nil(t, NewSigner("", "x", time.Minute))
}

func TestCompletionNotifier(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	var body models.BatchReport
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		if strings.HasPrefix(r.URL.Path, "/dev/") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		_ = json.Unmarshal(data, &body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	seen := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), paths...)
	}
	reset := func() {
		mu.Lock()
		paths = nil
		mu.Unlock()
	}

	report := models.NewBatchReport("b1", "order-7", "", []models.FileResult{successResult("a")}, time.Now(), time.Now())

	t.Run("falls back in order", func(t *testing.T) {
		reset()
		n := NewCompletionNotifier([]Endpoint{
			{Name: "dev", URL: srv.URL + "/dev/{prefix}"},
			{Name: "prod", URL: srv.URL + "/prod/{prefix}"},
			{Name: "never", URL: srv.URL + "/never/{prefix}"},
		}, nil, srv.Client(), nil)

		name, err := n.Complete(context.Background(), report)
		require.NoError(t, err)
		assert.Equal(t, "prod", name)
		assert.Equal(t, []string{"/dev/order-7", "/prod/order-7"}, seen())
		mu.Lock()
		assert.Equal(t, 1, body.Succeeded)
		mu.Unlock()
	})

	t.Run("first success stops", func(t *testing.T) {
		reset()
		n := NewCompletionNotifier([]Endpoint{
			{Name: "prod", URL: srv.URL + "/prod/{prefix}"},
			{Name: "dev", URL: srv.URL + "/dev/{prefix}"},
		}, nil, srv.Client(), nil)

		name, err := n.Complete(context.Background(), report)
		require.NoError(t, err)
		assert.Equal(t, "prod", name)
		assert.Len(t, seen(), 1)
	})

	t.Run("cart endpoints", func(t *testing.T) {
		reset()
		n := NewCompletionNotifier(
			[]Endpoint{{Name: "plain", URL: srv.URL + "/prod/{prefix}"}},
			[]Endpoint{{Name: "cart", URL: srv.URL + "/prod/{prefix}/{cart}"}},
			srv.Client(), nil)

		withCart := report
		withCart.CartID = "c9"
		name, err := n.Complete(context.Background(), withCart)
		require.NoError(t, err)
		assert.Equal(t, "cart", name)
		assert.Equal(t, []string{"/prod/order-7/c9"}, seen())
	})

	t.Run("all fail", func(t *testing.T) {
		n := NewCompletionNotifier([]Endpoint{
			{Name: "dev", URL: srv.URL + "/dev/{prefix}"},
		}, nil, srv.Client(), nil)

		name, err := n.Complete(context.Background(), report)
		assert.Empty(t, name)
		assert.ErrorIs(t, err, ErrNoEndpoint)
	})

	t.Run("no endpoints", func(t *testing.T) {
		name, err := NewCompletionNotifier(nil, nil, nil, nil).Complete(context.Background(), report)
		assert.NoError(t, err)
		assert.Empty(t, name)
	})
}

func TestRedisPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, "reports")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewRedisPublisherWithClient(client, "reports", time.Hour)
	report := models.NewBatchReport("b2", "p", "", []models.FileResult{successResult("a")}, time.Now(), time.Now())
	require.NoError(t, pub.Publish(ctx, report))

	loaded, err := pub.Load(ctx, "b2")
	require.NoError(t, err)
	assert.Equal(t, "b2", loaded.BatchID)
	assert.Equal(t, 1, loaded.Succeeded)
	assert.True(t, mr.Exists(ReportKey("b2")))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "reports", msg.Channel)
		assert.NotEmpty(t, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}

func TestNewRedisPublisher_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := NewRedisPublisher(ctx, RedisConfig{Addr: addr})
	assert.Error(t, err)
}
