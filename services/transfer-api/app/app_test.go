package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/models"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/ratelimit"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/repositories"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/views"
	"github.com/nimeshabuddhika/resilient-card-settlement/services/transfer-api/internal/services"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memoryQueue struct {
	messages []views.TransferMessage
}

func (q *memoryQueue) Enqueue(_ context.Context, msg views.TransferMessage) error {
	q.messages = append(q.messages, msg)
	return nil
}

type fixture struct {
	router *gin.Engine
	queue  *memoryQueue
	store  *repositories.MemoryTransactionStore
}

var cardExpiry = time.Date(2027, 12, 31, 0, 0, 0, 0, time.UTC)

func newFixture(capacity int) *fixture {
	gin.SetMode(gin.TestMode)
	queue := &memoryQueue{}
	store := repositories.NewMemoryTransactionStore()
	svc := services.NewTransferService(services.TransferServiceConfig{
		Logger:   zap.NewNop(),
		Queue:    queue,
		Outcomes: store,
	})
	cards := repositories.NewMemoryAccountStore(
		models.Account{CardNumber: "4111111111111111", HolderName: "John Doe", Balance: decimal.NewFromInt(1000), IsActive: true, ExpiresAt: cardExpiry},
		models.Account{CardNumber: "4000000000000002", HolderName: "Blocked Card", Balance: decimal.NewFromInt(500), ExpiresAt: cardExpiry},
	)
	router := NewRouter(RouterConfig{
		Logger:  zap.NewNop(),
		Service: svc,
		Cards:   services.NewCardService(zap.NewNop(), cards),
		Limiter: ratelimit.New(capacity, time.Minute),
	})
	return &fixture{router: router, queue: queue, store: store}
}

func (f *fixture) do(method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

const validBody = `{"fromCardNumber":"4111111111111111","toCardNumber":"5555555555554444","amount":100.50,"currency":"USD"}`

func TestCreateTransfer_Accepted(t *testing.T) {
	// Arrange
	f := newFixture(10)

	// Act
	w := f.do(http.MethodPost, "/api/v1/transfers", validBody, map[string]string{pkg.HeaderTraceId: "trace-42"})

	// Assert
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp struct {
		TraceID string `json:"traceId"`
		Data    struct {
			TransactionID string `json:"transactionId"`
			Status        string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "trace-42", resp.TraceID)
	assert.Equal(t, "Queued", resp.Data.Status)
	assert.NotEmpty(t, resp.Data.TransactionID)
	assert.Equal(t, "trace-42", w.Header().Get(pkg.HeaderTraceId))
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", w.Header().Get("X-RateLimit-Remaining"))

	require.Len(t, f.queue.messages, 1)
	assert.Equal(t, resp.Data.TransactionID, f.queue.messages[0].ID)
	assert.Equal(t, "trace-42", f.queue.messages[0].TraceID)
}

func TestCreateTransfer_MalformedBody(t *testing.T) {
	f := newFixture(10)

	w := f.do(http.MethodPost, "/api/v1/transfers", `{"amount":`, nil)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp pkg.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, pkg.ErrInvalidInputCode.Code, resp.Code)
	assert.Empty(t, f.queue.messages)
}

func TestCreateTransfer_ValidationFailure(t *testing.T) {
	f := newFixture(10)
	body := `{"fromCardNumber":"378282246310005","toCardNumber":"5555555555554444","amount":-5,"currency":"XYZ"}`

	w := f.do(http.MethodPost, "/api/v1/transfers", body, nil)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp pkg.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, pkg.ErrInvalidInputCode.Code, resp.Code)
	assert.Contains(t, resp.Message, "source card number")
	assert.Contains(t, resp.Message, "amount must be greater than 0")
	assert.Contains(t, resp.Message, "currency must be a valid 3-letter code")
	assert.Empty(t, f.queue.messages)
}

func TestCreateTransfer_RateLimited(t *testing.T) {
	f := newFixture(1)
	key := map[string]string{pkg.HeaderApiKey: "client-abcdefgh-123"}

	first := f.do(http.MethodPost, "/api/v1/transfers", validBody, key)
	second := f.do(http.MethodPost, "/api/v1/transfers", validBody, key)

	assert.Equal(t, http.StatusAccepted, first.Code)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Len(t, f.queue.messages, 1)
}

func TestGetTransfer(t *testing.T) {
	f := newFixture(10)
	require.NoError(t, f.store.Append(context.Background(), models.SettlementOutcome{
		TransactionID: "tx-1",
		RequestID:     "req-1",
		Success:       true,
		Status:        models.StatusApproved,
		Amount:        decimal.NewFromInt(5),
		Currency:      "USD",
		SettledAt:     time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
	}))

	found := f.do(http.MethodGet, "/api/v1/transfers/req-1", "", nil)
	missing := f.do(http.MethodGet, "/api/v1/transfers/req-2", "", nil)

	require.Equal(t, http.StatusOK, found.Code)
	var resp struct {
		Data []models.SettlementOutcome `json:"data"`
	}
	require.NoError(t, json.Unmarshal(found.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, models.StatusApproved, resp.Data[0].Status)

	require.Equal(t, http.StatusNotFound, missing.Code)
	var errResp pkg.ErrorResponse
	require.NoError(t, json.Unmarshal(missing.Body.Bytes(), &errResp))
	assert.Equal(t, pkg.ErrRecordNotFoundCode.Code, errResp.Code)
}

func TestListTransfers(t *testing.T) {
	f := newFixture(10)
	for _, id := range []string{"tx-1", "tx-2"} {
		require.NoError(t, f.store.Append(context.Background(), models.SettlementOutcome{
			TransactionID: id, RequestID: "req-" + id, Status: models.StatusApproved, Currency: "USD",
		}))
	}

	w := f.do(http.MethodGet, "/api/v1/transfers?limit=1", "", nil)
	bad := f.do(http.MethodGet, "/api/v1/transfers?limit=abc", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data struct {
			Count        int                        `json:"count"`
			Transactions []models.SettlementOutcome `json:"transactions"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Data.Count)
	require.Len(t, resp.Data.Transactions, 1)
	assert.Equal(t, "tx-2", resp.Data.Transactions[0].TransactionID)

	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestListCards(t *testing.T) {
	f := newFixture(10)

	w := f.do(http.MethodGet, "/api/v1/cards", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "4111111111111111", "full card numbers never leave the service")
	var resp struct {
		Data struct {
			Count int `json:"count"`
			Cards []struct {
				CardNumberMasked string `json:"cardNumberMasked"`
				ExpiryDate       string `json:"expiryDate"`
				IsActive         bool   `json:"isActive"`
			} `json:"cards"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Data.Count)
	require.Len(t, resp.Data.Cards, 2)
	assert.Equal(t, "****-****-****-0002", resp.Data.Cards[0].CardNumberMasked)
	assert.False(t, resp.Data.Cards[0].IsActive)
	assert.Equal(t, "12/27", resp.Data.Cards[1].ExpiryDate)
}

func TestHealth(t *testing.T) {
	f := newFixture(10)

	w := f.do(http.MethodGet, "/health", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
