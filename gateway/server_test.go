package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"tenderd/core/types"
	"tenderd/gateway/middleware"
	"tenderd/services/mirror"
)

const (
	testAddress = "tnd1testauction"
	testSecret  = "gateway-test-secret"
)

type payloadWrapper struct {
	evt *types.Event
}

func (w payloadWrapper) EventType() string   { return w.evt.Type }
func (w payloadWrapper) Event() *types.Event { return w.evt }

func newGatewayFixture(t *testing.T) *Server {
	t.Helper()

	db, err := mirror.Open(":memory:")
	if err != nil {
		t.Fatalf("open mirror: %v", err)
	}
	recorder := mirror.NewRecorder(db, testAddress, nil)
	recorder.Emit(payloadWrapper{evt: &types.Event{
		Type: "auction.contract_deployed",
		Attributes: map[string]string{
			"totalBudget":         "10000",
			"minimumBid":          "500",
			"safetyDepositAmount": "100",
			"unlockTime":          "1700000060",
			"gracePeriod":         "30",
		},
	}})
	recorder.Emit(payloadWrapper{evt: &types.Event{
		Type:       "auction.offer_committed",
		Attributes: map[string]string{"user": "tnd1bidder", "safetyDeposit": "100"},
	}})

	srv := NewServer(Config{
		Address: ":0",
		Auth: middleware.AuthConfig{
			Enabled:    true,
			HMACSecret: testSecret,
			Issuer:     "tenderd",
		},
		RateLimit: middleware.RateLimitConfig{Enabled: false},
	}, mirror.NewStore(db), nil, nil)
	srv.SetNowFunc(func() time.Time { return time.Unix(1_700_000_000, 0) })
	return srv
}

func signToken(t *testing.T, scope string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":   "tenderd",
		"scope": scope,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestListContracts(t *testing.T) {
	srv := newGatewayFixture(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/contracts", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var body struct {
		Contracts []contractSummary `json:"contracts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Contracts) != 1 || body.Contracts[0].Address != testAddress {
		t.Fatalf("contracts = %+v", body.Contracts)
	}
	if body.Contracts[0].CommittedCount != 1 {
		t.Fatalf("committed count = %d, want 1", body.Contracts[0].CommittedCount)
	}
}

func TestGetContractAddsCountdowns(t *testing.T) {
	srv := newGatewayFixture(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/contracts/"+testAddress, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var detail contractDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if detail.Phase != "bidding" {
		t.Fatalf("phase = %s, want bidding", detail.Phase)
	}
	if detail.CurrentTime != 1_700_000_000 {
		t.Fatalf("current time = %d", detail.CurrentTime)
	}
	if detail.UnlockRemaining != 60 {
		t.Fatalf("unlock remaining = %d, want 60", detail.UnlockRemaining)
	}
	if detail.GraceRemaining != 90 {
		t.Fatalf("grace remaining = %d, want 90", detail.GraceRemaining)
	}
}

func TestGetContractNotFound(t *testing.T) {
	srv := newGatewayFixture(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/contracts/tnd1missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListEvents(t *testing.T) {
	srv := newGatewayFixture(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/contracts/"+testAddress+"/events", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var body struct {
		Events []eventView `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Events) != 2 {
		t.Fatalf("event count = %d, want 2", len(body.Events))
	}
}

func TestSetMetadataRequiresJWT(t *testing.T) {
	srv := newGatewayFixture(t)
	payload := []byte(`{"name":"Road resurfacing","description":"km 12-18","displayBudget":"10,000 EUR"}`)

	req := httptest.NewRequest(http.MethodPut, "/contracts/"+testAddress+"/metadata", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/contracts/"+testAddress+"/metadata", bytes.NewReader(payload))
	req.Header.Set("Authorization", "Bearer "+signToken(t, "portal.read"))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("wrong scope status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/contracts/"+testAddress+"/metadata", bytes.NewReader(payload))
	req.Header.Set("Authorization", "Bearer "+signToken(t, "portal.write"))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authorized status = %d body=%s", rec.Code, rec.Body.String())
	}
	var summary contractSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.Name != "Road resurfacing" {
		t.Fatalf("metadata not applied: %+v", summary)
	}
}

func TestHealthz(t *testing.T) {
	srv := newGatewayFixture(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAnalyzeWithoutQualifierConfigured(t *testing.T) {
	srv := newGatewayFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/contracts/"+testAddress+"/analyze",
		bytes.NewReader([]byte(`{"requirements":"specs","submissions":[{"offeror":"tnd1bidder"}]}`)))
	req.Header.Set("Authorization", "Bearer "+signToken(t, "portal.write"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
