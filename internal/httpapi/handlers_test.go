package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"callbridge/internal/auth"
	"callbridge/internal/calls"
	"callbridge/internal/config"
	"callbridge/internal/leads"
	"callbridge/internal/phone"
	"callbridge/internal/rbac"
	"callbridge/internal/telephony"
)

const (
	testTwilioToken  = "twilio-token"
	testExotelSecret = "exotel-secret"
)

type testEnv struct {
	router *gin.Engine
	store  *calls.MemoryStore
	auth   *auth.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := calls.NewMemoryStore()
	svc := calls.NewService(calls.ServiceDeps{
		Store:    store,
		Resolver: calls.NewResolver(store, leads.NewMemoryRepo(), nil),
	}, config.TelephonyConfig{MaxConcurrentDials: 5})

	mgr, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "test-secret",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}

	h := Handlers{
		Auth:  mgr,
		Calls: svc,
		Telephony: config.TelephonyConfig{
			Twilio: config.TwilioConfig{AccountSID: "AC1", AuthToken: testTwilioToken},
			Exotel: config.ExotelConfig{WebhookSecret: testExotelSecret},
		},
	}

	r := gin.New()
	r.POST("/calls/webhooks/twilio", h.TwilioWebhook)
	r.POST("/calls/webhooks/exotel", h.ExotelWebhook)

	api := r.Group("/calls")
	api.Use(auth.RequireAccessToken(mgr))
	api.Use(rbac.RequireCompany())
	{
		api.POST("/click-to-call", h.ClickToCall)
		api.GET("", h.ListCalls)
		api.GET("/:id", h.GetCall)
		api.GET("/:id/recording", h.Recording)
		api.POST("/:id/notes", h.AddNote)
	}

	mappings := r.Group("/calls/mappings")
	mappings.Use(auth.RequireAccessToken(mgr))
	mappings.Use(rbac.RequireCompany())
	mappings.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAdmin))
	{
		mappings.POST("", h.CreateMapping)
	}

	return &testEnv{router: r, store: store, auth: mgr}
}

func (e *testEnv) token(t *testing.T, userID, companyID, role string) string {
	t.Helper()
	pair, err := e.auth.IssuePair(time.Now(), userID, companyID, role)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	return pair.AccessToken
}

func (e *testEnv) seedMapping(t *testing.T, companyID, employeeID, number string) {
	t.Helper()
	_, err := e.store.CreateMapping(context.Background(), calls.PhoneMapping{
		CompanyID:       companyID,
		EmployeeID:      employeeID,
		PhoneNumber:     number,
		PhoneNormalized: phone.Normalize(number),
		Active:          true,
	})
	if err != nil {
		t.Fatalf("CreateMapping: %v", err)
	}
}

func signTwilio(fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := fullURL
	for _, k := range keys {
		s += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(testTwilioToken))
	mac.Write([]byte(s))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestTwilioWebhookSignature(t *testing.T) {
	env := newTestEnv(t)
	env.seedMapping(t, "co-1", "emp-1", "1112223334")

	form := url.Values{}
	form.Set("CallSid", "CA1")
	form.Set("From", "+919876543210")
	form.Set("To", "1112223334")
	form.Set("CallStatus", "completed")

	path := "/calls/webhooks/twilio"
	body := form.Encode()

	// Valid signature is accepted and the event stored.
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Host = "crm.example"
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(telephony.HeaderTwilioSignature, signTwilio("http://crm.example"+path, form))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("valid signature: status = %d body = %s", w.Code, w.Body)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp["success"] != true {
		t.Fatalf("envelope = %s", w.Body)
	}

	// Tampered body fails with 403 and stores nothing new.
	tampered := url.Values{}
	for k := range form {
		tampered.Set(k, form.Get(k))
	}
	tampered.Set("CallSid", "CA-EVIL")
	req = httptest.NewRequest("POST", path, strings.NewReader(tampered.Encode()))
	req.Host = "crm.example"
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(telephony.HeaderTwilioSignature, signTwilio("http://crm.example"+path, form))
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("tampered body: status = %d", w.Code)
	}
	if _, ok, _ := env.store.GetByProviderCallID(context.Background(), telephony.ProviderTwilio, "CA-EVIL"); ok {
		t.Fatalf("rejected webhook must not create records")
	}

	// Missing header fails closed.
	req = httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("missing header: status = %d", w.Code)
	}
}

func TestExotelWebhookSignatureHexAndDrop(t *testing.T) {
	env := newTestEnv(t)

	// No mapping or lead matches, so the event is acknowledged but dropped.
	body := `{"Call":{"Sid":"ex-1","From":"5550001111","To":"5550002222","Status":"completed"}}`
	mac := hmac.New(sha1.New, []byte(testExotelSecret))
	mac.Write([]byte(body))
	sig := hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest("POST", "/calls/webhooks/exotel", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(telephony.HeaderExotelSignature, sig)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
	if _, ok, _ := env.store.GetByProviderCallID(context.Background(), telephony.ProviderExotel, "ex-1"); ok {
		t.Fatalf("unattributable event must not be stored")
	}

	// Wrong signature is rejected.
	req = httptest.NewRequest("POST", "/calls/webhooks/exotel", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(telephony.HeaderExotelSignature, "deadbeef")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("bad signature: status = %d", w.Code)
	}
}

func TestClickToCallUnmappedCaller(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "emp-1", "co-1", rbac.RoleAgent)

	req := httptest.NewRequest("POST", "/calls/click-to-call",
		strings.NewReader(`{"to_number":"9876543210","from_number":"1112223334"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
}

func TestClickToCallRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("POST", "/calls/click-to-call", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestGetCallTenantScoped(t *testing.T) {
	env := newTestEnv(t)

	rec, err := env.store.Upsert(context.Background(), calls.CallRecord{
		CompanyID:      "co-1",
		Provider:       telephony.ProviderTwilio,
		ProviderCallID: "CA5",
		Source:         calls.SourceMobile,
		Status:         telephony.StatusCompleted,
		MappingStatus:  calls.MappingStatusUnmapped,
		RecordingURL:   "https://api.twilio.com/rec/RE5.mp3",
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	tok := env.token(t, "emp-1", "co-1", rbac.RoleAgent)
	req := httptest.NewRequest("GET", "/calls/"+rec.ID, nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["recording_available"] != true {
		t.Fatalf("recording_available missing: %s", w.Body)
	}
	if _, leaked := got["RecordingURL"]; leaked {
		t.Fatalf("recording url must never serialize")
	}

	// Another company cannot see the record.
	otherTok := env.token(t, "emp-9", "co-2", rbac.RoleAgent)
	req = httptest.NewRequest("GET", "/calls/"+rec.ID, nil)
	req.Header.Set("Authorization", "Bearer "+otherTok)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("cross-company read: status = %d", w.Code)
	}
}

func TestRecordingNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec, err := env.store.Upsert(context.Background(), calls.CallRecord{
		CompanyID:      "co-1",
		Provider:       telephony.ProviderTwilio,
		ProviderCallID: "CA6",
		Source:         calls.SourceMobile,
		Status:         telephony.StatusCompleted,
		MappingStatus:  calls.MappingStatusUnmapped,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	tok := env.token(t, "emp-1", "co-1", rbac.RoleAgent)
	req := httptest.NewRequest("GET", "/calls/"+rec.ID+"/recording", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestMappingCRUDRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)

	body := `{"employee_id":"emp-1","phone_number":"1112223334"}`

	agentTok := env.token(t, "emp-1", "co-1", rbac.RoleAgent)
	req := httptest.NewRequest("POST", "/calls/mappings", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+agentTok)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("agent create: status = %d", w.Code)
	}

	adminTok := env.token(t, "emp-2", "co-1", rbac.RoleAdmin)
	req = httptest.NewRequest("POST", "/calls/mappings", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+adminTok)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("admin create: status = %d body = %s", w.Code, w.Body)
	}
}

func TestAddNote(t *testing.T) {
	env := newTestEnv(t)

	rec, err := env.store.Upsert(context.Background(), calls.CallRecord{
		CompanyID:      "co-1",
		Provider:       telephony.ProviderTwilio,
		ProviderCallID: "CA7",
		Source:         calls.SourceMobile,
		Status:         telephony.StatusCompleted,
		MappingStatus:  calls.MappingStatusUnmapped,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	tok := env.token(t, "emp-1", "co-1", rbac.RoleAgent)
	req := httptest.NewRequest("POST", "/calls/"+rec.ID+"/notes",
		strings.NewReader(`{"body":"asked for a callback"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
}
