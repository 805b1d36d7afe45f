package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"callbridge/internal/auth"
	"callbridge/internal/calls"
	"callbridge/internal/config"
	"callbridge/internal/telephony"
	"callbridge/pkg/logger"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth      *auth.Manager
	Calls     *calls.Service
	Telephony config.TelephonyConfig
}

// --- Auth ---

type loginRequest struct {
	UserID    string `json:"user_id"`
	CompanyID string `json:"company_id"`
	Role      string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.CompanyID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, company_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.CompanyID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Webhooks ---

// TwilioWebhook ingests Twilio call lifecycle events. Signature verification
// happens before the payload is trusted; everything after a valid signature
// is acknowledged with 200 so the vendor does not retry events we chose to
// drop.
func (h Handlers) TwilioWebhook(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "message": "read failed"})
		return
	}

	payload, err := telephony.ParsePayload(c.Request, raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid payload"})
		return
	}

	if !h.Telephony.SkipSignature {
		sig := c.GetHeader(telephony.HeaderTwilioSignature)
		if err := telephony.VerifyTwilioSignature(fullRequestURL(c), payload.Params(), sig, h.Telephony.Twilio.AuthToken); err != nil {
			logger.FromGin(c).Warn("twilio signature rejected", "error", err)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "message": "invalid signature"})
			return
		}
	}

	h.ingest(c, telephony.ProviderTwilio, raw, payload)
}

// ExotelWebhook ingests Exotel call lifecycle events. The signature covers
// the raw body bytes, so the body is verified exactly as received.
func (h Handlers) ExotelWebhook(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "message": "read failed"})
		return
	}

	if !h.Telephony.SkipSignature {
		sig := c.GetHeader(telephony.HeaderExotelSignature)
		if err := telephony.VerifyExotelSignature(raw, sig, h.Telephony.Exotel.WebhookSecret); err != nil {
			logger.FromGin(c).Warn("exotel signature rejected", "error", err)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "message": "invalid signature"})
			return
		}
	}

	payload, err := telephony.ParsePayload(c.Request, raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid payload"})
		return
	}

	h.ingest(c, telephony.ProviderExotel, raw, payload)
}

func (h Handlers) ingest(c *gin.Context, provider string, raw []byte, payload telephony.Payload) {
	out, err := h.Calls.Ingest(c.Request.Context(), provider, raw, payload, "")
	if err != nil {
		logger.FromGin(c).Error("webhook processing failed",
			"provider", provider, "error", err, "payload", string(raw))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "message": "processing failed"})
		return
	}

	switch out.Kind {
	case calls.OutcomeStored:
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "call event processed"})
	case calls.OutcomeDuplicate:
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "duplicate delivery ignored"})
	default:
		// Dropped events are still acknowledged; retrying cannot help.
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "call event acknowledged"})
	}
}

// fullRequestURL reconstructs the URL the vendor signed. Behind a proxy the
// forwarded proto wins, since the vendor signed the public https URL.
func fullRequestURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.RequestURI()
}

// --- Click to call ---

func (h Handlers) ClickToCall(c *gin.Context) {
	companyID, userID, ok := identity(c)
	if !ok {
		return
	}

	var req calls.ClickToCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	rec, err := h.Calls.ClickToCall(c.Request.Context(), companyID, userID, req)
	if err != nil {
		switch {
		case errors.Is(err, calls.ErrInvalidArgument):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, calls.ErrCallerNotMapped):
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "from_number is not an active mapping for this employee"})
		case errors.Is(err, calls.ErrTooManyDials):
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many concurrent dials"})
		default:
			logger.FromGin(c).Error("click to call failed", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// --- Recording ---

func (h Handlers) Recording(c *gin.Context) {
	companyID, _, ok := identity(c)
	if !ok {
		return
	}

	stream, err := h.Calls.OpenRecording(c.Request.Context(), companyID, c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, calls.ErrNotFound), errors.Is(err, calls.ErrNoRecording):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no recording available"})
		case errors.Is(err, telephony.ErrRecordingGone):
			c.AbortWithStatusJSON(http.StatusGone, gin.H{"error": "recording link expired or unavailable"})
		default:
			logger.FromGin(c).Error("recording fetch failed", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "recording fetch failed"})
		}
		return
	}
	defer stream.Body.Close()

	if stream.Size >= 0 {
		c.DataFromReader(http.StatusOK, stream.Size, stream.ContentType, stream.Body, nil)
		return
	}
	c.Header("Content-Type", stream.ContentType)
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, stream.Body)
}

// --- Reads ---

func (h Handlers) ListCalls(c *gin.Context) {
	companyID, _, ok := identity(c)
	if !ok {
		return
	}

	f := calls.ListFilter{
		EmployeeID:    c.Query("employee_id"),
		LeadID:        c.Query("lead_id"),
		Status:        c.Query("status"),
		MappingStatus: c.Query("mapping_status"),
		Source:        c.Query("source"),
		PhoneSuffix:   c.Query("phone_number"),
		DurationMin:   intQuery(c, "duration_min"),
		DurationMax:   intQuery(c, "duration_max"),
		DateFrom:      timeQuery(c, "date_from"),
		DateTo:        timeQuery(c, "date_to"),
		Page:          intQuery(c, "page"),
		PerPage:       intQuery(c, "per_page"),
	}

	page, err := h.Calls.List(c.Request.Context(), companyID, f)
	if err != nil {
		logger.FromGin(c).Error("call list failed", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h Handlers) GetCall(c *gin.Context) {
	companyID, _, ok := identity(c)
	if !ok {
		return
	}

	rec, err := h.Calls.Get(c.Request.Context(), companyID, c.Param("id"))
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		logger.FromGin(c).Error("call lookup failed", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h Handlers) LeadHistory(c *gin.Context) {
	companyID, _, ok := identity(c)
	if !ok {
		return
	}

	hist, err := h.Calls.LeadHistory(c.Request.Context(), companyID, c.Param("lead_id"))
	if err != nil {
		if errors.Is(err, calls.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "lead_id required"})
			return
		}
		logger.FromGin(c).Error("lead history failed", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history failed"})
		return
	}
	c.JSON(http.StatusOK, hist)
}

// --- Notes ---

type noteRequest struct {
	Body string `json:"body"`
}

func (h Handlers) AddNote(c *gin.Context) {
	companyID, userID, ok := identity(c)
	if !ok {
		return
	}
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	note, err := h.Calls.AddNote(c.Request.Context(), companyID, c.Param("id"), userID, req.Body)
	if err != nil {
		noteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, note)
}

func (h Handlers) UpdateNote(c *gin.Context) {
	companyID, userID, ok := identity(c)
	if !ok {
		return
	}
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	note, err := h.Calls.UpdateNote(c.Request.Context(), companyID, c.Param("id"), c.Param("note_id"), userID, req.Body)
	if err != nil {
		noteError(c, err)
		return
	}
	c.JSON(http.StatusOK, note)
}

func (h Handlers) ListNotes(c *gin.Context) {
	companyID, _, ok := identity(c)
	if !ok {
		return
	}
	notes, err := h.Calls.Notes(c.Request.Context(), companyID, c.Param("id"))
	if err != nil {
		noteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes": notes})
}

func noteError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, calls.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		logger.FromGin(c).Error("note operation failed", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "note operation failed"})
	}
}

// --- Phone mappings (admin) ---

type mappingRequest struct {
	EmployeeID  string `json:"employee_id"`
	PhoneNumber string `json:"phone_number"`
	Label       string `json:"label,omitempty"`
	ContactName string `json:"contact_name,omitempty"`
	Active      *bool  `json:"active,omitempty"`
}

func (h Handlers) ListMappings(c *gin.Context) {
	companyID, _, ok := identity(c)
	if !ok {
		return
	}
	out, err := h.Calls.ListMappings(c.Request.Context(), companyID)
	if err != nil {
		logger.FromGin(c).Error("mapping list failed", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mappings": out})
}

func (h Handlers) CreateMapping(c *gin.Context) {
	companyID, _, ok := identity(c)
	if !ok {
		return
	}
	var req mappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	m, err := h.Calls.CreateMapping(c.Request.Context(), calls.PhoneMapping{
		CompanyID:   companyID,
		EmployeeID:  req.EmployeeID,
		PhoneNumber: req.PhoneNumber,
		Label:       req.Label,
		ContactName: req.ContactName,
		Active:      active,
	})
	if err != nil {
		mappingError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h Handlers) UpdateMapping(c *gin.Context) {
	companyID, _, ok := identity(c)
	if !ok {
		return
	}
	var req mappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	m, err := h.Calls.UpdateMapping(c.Request.Context(), calls.PhoneMapping{
		ID:          c.Param("id"),
		CompanyID:   companyID,
		EmployeeID:  req.EmployeeID,
		PhoneNumber: req.PhoneNumber,
		Label:       req.Label,
		ContactName: req.ContactName,
		Active:      active,
	})
	if err != nil {
		mappingError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h Handlers) DeleteMapping(c *gin.Context) {
	companyID, _, ok := identity(c)
	if !ok {
		return
	}
	if err := h.Calls.DeleteMapping(c.Request.Context(), companyID, c.Param("id")); err != nil {
		mappingError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func mappingError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, calls.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "mapping not found"})
	default:
		logger.FromGin(c).Error("mapping operation failed", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "mapping operation failed"})
	}
}

// --- helpers ---

func identity(c *gin.Context) (companyID, userID string, ok bool) {
	companyID, err := auth.CompanyID(c.Request.Context())
	if err != nil || companyID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "company_id required"})
		return "", "", false
	}
	userID, _ = auth.UserID(c.Request.Context())
	return companyID, userID, true
}

func intQuery(c *gin.Context, key string) int {
	v := c.Query(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func timeQuery(c *gin.Context, key string) *time.Time {
	v := c.Query(key)
	if v == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t
		}
	}
	return nil
}
