package calls

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"callbridge/internal/config"
	"callbridge/internal/phone"
	"callbridge/internal/telephony"
	"callbridge/pkg/utils"
)

var (
	ErrNotFound        = errors.New("calls: not found")
	ErrInvalidArgument = errors.New("calls: invalid argument")

	// ErrCallerNotMapped is the click-to-call guard: the caller id is missing
	// or not an active mapping for the requesting employee.
	ErrCallerNotMapped = errors.New("calls: caller number has no active mapping for this employee")

	ErrNoRecording  = errors.New("calls: no recording available")
	ErrTooManyDials = errors.New("calls: concurrent dial limit reached")
)

const maxAnnotationLen = 2000

// Service owns call ingestion, click-to-call, recording retrieval and the
// read API over call records.
//
// Tenancy invariants:
// - A record is never persisted without a resolved company id; unplaceable
//   events are acknowledged and dropped.
// - Every read is company-scoped.
type Service struct {
	store    Store
	resolver *Resolver

	// dialVendor places outbound calls; nil when click-to-call is not
	// configured. vendors serves recording fetches per provider name, since
	// stored recordings may belong to either vendor regardless of which one
	// dials out today.
	dialVendor telephony.Vendor
	vendors    map[string]telephony.Vendor

	// rdb is optional: duplicate-delivery suppression and dial caps degrade
	// gracefully without it.
	rdb   *redis.Client
	dedup deliveryMarker

	cfg   config.TelephonyConfig
	log   *slog.Logger
	clock func() time.Time
}

// deliveryMarker suppresses byte-identical webhook redeliveries. Clear undoes
// a mark whose delivery failed to process, so the vendor's retry is not
// swallowed as a duplicate.
type deliveryMarker interface {
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Clear(ctx context.Context, key string) error
}

type redisMarker struct{ rdb *redis.Client }

func (m redisMarker) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return utils.MarkOnce(ctx, m.rdb, key, ttl)
}

func (m redisMarker) Clear(ctx context.Context, key string) error {
	return utils.ClearOnce(ctx, m.rdb, key)
}

type ServiceDeps struct {
	Store      Store
	Resolver   *Resolver
	DialVendor telephony.Vendor
	Vendors    map[string]telephony.Vendor
	Redis      *redis.Client
	Logger     *slog.Logger
}

func NewService(deps ServiceDeps, cfg config.TelephonyConfig) *Service {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		store:      deps.Store,
		resolver:   deps.Resolver,
		dialVendor: deps.DialVendor,
		vendors:    deps.Vendors,
		rdb:        deps.Redis,
		cfg:        cfg,
		log:        log,
		clock:      time.Now,
	}
	if deps.Redis != nil {
		s.dedup = redisMarker{deps.Redis}
	}
	return s
}

// IngestOutcome makes webhook handling exhaustive: every event is either
// stored, dropped (acknowledged but not persisted) or a suppressed duplicate.
type IngestOutcome struct {
	Kind   OutcomeKind `json:"kind"`
	Reason string      `json:"reason,omitempty"`
	Record *CallRecord `json:"record,omitempty"`
}

type OutcomeKind string

const (
	OutcomeStored    OutcomeKind = "stored"
	OutcomeDropped   OutcomeKind = "dropped"
	OutcomeDuplicate OutcomeKind = "duplicate"
)

// webhookOnceTTL covers typical vendor retry windows for byte-identical
// redeliveries. The upsert key remains the real idempotency guarantee.
const webhookOnceTTL = 5 * time.Minute

// Ingest processes one verified webhook delivery. ctxCompanyID carries the
// company when the delivery arrived on a tenant-scoped channel; it is empty
// for the shared public endpoints.
func (s *Service) Ingest(ctx context.Context, provider string, rawBody []byte, p telephony.Payload, ctxCompanyID string) (IngestOutcome, error) {
	var onceKey string
	if s.dedup != nil {
		onceKey = fmt.Sprintf("webhook:once:%s:%x", provider, sha1.Sum(rawBody))
		first, err := s.dedup.MarkOnce(ctx, onceKey, webhookOnceTTL)
		switch {
		case err != nil:
			// Redis being down must not drop webhooks.
			s.log.WarnContext(ctx, "webhook dedup unavailable", "error", err)
			onceKey = ""
		case !first:
			return IngestOutcome{Kind: OutcomeDuplicate, Reason: "duplicate delivery"}, nil
		}
	}

	out, err := s.ingest(ctx, provider, p, ctxCompanyID)
	if err != nil && onceKey != "" {
		// A failed delivery gets retried by the vendor with the identical
		// body; the marker must not turn that retry into a duplicate.
		if clearErr := s.dedup.Clear(context.WithoutCancel(ctx), onceKey); clearErr != nil {
			s.log.WarnContext(ctx, "webhook dedup release failed", "key", onceKey, "error", clearErr)
		}
	}
	return out, err
}

func (s *Service) ingest(ctx context.Context, provider string, p telephony.Payload, ctxCompanyID string) (IngestOutcome, error) {
	e := telephony.MapEvent(provider, p)
	if e.ProviderCallID == "" {
		return IngestOutcome{Kind: OutcomeDropped, Reason: "missing provider call id"}, nil
	}

	fromNorm := phone.Normalize(e.From)
	toNorm := phone.Normalize(e.To)

	var existing *CallRecord
	if rec, ok, err := s.store.GetByProviderCallID(ctx, provider, e.ProviderCallID); err != nil {
		return IngestOutcome{}, err
	} else if ok {
		existing = &rec
	}

	attr, err := s.resolver.Resolve(ctx, existing, ctxCompanyID, fromNorm, toNorm)
	if err != nil {
		return IngestOutcome{}, err
	}
	if attr.CompanyID == "" {
		s.log.InfoContext(ctx, "dropping unattributable call event",
			"provider", provider, "provider_call_id", e.ProviderCallID, "reason", attr.DropReason)
		return IngestOutcome{Kind: OutcomeDropped, Reason: attr.DropReason}, nil
	}

	rec := CallRecord{
		CompanyID:      attr.CompanyID,
		Status:         e.Status,
		Provider:       provider,
		ProviderCallID: e.ProviderCallID,
		FromNumber:     e.From,
		ToNumber:       e.To,
		FromNormalized: fromNorm,
		ToNormalized:   toNorm,
		DurationSecs:   e.DurationSecs,
		RecordingID:    e.RecordingID,
		RecordingURL:   e.RecordingURL,
		StartedAt:      e.StartedAt,
		EndedAt:        e.EndedAt,
	}
	if existing == nil {
		rec.Source = SourceMobile
		rec.MappingStatus = MappingStatusUnmapped
		rec.ContactPhone = contactPhone(fromNorm, toNorm)
	}
	if attr.Mapping != nil {
		rec.EmployeeID = attr.Mapping.EmployeeID
		rec.MappedNumber = attr.Mapping.PhoneNumber
		rec.MappingStatus = MappingStatusMapped
	}
	// The matched lead is the authority on who was called; the mapping's
	// contact fields only fill in when no lead is known.
	if attr.Lead != nil {
		rec.LeadID = attr.Lead.ID
		rec.ContactName = attr.Lead.Name
		if attr.Lead.Phone != "" {
			rec.ContactPhone = phone.Normalize(attr.Lead.Phone)
		}
	}
	if rec.ContactName == "" && attr.Mapping != nil {
		rec.ContactName = attr.Mapping.ContactName
	}

	merged, err := s.store.Upsert(ctx, rec)
	if err != nil {
		return IngestOutcome{}, err
	}

	if stamped, changed := s.stampEndTime(merged); changed {
		merged, err = s.store.Upsert(ctx, stamped)
		if err != nil {
			return IngestOutcome{}, err
		}
	}

	merged.RecordingAvailable = merged.RecordingURL != ""
	return IngestOutcome{Kind: OutcomeStored, Record: &merged}, nil
}

// contactPhone picks the customer-side number: the from-number when it
// differs from the to-number, otherwise whichever is present.
func contactPhone(fromNorm, toNorm string) string {
	if fromNorm != "" && fromNorm != toNorm {
		return fromNorm
	}
	return toNorm
}

// stampEndTime fills a missing end time after merge: start + duration when
// both are known, else processing time for completed calls. Returns a minimal
// record carrying only the stamp; the merge rule keeps everything else.
func (s *Service) stampEndTime(rec CallRecord) (CallRecord, bool) {
	if rec.EndedAt != nil {
		return CallRecord{}, false
	}
	var end time.Time
	switch {
	case rec.StartedAt != nil && rec.DurationSecs > 0:
		end = rec.StartedAt.Add(time.Duration(rec.DurationSecs) * time.Second)
	case rec.Status == telephony.StatusCompleted:
		end = s.clock().UTC()
	default:
		return CallRecord{}, false
	}
	return CallRecord{
		CompanyID:      rec.CompanyID,
		Provider:       rec.Provider,
		ProviderCallID: rec.ProviderCallID,
		EndedAt:        &end,
	}, true
}

type ClickToCallRequest struct {
	ToNumber   string `json:"to_number"`
	LeadID     string `json:"lead_id,omitempty"`
	EmployeeID string `json:"employee_id,omitempty"`
	FromNumber string `json:"from_number,omitempty"`
}

// dialCapTTL bounds how long a crashed process can hold dial slots.
const dialCapTTL = 2 * time.Minute

// ClickToCall validates that the caller id is an active mapping for the
// dialing employee, places the call through the configured vendor, and seeds
// the call record. The record is created only after the vendor accepts the
// dial; the webhook path updates it in place later under the same
// (provider, provider_call_id) key.
func (s *Service) ClickToCall(ctx context.Context, companyID, userID string, req ClickToCallRequest) (CallRecord, error) {
	if companyID == "" || userID == "" {
		return CallRecord{}, ErrInvalidArgument
	}
	if strings.TrimSpace(req.ToNumber) == "" {
		return CallRecord{}, fmt.Errorf("%w: to_number is required", ErrInvalidArgument)
	}

	employeeID := req.EmployeeID
	if employeeID == "" {
		employeeID = userID
	}
	from := strings.TrimSpace(req.FromNumber)
	if from == "" {
		from = s.cfg.DefaultFromNumber
	}
	if from == "" {
		return CallRecord{}, ErrCallerNotMapped
	}

	mapping, ok, err := s.store.GetActiveMappingForEmployee(ctx, companyID, employeeID, phone.Normalize(from))
	if err != nil {
		return CallRecord{}, err
	}
	if !ok {
		return CallRecord{}, ErrCallerNotMapped
	}

	if s.dialVendor == nil {
		return CallRecord{}, telephony.ErrVendorNotConfigured
	}

	if s.rdb != nil {
		capKey := "dialcap:" + companyID
		acquired, err := utils.AcquireConcurrencyCap(ctx, s.rdb, capKey, s.cfg.MaxConcurrentDials, dialCapTTL)
		if err != nil {
			s.log.WarnContext(ctx, "dial cap unavailable", "error", err)
		} else if !acquired {
			return CallRecord{}, ErrTooManyDials
		} else {
			defer func() {
				if err := utils.ReleaseConcurrencyCap(context.WithoutCancel(ctx), s.rdb, capKey); err != nil {
					s.log.WarnContext(ctx, "dial cap release failed", "error", err)
				}
			}()
		}
	}

	res, err := s.dialVendor.Dial(ctx, telephony.DialRequest{
		From: phone.E164(from, ""),
		To:   phone.E164(req.ToNumber, ""),
	})
	if err != nil {
		return CallRecord{}, err
	}

	now := s.clock().UTC()
	rec := CallRecord{
		CompanyID:      companyID,
		EmployeeID:     employeeID,
		LeadID:         req.LeadID,
		Source:         SourceCRM,
		Status:         res.Status,
		Provider:       s.dialVendor.Name(),
		ProviderCallID: res.ProviderCallID,
		FromNumber:     from,
		ToNumber:       req.ToNumber,
		FromNormalized: phone.Normalize(from),
		ToNormalized:   phone.Normalize(req.ToNumber),
		MappedNumber:   mapping.PhoneNumber,
		MappingStatus:  MappingStatusMapped,
		ContactName:    mapping.ContactName,
		ContactPhone:   phone.Normalize(req.ToNumber),
		StartedAt:      &now,
	}
	return s.store.Upsert(ctx, rec)
}

// RecordingStream is an open audio stream plus its metadata.
type RecordingStream struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// localRecordingPrefix marks recording URLs that live under the configured
// storage dir rather than at a vendor.
const localRecordingPrefix = "storage/"

// OpenRecording resolves a call's recording to an open stream. Vendor
// 401/403/404 responses surface as telephony.ErrRecordingGone so the API can
// distinguish expired links from fetch failures.
func (s *Service) OpenRecording(ctx context.Context, companyID, callID string) (RecordingStream, error) {
	rec, ok, err := s.store.GetByID(ctx, companyID, callID)
	if err != nil {
		return RecordingStream{}, err
	}
	if !ok {
		return RecordingStream{}, ErrNotFound
	}
	if rec.RecordingURL == "" {
		return RecordingStream{}, ErrNoRecording
	}

	if strings.HasPrefix(rec.RecordingURL, localRecordingPrefix) {
		return s.openLocalRecording(rec.RecordingURL)
	}

	vendor := s.vendors[rec.Provider]
	if vendor == nil {
		return RecordingStream{}, fmt.Errorf("calls: no vendor credentials for provider %q", rec.Provider)
	}
	fetched, err := vendor.FetchRecording(ctx, rec.RecordingURL)
	if err != nil {
		return RecordingStream{}, err
	}
	ct := fetched.ContentType
	if ct == "" {
		ct = "audio/mpeg"
	}
	return RecordingStream{Body: fetched.Body, ContentType: ct, Size: fetched.Size}, nil
}

func (s *Service) openLocalRecording(recordingURL string) (RecordingStream, error) {
	rel := filepath.FromSlash(strings.TrimPrefix(recordingURL, localRecordingPrefix))
	path := filepath.Join(s.cfg.RecordingStorageDir, rel)

	// Stored URLs are trusted data, but keep traversal out regardless.
	if !strings.HasPrefix(path, filepath.Clean(s.cfg.RecordingStorageDir)+string(filepath.Separator)) {
		return RecordingStream{}, ErrNoRecording
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RecordingStream{}, ErrNoRecording
		}
		return RecordingStream{}, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return RecordingStream{}, err
	}

	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = "audio/mpeg"
	}
	return RecordingStream{Body: f, ContentType: ct, Size: info.Size()}, nil
}

func (s *Service) Get(ctx context.Context, companyID, id string) (CallRecord, error) {
	rec, ok, err := s.store.GetByID(ctx, companyID, id)
	if err != nil {
		return CallRecord{}, err
	}
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	rec.RecordingAvailable = rec.RecordingURL != ""
	return rec, nil
}

func (s *Service) List(ctx context.Context, companyID string, f ListFilter) (CallPage, error) {
	page, err := s.store.List(ctx, companyID, f)
	if err != nil {
		return CallPage{}, err
	}
	for i := range page.Records {
		page.Records[i].RecordingAvailable = page.Records[i].RecordingURL != ""
	}
	return page, nil
}

// LeadHistory summarizes all calls attributed to one lead.
type LeadHistory struct {
	Calls                []CallRecord `json:"calls"`
	TotalCalls           int          `json:"total_calls"`
	TotalTalkTimeSeconds int          `json:"total_talk_time_seconds"`
}

func (s *Service) LeadHistory(ctx context.Context, companyID, leadID string) (LeadHistory, error) {
	if leadID == "" {
		return LeadHistory{}, ErrInvalidArgument
	}
	recs, err := s.store.ListByLead(ctx, companyID, leadID)
	if err != nil {
		return LeadHistory{}, err
	}
	out := LeadHistory{Calls: recs, TotalCalls: len(recs)}
	for i := range out.Calls {
		out.Calls[i].RecordingAvailable = out.Calls[i].RecordingURL != ""
		out.TotalTalkTimeSeconds += out.Calls[i].DurationSecs
	}
	return out, nil
}

func (s *Service) AddNote(ctx context.Context, companyID, callID, userID, body string) (CallAnnotation, error) {
	body = strings.TrimSpace(body)
	if body == "" || len(body) > maxAnnotationLen {
		return CallAnnotation{}, fmt.Errorf("%w: note must be 1-%d characters", ErrInvalidArgument, maxAnnotationLen)
	}
	if _, ok, err := s.store.GetByID(ctx, companyID, callID); err != nil {
		return CallAnnotation{}, err
	} else if !ok {
		return CallAnnotation{}, ErrNotFound
	}
	return s.store.AddAnnotation(ctx, CallAnnotation{
		CompanyID: companyID,
		CallID:    callID,
		UserID:    userID,
		Body:      body,
	})
}

func (s *Service) UpdateNote(ctx context.Context, companyID, callID, noteID, userID, body string) (CallAnnotation, error) {
	body = strings.TrimSpace(body)
	if body == "" || len(body) > maxAnnotationLen {
		return CallAnnotation{}, fmt.Errorf("%w: note must be 1-%d characters", ErrInvalidArgument, maxAnnotationLen)
	}
	out, ok, err := s.store.UpdateAnnotation(ctx, CallAnnotation{
		ID:        noteID,
		CompanyID: companyID,
		CallID:    callID,
		UserID:    userID,
		Body:      body,
	})
	if err != nil {
		return CallAnnotation{}, err
	}
	if !ok {
		return CallAnnotation{}, ErrNotFound
	}
	return out, nil
}

func (s *Service) Notes(ctx context.Context, companyID, callID string) ([]CallAnnotation, error) {
	if _, ok, err := s.store.GetByID(ctx, companyID, callID); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrNotFound
	}
	return s.store.ListAnnotations(ctx, companyID, callID)
}

func (s *Service) ListMappings(ctx context.Context, companyID string) ([]PhoneMapping, error) {
	return s.store.ListMappings(ctx, companyID)
}

func (s *Service) CreateMapping(ctx context.Context, m PhoneMapping) (PhoneMapping, error) {
	if m.CompanyID == "" || m.EmployeeID == "" {
		return PhoneMapping{}, ErrInvalidArgument
	}
	m.PhoneNormalized = phone.Normalize(m.PhoneNumber)
	if m.PhoneNormalized == "" {
		return PhoneMapping{}, fmt.Errorf("%w: phone_number is required", ErrInvalidArgument)
	}
	return s.store.CreateMapping(ctx, m)
}

func (s *Service) UpdateMapping(ctx context.Context, m PhoneMapping) (PhoneMapping, error) {
	if m.ID == "" || m.CompanyID == "" || m.EmployeeID == "" {
		return PhoneMapping{}, ErrInvalidArgument
	}
	m.PhoneNormalized = phone.Normalize(m.PhoneNumber)
	if m.PhoneNormalized == "" {
		return PhoneMapping{}, fmt.Errorf("%w: phone_number is required", ErrInvalidArgument)
	}
	return s.store.UpdateMapping(ctx, m)
}

func (s *Service) DeleteMapping(ctx context.Context, companyID, id string) error {
	ok, err := s.store.DeleteMapping(ctx, companyID, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
