package telephony

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"callbridge/internal/config"
)

func TestTwilioDial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if r.URL.Path != "/Accounts/AC1/Calls.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if user, pass, _ := r.BasicAuth(); user != "AC1" || pass != "tok" {
			t.Errorf("basic auth = %s:%s", user, pass)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("From") != "+911112223334" || r.PostForm.Get("To") != "+919876543210" {
			t.Errorf("form = %v", r.PostForm)
		}
		if r.PostForm.Get("Record") != "true" {
			t.Errorf("expected Record=true, form = %v", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"CA99","status":"queued"}`))
	}))
	defer srv.Close()

	v := NewTwilioVendor(config.TwilioConfig{
		AccountSID:       "AC1",
		AuthToken:        "tok",
		TwiMLURL:         "https://crm.example/twiml",
		RecordingEnabled: true,
	})
	v.SetBaseURL(srv.URL)

	res, err := v.Dial(context.Background(), DialRequest{From: "+911112223334", To: "+919876543210"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if res.ProviderCallID != "CA99" {
		t.Fatalf("call id = %q", res.ProviderCallID)
	}
	if res.Status != StatusQueued {
		t.Fatalf("status = %q", res.Status)
	}
}

func TestTwilioDialRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"invalid To number"}`))
	}))
	defer srv.Close()

	v := NewTwilioVendor(config.TwilioConfig{AccountSID: "AC1", AuthToken: "tok"})
	v.SetBaseURL(srv.URL)

	_, err := v.Dial(context.Background(), DialRequest{From: "a", To: "b"})
	if !errors.Is(err, ErrDialRejected) {
		t.Fatalf("expected ErrDialRejected, got %v", err)
	}
}

func TestExotelDial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Accounts/EX1/Calls/connect.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("CallerId") != r.PostForm.Get("From") {
			t.Errorf("CallerId must mirror From, form = %v", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Call":{"Sid":"ex-42"}}`))
	}))
	defer srv.Close()

	v := NewExotelVendor(config.ExotelConfig{AccountSID: "EX1", Token: "tok", Subdomain: "api.exotel.com"})
	v.SetBaseURL(srv.URL)

	res, err := v.Dial(context.Background(), DialRequest{From: "04412345678", To: "9876543210"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if res.ProviderCallID != "ex-42" {
		t.Fatalf("call id = %q", res.ProviderCallID)
	}
	if res.Status != StatusInitiated {
		t.Fatalf("missing vendor status must default to initiated, got %q", res.Status)
	}
}

func TestFetchRecording(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rec/ok.mp3":
			w.Header().Set("Content-Type", "audio/mpeg")
			w.Write([]byte("mp3-bytes"))
		case "/rec/gone.mp3":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	v := NewTwilioVendor(config.TwilioConfig{AccountSID: "AC1", AuthToken: "tok"})

	rec, err := v.FetchRecording(context.Background(), srv.URL+"/rec/ok.mp3")
	if err != nil {
		t.Fatalf("FetchRecording: %v", err)
	}
	defer rec.Body.Close()
	if rec.ContentType != "audio/mpeg" {
		t.Fatalf("content type = %q", rec.ContentType)
	}
	data, err := io.ReadAll(rec.Body)
	if err != nil || string(data) != "mp3-bytes" {
		t.Fatalf("body = %q err = %v", data, err)
	}

	if _, err := v.FetchRecording(context.Background(), srv.URL+"/rec/gone.mp3"); !errors.Is(err, ErrRecordingGone) {
		t.Fatalf("expected ErrRecordingGone, got %v", err)
	}

	if _, err := v.FetchRecording(context.Background(), srv.URL+"/rec/boom.mp3"); err == nil || errors.Is(err, ErrRecordingGone) {
		t.Fatalf("5xx must surface as an error, got %v", err)
	}
}
