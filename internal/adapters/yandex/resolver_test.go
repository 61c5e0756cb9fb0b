package yandex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"reviewsync/internal/domain"
)

func TestResolve_DirectOrgURL(t *testing.T) {
	r := NewResolver("")
	ref, err := r.Resolve(context.Background(), "https://yandex.com.tr/harita/org/some-cafe/123456789012/reviews/?ll=28.9&z=16#tab")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ref.OrgID != "123456789012" {
		t.Fatalf("org id: %q", ref.OrgID)
	}
	if ref.Domain != "yandex.com.tr" {
		t.Fatalf("mirror: %q", ref.Domain)
	}
	if ref.CanonicalURL != "https://yandex.com.tr/maps/org/org/123456789012/reviews/" {
		t.Fatalf("canonical: %q", ref.CanonicalURL)
	}
}

func TestResolve_ShortlinkRedirect(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/maps/-/CPQ6zLmQ":
			http.Redirect(w, r, "/maps/org/test-cafe/987654321098/reviews/", http.StatusFound)
		default:
			w.WriteHeader(200)
		}
	}))
	defer ts.Close()

	r := NewResolver("yandex.ru")
	ref, err := r.Resolve(context.Background(), ts.URL+"/maps/-/CPQ6zLmQ")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ref.OrgID != "987654321098" {
		t.Fatalf("org id: %q", ref.OrgID)
	}
	// The test host is no mirror, so the default applies.
	if ref.Domain != "yandex.ru" {
		t.Fatalf("mirror: %q", ref.Domain)
	}
}

func TestResolve_LongDigitsFallback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/web-maps/?orgpage%5Bid%5D=112233445566", http.StatusFound)
	}))
	defer ts.Close()

	r := NewResolver("")
	ref, err := r.Resolve(context.Background(), ts.URL+"/maps/-/abc")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ref.OrgID != "112233445566" {
		t.Fatalf("org id: %q", ref.OrgID)
	}
}

func TestResolve_NoOrgID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	defer ts.Close()

	r := NewResolver("")
	if _, err := r.Resolve(context.Background(), ts.URL+"/maps/whatever"); err != domain.ErrOrgIDNotFound {
		t.Fatalf("want ErrOrgIDNotFound, got %v", err)
	}
}

func TestResolve_ExpansionFailureDegrades(t *testing.T) {
	// Nothing listens on port 1; expansion fails and the input itself is
	// still mined for a digit run.
	r := NewResolver("")
	ref, err := r.Resolve(context.Background(), "http://127.0.0.1:1/card/1234567890")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ref.OrgID != "1234567890" {
		t.Fatalf("org id: %q", ref.OrgID)
	}
}

func TestMirrorHost(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://yandex.ru/maps/org/x/1/", "yandex.ru"},
		{"https://www.yandex.com.tr/harita/", "yandex.com.tr"},
		{"https://maps.google.com/", "yandex.ru"},
		{"::bad::", "yandex.ru"},
	}
	for _, tc := range cases {
		if got := mirrorHost(tc.in, "yandex.ru"); got != tc.want {
			t.Errorf("mirrorHost(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
