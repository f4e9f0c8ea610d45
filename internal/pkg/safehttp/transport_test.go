package safehttp

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDenied(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"::1", true},
		{"10.1.2.3", true},
		{"192.168.0.10", true},
		{"172.16.5.4", true},
		{"169.254.169.254", true},
		{"0.0.0.0", true},
		{"8.8.8.8", false},
		{"2001:4860:4860::8888", false},
	}
	for _, tt := range tests {
		if got := Denied(net.ParseIP(tt.ip)); got != tt.want {
			t.Errorf("Denied(%s) = %v, want %v", tt.ip, got, tt.want)
		}
	}
}

func TestTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	open := &http.Client{Transport: Transport(false)}
	resp, err := open.Get(srv.URL)
	if err != nil {
		t.Fatalf("unguarded Get() error = %v", err)
	}
	resp.Body.Close()

	guarded := &http.Client{Transport: Transport(true)}
	_, err = guarded.Get(srv.URL)
	if !errors.Is(err, ErrDeniedAddress) {
		t.Fatalf("guarded Get(loopback) error = %v, want ErrDeniedAddress", err)
	}
}
