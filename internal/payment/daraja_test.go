package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newDarajaServer(t *testing.T, push http.HandlerFunc) (*httptest.Server, *int32) {
	t.Helper()
	var tokenCalls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("grant_type") != "client_credentials" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok", "expires_in": "3599"})
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", push)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &tokenCalls
}

func newTestClient(baseURL string, timeout time.Duration) *DarajaClient {
	c := NewDarajaClient(DarajaConfig{
		BaseURL:        baseURL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		Passkey:        "passkey",
		CallbackURL:    "https://example.com/api/payments/callback/s3cret",
		Timeout:        timeout,
	})
	c.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return c
}

func TestSTKPushRequest(t *testing.T) {
	var got stkPushBody
	var auth string
	srv, tokenCalls := newDarajaServer(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(PushResponse{
			MerchantRequestID:   "m-1",
			CheckoutRequestID:   "ws_CO_1",
			ResponseCode:        "0",
			ResponseDescription: "Success. Request accepted for processing",
		})
	})

	client := newTestClient(srv.URL, time.Second)
	resp, err := client.STKPush(context.Background(), PushRequest{
		Phone:            "0712345678",
		Amount:           100,
		AccountReference: "Item-abc",
		Description:      "Tip for found item abc",
	})
	if err != nil {
		t.Fatalf("STKPush: %v", err)
	}
	if resp.ResponseCode != "0" || resp.CheckoutRequestID != "ws_CO_1" {
		t.Errorf("unexpected response %+v", resp)
	}

	if auth != "Bearer tok" {
		t.Errorf("expected bearer token, got %q", auth)
	}
	if got.Timestamp != "20240102060405" {
		t.Errorf("expected EAT timestamp 20240102060405, got %q", got.Timestamp)
	}
	wantPassword := base64.StdEncoding.EncodeToString([]byte("174379passkey20240102060405"))
	if got.Password != wantPassword {
		t.Errorf("expected password %q, got %q", wantPassword, got.Password)
	}
	if got.PartyA != "254712345678" || got.PhoneNumber != "254712345678" {
		t.Errorf("expected normalized phone, got PartyA=%q PhoneNumber=%q", got.PartyA, got.PhoneNumber)
	}
	if got.PartyB != "174379" || got.BusinessShortCode != "174379" {
		t.Errorf("expected short code as PartyB, got %+v", got)
	}
	if got.TransactionType != "CustomerPayBillOnline" || got.Amount != 100 {
		t.Errorf("unexpected transaction %+v", got)
	}
	if got.AccountReference != "Item-abc" || got.TransactionDesc != "Tip for found item abc" {
		t.Errorf("unexpected reference %+v", got)
	}
	if got.CallBackURL == "" {
		t.Error("expected callback URL")
	}

	// The token is reused.
	client.STKPush(context.Background(), PushRequest{Phone: "0712345678", Amount: 50})
	if n := atomic.LoadInt32(tokenCalls); n != 1 {
		t.Errorf("expected 1 token request, got %d", n)
	}
}

func TestSTKPushGatewayError(t *testing.T) {
	srv, _ := newDarajaServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"requestId":"1","errorCode":"400.002.02","errorMessage":"Bad Request - Invalid PhoneNumber"}`))
	})

	_, err := newTestClient(srv.URL, time.Second).STKPush(context.Background(), PushRequest{Phone: "12", Amount: 50})

	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected *GatewayError, got %v", err)
	}
	if gwErr.StatusCode != http.StatusBadRequest || gwErr.Message != "Bad Request - Invalid PhoneNumber" {
		t.Errorf("unexpected gateway error %+v", gwErr)
	}
}

func TestSTKPushTimeout(t *testing.T) {
	srv, _ := newDarajaServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	start := time.Now()
	_, err := newTestClient(srv.URL, 50*time.Millisecond).STKPush(context.Background(), PushRequest{Phone: "0712345678", Amount: 50})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Errorf("expected the client timeout to cut the call short, took %v", time.Since(start))
	}
}

func TestSTKPushBadCredentials(t *testing.T) {
	srv, _ := newDarajaServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("push must not be sent without a token")
	})

	client := newTestClient(srv.URL, time.Second)
	client.cfg.ConsumerSecret = "wrong"

	if _, err := client.STKPush(context.Background(), PushRequest{Phone: "0712345678", Amount: 50}); err == nil {
		t.Fatal("expected error for rejected credentials")
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct{ in, want string }{
		{"0712345678", "254712345678"},
		{"+254712345678", "254712345678"},
		{"254712345678", "254712345678"},
		{"0712 345 678", "254712345678"},
	}
	for _, tt := range tests {
		if got := NormalizePhone(tt.in); got != tt.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
