package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func serve(h http.Handler, authz string) int {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr.Code
}

func TestBearer(t *testing.T) {
	cases := []struct {
		name   string
		mode   string
		secret string
		authz  string
		want   int
	}{
		{"mode none passes", "none", "s3cret", "", http.StatusNoContent},
		{"empty secret passes", "bearer", "", "", http.StatusNoContent},
		{"correct secret", "bearer", "s3cret", "Bearer s3cret", http.StatusNoContent},
		{"missing header", "bearer", "s3cret", "", http.StatusUnauthorized},
		{"wrong secret", "bearer", "s3cret", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "bearer", "s3cret", "Basic s3cret", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := serve(Bearer(tc.mode, tc.secret, okHandler), tc.authz); got != tc.want {
				t.Errorf("status: got %d, want %d", got, tc.want)
			}
		})
	}
}

// passHandler is a grpc.UnaryHandler that returns ("ok", nil).
func passHandler(ctx context.Context, req interface{}) (interface{}, error) {
	return "ok", nil
}

func call(i grpc.UnaryServerInterceptor, authz string) (interface{}, error) {
	ctx := context.Background()
	if authz != "" {
		ctx = metadata.NewIncomingContext(ctx, metadata.Pairs("authorization", authz))
	}
	return i(ctx, nil, &grpc.UnaryServerInfo{}, passHandler)
}

func TestUnaryInterceptor_PassThrough(t *testing.T) {
	for _, i := range []grpc.UnaryServerInterceptor{
		UnaryInterceptor("none", "s3cret"),
		UnaryInterceptor("bearer", ""),
	} {
		res, err := call(i, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res != "ok" {
			t.Errorf("result: got %v, want ok", res)
		}
	}
}

func TestUnaryInterceptor_CorrectSecret(t *testing.T) {
	res, err := call(UnaryInterceptor("bearer", "s3cret"), "Bearer s3cret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != "ok" {
		t.Errorf("result: got %v, want ok", res)
	}
}

func TestUnaryInterceptor_Rejects(t *testing.T) {
	i := UnaryInterceptor("bearer", "s3cret")

	// No metadata at all.
	_, err := i(context.Background(), nil, &grpc.UnaryServerInfo{}, passHandler)
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("no metadata: got %v, want Unauthenticated", status.Code(err))
	}

	for _, authz := range []string{"Bearer wrong", "s3cret"} {
		_, err := call(i, authz)
		if status.Code(err) != codes.Unauthenticated {
			t.Errorf("%q: got %v, want Unauthenticated", authz, status.Code(err))
		}
	}
}
