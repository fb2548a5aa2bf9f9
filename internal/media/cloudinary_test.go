package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testUploader(serverURL string) *Cloudinary {
	c := NewCloudinary("demo", "key", "secret", "refs")
	c.uploadURL = serverURL
	return c
}

func TestUploadReference(t *testing.T) {
	var gotPublicID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotPublicID = r.FormValue("public_id")
		if r.FormValue("signature") == "" {
			t.Error("unsigned upload")
		}
		w.Write([]byte(`{"public_id":"refs/ref_u1","secure_url":"https://res.example/ref_u1.jpg"}`))
	}))
	defer srv.Close()

	url, err := testUploader(srv.URL).UploadReference(context.Background(), "u1", []byte("jpegbytes"))
	if err != nil {
		t.Fatalf("UploadReference: %v", err)
	}
	if url != "https://res.example/ref_u1.jpg" {
		t.Errorf("url = %q", url)
	}
	if gotPublicID != "ref_u1" {
		t.Errorf("public_id = %q, want ref_u1", gotPublicID)
	}
}

func TestUploadReferenceServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"invalid signature"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	if _, err := testUploader(srv.URL).UploadReference(context.Background(), "u1", []byte("x")); err == nil {
		t.Fatal("server rejection did not surface as an error")
	}
}

func TestUploadReferenceHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request sent despite cancelled context")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testUploader(srv.URL).UploadReference(ctx, "u1", []byte("x"))
	if err == nil {
		t.Fatal("cancelled context did not abort the upload")
	}
	if !strings.Contains(err.Error(), "context canceled") {
		t.Errorf("error %v does not carry the cancellation", err)
	}
}
