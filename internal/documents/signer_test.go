package documents

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestSignedURLRoundTrip(t *testing.T) {
	s, err := NewSigner("secret", "https://kyc.example/")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	link, exp, err := s.SignedURL("users/u1/passport.png", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !strings.HasPrefix(link, "https://kyc.example/documents/") {
		t.Fatalf("unexpected link %q", link)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expiry must be in the future")
	}

	got, err := s.Verify(strings.TrimPrefix(link, "https://kyc.example/documents/"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != "users/u1/passport.png" {
		t.Fatalf("unexpected path %q", got)
	}
}

func TestVerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	s, _ := NewSigner("secret", "")
	base := time.Unix(1700000000, 0)
	s.now = func() time.Time { return base }
	link, _, err := s.SignedURL("a.png", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	tok := strings.TrimPrefix(link, "/documents/")

	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := s.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired link, got %v", err)
	}

	other, _ := NewSigner("other", "")
	other.now = func() time.Time { return base }
	if _, err := other.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign secret, got %v", err)
	}
}

func TestSignedURLRejectsEscapingPaths(t *testing.T) {
	s, _ := NewSigner("secret", "")
	for _, p := range []string{"", "  ", "..", "../etc/passwd", `a\b`} {
		if _, _, err := s.SignedURL(p, time.Minute); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("%q: expected ErrInvalidPath, got %v", p, err)
		}
	}
	if got, err := cleanPath("/users/./x.png"); err != nil || got != "users/x.png" {
		t.Fatalf("expected cleaned relative path, got %q %v", got, err)
	}
}

func TestFileStoreServe(t *testing.T) {
	gin.SetMode(gin.TestMode)
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "users"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "users", "id.txt"), []byte("document"), 0o600); err != nil {
		t.Fatal(err)
	}

	s, _ := NewSigner("secret", "")
	store := NewFileStore(root, s)
	r := gin.New()
	r.GET("/documents/:token", store.Serve)

	link, _, _ := s.SignedURL("users/id.txt", time.Minute)
	missing, _, _ := s.SignedURL("users/none.txt", time.Minute)

	cases := []struct {
		name string
		url  string
		want int
	}{
		{"valid", link, http.StatusOK},
		{"missing object", missing, http.StatusNotFound},
		{"bad token", "/documents/garbage", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.url, nil))
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
			if tc.want == http.StatusOK && w.Body.String() != "document" {
				t.Fatalf("unexpected body %q", w.Body.String())
			}
		})
	}
}
