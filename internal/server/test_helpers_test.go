package server

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/merchantdesk/clientbook/internal/auth"
	"github.com/merchantdesk/clientbook/internal/clients"
	"gorm.io/gorm"
)

const testSigningSecret = "test-signing-secret"

func newTestRouter(t *testing.T) (http.Handler, *clients.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:clientbook_server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	err = db.AutoMigrate(&clients.Client{}, &clients.Purchase{}, &clients.PriceChange{}, &clients.BalanceChange{})
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := clients.NewService(clients.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		ClientsService: service,
		Credentials:    auth.NewCredentialVerifier("admin", "password"),
		Tokens:         newTestTokens(),
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return handler, service
}

func newTestTokens() *auth.TokenIssuer {
	return auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        "clientbook-auth",
		Audience:      "clientbook-api",
	})
}

func issueTestToken(t *testing.T) string {
	t.Helper()
	token, _, err := newTestTokens().IssueToken(context.Background(), "admin")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func doRequest(t *testing.T, handler http.Handler, request *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func authedRequest(t *testing.T, method, target string, body *bytes.Buffer, contentType string) *http.Request {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	request := httptest.NewRequest(method, target, body)
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	request.Header.Set("Authorization", "Bearer "+issueTestToken(t))
	return request
}

type multipartBody struct {
	buffer *bytes.Buffer
	writer *multipart.Writer
}

func newMultipartBody(t *testing.T) *multipartBody {
	t.Helper()
	buffer := &bytes.Buffer{}
	return &multipartBody{buffer: buffer, writer: multipart.NewWriter(buffer)}
}

func (m *multipartBody) field(t *testing.T, name, value string) {
	t.Helper()
	if err := m.writer.WriteField(name, value); err != nil {
		t.Fatalf("failed to write field %q: %v", name, err)
	}
}

func (m *multipartBody) file(t *testing.T, field, filename string, content []byte) {
	t.Helper()
	part, err := m.writer.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("failed to write file content: %v", err)
	}
}

func (m *multipartBody) close(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	if err := m.writer.Close(); err != nil {
		t.Fatalf("failed to finalize multipart body: %v", err)
	}
	return m.buffer, m.writer.FormDataContentType()
}
