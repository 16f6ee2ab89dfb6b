package transport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMessage() *Message {
	return &Message{
		From:     "team@preventiq.example",
		FromName: "PreventIQ",
		To:       "asha@example.com",
		ToName:   "Asha",
		Subject:  "Your health, on your schedule",
		HTML:     "<p>Hello Asha</p>",
		Tags: []Tag{
			{Name: "campaign", Value: "true"},
			{Name: "persona_ARCH_PRO", Value: "true"},
			{Name: "variant_ARCH_PRO_1700000000000_abc", Value: "true"},
		},
	}
}

func TestValidate(t *testing.T) {
	msg := testMessage()
	msg.To = ""
	err := validate(msg)
	require.Error(t, err)
	assert.False(t, IsTemporaryError(err))

	assert.NoError(t, validate(testMessage()))
}

func TestIsTemporaryError(t *testing.T) {
	assert.True(t, IsTemporaryError(errors.New("unknown")))
	assert.True(t, IsTemporaryError(&SendError{Temporary: true}))
	assert.False(t, IsTemporaryError(&SendError{Temporary: false}))

	wrapped := &SendError{Message: "outer", Err: context.DeadlineExceeded}
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)
}

func TestLogTransport(t *testing.T) {
	tr := NewLogTransport(testLogger())
	id, err := tr.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, "log", tr.Name())
}

func TestResendSend(t *testing.T) {
	var got resendEmail
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer re_test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"4ef9a417-02e9-4d39-ad75-9611e0fcc33c"}`))
	}))
	defer srv.Close()

	tr := NewResend(ResendConfig{APIKey: "re_test", BaseURL: srv.URL + "/"})
	id, err := tr.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Equal(t, "4ef9a417-02e9-4d39-ad75-9611e0fcc33c", id)

	assert.Equal(t, "PreventIQ <team@preventiq.example>", got.From)
	assert.Equal(t, []string{"asha@example.com"}, got.To)
	require.Len(t, got.Tags, 3)
	assert.Equal(t, "persona_ARCH_PRO", got.Tags[1].Name)
}

func TestResendErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		temporary bool
	}{
		{"validation", http.StatusUnprocessableEntity, `{"statusCode":422,"name":"validation_error","message":"Invalid to"}`, false},
		{"rate limited", http.StatusTooManyRequests, `{"statusCode":429,"message":"Too many requests"}`, true},
		{"server error", http.StatusBadGateway, `not json`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			tr := NewResend(ResendConfig{APIKey: "k", BaseURL: srv.URL})
			_, err := tr.Send(context.Background(), testMessage())
			require.Error(t, err)
			assert.Equal(t, tt.temporary, IsTemporaryError(err))
		})
	}
}

func TestResendTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	tr := NewResend(ResendConfig{APIKey: "k", BaseURL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := tr.Send(ctx, testMessage())
	require.Error(t, err)
	assert.True(t, IsTemporaryError(err))
}

func TestSanitizeTags(t *testing.T) {
	tags := sanitizeTags([]Tag{{Name: "variant_a.b", Value: "x y"}, {Name: "", Value: "skip"}})
	require.Len(t, tags, 1)
	assert.Equal(t, Tag{Name: "variant_a_b", Value: "x_y"}, tags[0])
	assert.Nil(t, sanitizeTags(nil))
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	id    *string
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: f.id}, nil
}

func TestSESSend(t *testing.T) {
	id := "0100018c-ses-id"
	fake := &fakeSES{id: &id}
	tr := newSESWithClient(fake, "leadcast-events")

	msg := testMessage()
	msg.Text = "Hello Asha"
	got, err := tr.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	require.NotNil(t, fake.input)
	assert.Equal(t, "PreventIQ <team@preventiq.example>", *fake.input.FromEmailAddress)
	assert.Equal(t, "leadcast-events", *fake.input.ConfigurationSetName)
	assert.Equal(t, "Hello Asha", *fake.input.Content.Simple.Body.Text.Data)
	assert.Len(t, fake.input.EmailTags, 3)
}

func TestSESErrors(t *testing.T) {
	tr := newSESWithClient(&fakeSES{err: &types.MessageRejected{Message: new(string)}}, "")
	_, err := tr.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.False(t, IsTemporaryError(err))

	tr = newSESWithClient(&fakeSES{err: &types.TooManyRequestsException{}}, "")
	_, err = tr.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.True(t, IsTemporaryError(err))

	tr = newSESWithClient(&fakeSES{}, "")
	_, err = tr.Send(context.Background(), testMessage())
	require.Error(t, err)
}

func TestBuildMessage(t *testing.T) {
	msg := testMessage()
	msg.Headers = map[string]string{"List-Unsubscribe": "<mailto:unsub@preventiq.example>"}

	data := string(buildMessage(msg, "abc@preventiq.example", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
	assert.Contains(t, data, "Message-ID: <abc@preventiq.example>\r\n")
	assert.Contains(t, data, `From: "PreventIQ" <team@preventiq.example>`)
	assert.Contains(t, data, "List-Unsubscribe: <mailto:unsub@preventiq.example>\r\n")
	assert.Contains(t, data, "X-Tag: campaign=true\r\n")
	assert.Contains(t, data, "Content-Type: text/html; charset=utf-8")
	assert.NotContains(t, data, "multipart/alternative")

	msg.Text = "plain"
	data = string(buildMessage(msg, "abc@preventiq.example", time.Now()))
	assert.Contains(t, data, "multipart/alternative")
	assert.Contains(t, data, "text/plain; charset=utf-8")
}

func TestNewMessageID(t *testing.T) {
	id := newMessageID("team@PreventIQ.example")
	assert.True(t, strings.HasSuffix(id, "@preventiq.example"))
	assert.True(t, strings.HasSuffix(newMessageID("broken"), "@localhost"))
}

func writeKey(t *testing.T, pkcs8 bool) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	if pkcs8 {
		der, err := x509.MarshalPKCS8PrivateKey(key)
		require.NoError(t, err)
		block = &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	}

	path := filepath.Join(t.TempDir(), "dkim.key")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0600))
	return path
}

func TestDKIMSigner(t *testing.T) {
	for _, pkcs8 := range []bool{false, true} {
		signer, err := LoadDKIMSigner(writeKey(t, pkcs8), "preventiq.example", "leadcast")
		require.NoError(t, err)

		signed, err := signer.Sign(buildMessage(testMessage(), "x@preventiq.example", time.Now()))
		require.NoError(t, err)
		s := string(signed)
		assert.True(t, strings.HasPrefix(s, "DKIM-Signature:"))
		assert.Contains(t, s, "d=preventiq.example")
		assert.Contains(t, s, "s=leadcast")
	}
}

func TestLoadDKIMSignerErrors(t *testing.T) {
	_, err := LoadDKIMSigner(filepath.Join(t.TempDir(), "missing.key"), "d", "s")
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.key")
	require.NoError(t, os.WriteFile(path, []byte("not a pem"), 0600))
	_, err = LoadDKIMSigner(path, "d", "s")
	require.Error(t, err)
}
