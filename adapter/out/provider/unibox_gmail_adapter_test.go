package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"unibox_server/core/domain"
	"unibox_server/core/port/out"
)

func encodePart(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestExtractGmailBody(t *testing.T) {
	tests := []struct {
		name     string
		part     *gmail.MessagePart
		wantHTML string
		wantText string
	}{
		{
			name: "single html part",
			part: &gmail.MessagePart{
				MimeType: "text/html",
				Body:     &gmail.MessagePartBody{Data: encodePart("<p>hi</p>")},
			},
			wantHTML: "<p>hi</p>",
		},
		{
			name: "multipart alternative keeps both",
			part: &gmail.MessagePart{
				MimeType: "multipart/alternative",
				Parts: []*gmail.MessagePart{
					{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: encodePart("plain")}},
					{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: encodePart("<b>rich</b>")}},
				},
			},
			wantHTML: "<b>rich</b>",
			wantText: "plain",
		},
		{
			name: "last html part wins",
			part: &gmail.MessagePart{
				MimeType: "multipart/mixed",
				Parts: []*gmail.MessagePart{
					{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: encodePart("first")}},
					{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: encodePart("second")}},
				},
			},
			wantHTML: "second",
		},
		{
			name: "first text part wins",
			part: &gmail.MessagePart{
				MimeType: "multipart/mixed",
				Parts: []*gmail.MessagePart{
					{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: encodePart("first")}},
					{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: encodePart("second")}},
				},
			},
			wantText: "first",
		},
		{
			name: "nested parts are walked",
			part: &gmail.MessagePart{
				MimeType: "multipart/mixed",
				Parts: []*gmail.MessagePart{
					{
						MimeType: "multipart/alternative",
						Parts: []*gmail.MessagePart{
							{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: encodePart("<i>deep</i>")}},
						},
					},
				},
			},
			wantHTML: "<i>deep</i>",
		},
		{
			name: "nil part yields nothing",
			part: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			html, text := extractGmailBody(tt.part)
			if html != tt.wantHTML {
				t.Errorf("html = %q, want %q", html, tt.wantHTML)
			}
			if text != tt.wantText {
				t.Errorf("text = %q, want %q", text, tt.wantText)
			}
		})
	}
}

func TestConvertMessageBodyPreference(t *testing.T) {
	adapter := NewGmailAdapter(&GmailConfig{ClientID: "id", ClientSecret: "secret"})

	msg := &gmail.Message{
		Id: "m1",
		Payload: &gmail.MessagePart{
			MimeType: "multipart/alternative",
			Headers: []*gmail.MessagePartHeader{
				{Name: "Subject", Value: "greetings"},
				{Name: "From", Value: "Alice <alice@example.com>"},
				{Name: "To", Value: "bob@example.com"},
				{Name: "Date", Value: "Fri, 08 Mar 2024 09:30:00 +0000"},
			},
			Parts: []*gmail.MessagePart{
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: encodePart("plain body")}},
				{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: encodePart("<p>html body</p>")}},
			},
		},
		LabelIds: []string{"INBOX", "UNREAD", "IMPORTANT", "CATEGORY_PERSONAL", "SOME_CUSTOM_LABEL"},
	}

	email := adapter.convertMessage(msg)

	if email.Body != "<p>html body</p>" || email.BodyType != domain.BodyTypeHTML {
		t.Errorf("body = (%q, %q), want html body preferred", email.Body, email.BodyType)
	}
	if email.IsRead {
		t.Error("IsRead = true for UNREAD-labeled message, want false")
	}
	if email.Importance != domain.ImportanceHigh {
		t.Errorf("Importance = %q, want high for IMPORTANT label", email.Importance)
	}
	if len(email.Categories) != 1 || email.Categories[0] != "Personal" {
		t.Errorf("Categories = %v, want [Personal]; unmapped labels must be dropped", email.Categories)
	}
	if email.Date.IsZero() {
		t.Error("Date is zero, want parsed header date")
	}
	if email.OriginalPayload == nil {
		t.Error("OriginalPayload not carried")
	}
}

func TestConvertMessageUnparseableDate(t *testing.T) {
	adapter := NewGmailAdapter(&GmailConfig{})

	msg := &gmail.Message{
		Id: "m2",
		Payload: &gmail.MessagePart{
			Headers: []*gmail.MessagePartHeader{
				{Name: "Date", Value: "not a date"},
			},
		},
		LabelIds: []string{"INBOX"},
	}

	email := adapter.convertMessage(msg)
	if !email.Date.IsZero() {
		t.Errorf("Date = %v for unparseable header, want zero value", email.Date)
	}
	if !email.IsRead {
		t.Error("IsRead = false without UNREAD label, want true")
	}
}

func TestExtractGmailAttachments(t *testing.T) {
	part := &gmail.MessagePart{
		MimeType: "multipart/mixed",
		Parts: []*gmail.MessagePart{
			{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: encodePart("body")}},
			{
				Filename: "report.pdf",
				MimeType: "application/pdf",
				Body:     &gmail.MessagePartBody{Size: 1234},
				Headers: []*gmail.MessagePartHeader{
					{Name: "Content-ID", Value: "<cid-99>"},
				},
			},
		},
	}

	attachments := extractGmailAttachments(part)
	if len(attachments) != 1 {
		t.Fatalf("got %d attachments, want 1", len(attachments))
	}
	att := attachments[0]
	if att.Filename != "report.pdf" || att.ContentType != "application/pdf" || att.Size != 1234 {
		t.Errorf("attachment = %+v", att)
	}
	if att.ContentID != "cid-99" {
		t.Errorf("ContentID = %q, want angle brackets stripped", att.ContentID)
	}
}

func TestBuildRawMessageHeaderOrder(t *testing.T) {
	raw := buildRawMessage("me@example.com", &domain.OutgoingEmail{
		To:       []string{"a@example.com", "b@example.com"},
		Cc:       []string{"c@example.com"},
		Subject:  "hello",
		Body:     "<p>hi</p>",
		BodyType: domain.BodyTypeHTML,
	})

	lines := strings.Split(raw, "\r\n")
	wantPrefixes := []string{
		"From: me@example.com",
		"To: a@example.com, b@example.com",
		"Cc: c@example.com",
		"Subject: hello",
		"Content-Type: text/html; charset=UTF-8",
		"",
		"<p>hi</p>",
	}
	for i, want := range wantPrefixes {
		if i >= len(lines) || lines[i] != want {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want)
		}
	}
}

func TestBuildRawMessageOmitsEmptyCc(t *testing.T) {
	raw := buildRawMessage("me@example.com", &domain.OutgoingEmail{
		To:      []string{"a@example.com"},
		Subject: "no cc",
		Body:    "text",
	})

	if strings.Contains(raw, "Cc:") {
		t.Error("raw message contains Cc header for empty cc list")
	}
	if !strings.Contains(raw, "Content-Type: text/plain") {
		t.Error("default content type should be text/plain")
	}
}

func TestGmailWrapError(t *testing.T) {
	adapter := NewGmailAdapter(&GmailConfig{})

	tests := []struct {
		name          string
		err           error
		wantCode      out.ProviderErrorCode
		wantRetryable bool
	}{
		{"401 maps to token expired", &googleapi.Error{Code: 401}, out.ProviderErrTokenExpired, false},
		{"403 rate limit", &googleapi.Error{Code: 403, Message: "Rate Limit Exceeded"}, out.ProviderErrRateLimit, true},
		{"403 plain is auth", &googleapi.Error{Code: 403, Message: "forbidden"}, out.ProviderErrAuth, false},
		{"404 not found", &googleapi.Error{Code: 404}, out.ProviderErrNotFound, false},
		{"429 retryable", &googleapi.Error{Code: 429}, out.ProviderErrRateLimit, true},
		{"503 server retryable", &googleapi.Error{Code: 503}, out.ProviderErrServer, true},
		{"plain error is network", errors.New("dial tcp: timeout"), out.ProviderErrNetwork, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := adapter.wrapError(tt.err, "fallback")
			var provErr *out.ProviderError
			if !errors.As(wrapped, &provErr) {
				t.Fatalf("wrapError() = %T, want *out.ProviderError", wrapped)
			}
			if provErr.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", provErr.Code, tt.wantCode)
			}
			if provErr.Retryable != tt.wantRetryable {
				t.Errorf("retryable = %v, want %v", provErr.Retryable, tt.wantRetryable)
			}
			if provErr.Provider != "gmail" {
				t.Errorf("provider = %q, want gmail", provErr.Provider)
			}
		})
	}
}

func TestSplitAddressList(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", nil},
		{"single bare address", "a@example.com", []string{"a@example.com"}},
		{
			"named addresses keep the name",
			`"Alice J" <alice@example.com>, bob@example.com`,
			[]string{"Alice J <alice@example.com>", "bob@example.com"},
		},
		{
			"unparseable falls back to comma split",
			"not-an-address, also bad",
			[]string{"not-an-address", "also bad"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitAddressList(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestGetFoldersLabelDetailUsesBreaker(t *testing.T) {
	var getCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/labels") {
			w.Header().Set("Content-Type", "application/json")
			labels := make([]string, 0, 10)
			for i := 0; i < 10; i++ {
				labels = append(labels, fmt.Sprintf(`{"id":"L%d","name":"Label %d"}`, i, i))
			}
			fmt.Fprintf(w, `{"labels":[%s]}`, strings.Join(labels, ","))
			return
		}
		atomic.AddInt32(&getCalls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(500)
		fmt.Fprint(w, `{"error":{"code":500,"message":"backend error"}}`)
	}))
	defer srv.Close()

	adapter := NewGmailAdapter(&GmailConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		Endpoint:     srv.URL + "/",
	})

	folders, err := adapter.GetFolders(context.Background(), &oauth2.Token{AccessToken: "test-token"})
	if err != nil {
		t.Fatalf("GetFolders() error = %v", err)
	}
	if len(folders) != 10 {
		t.Fatalf("got %d folders, want 10 despite detail failures", len(folders))
	}

	// Consecutive detail failures open the circuit, so the tail of the
	// follow-up loop must fail fast without reaching the server.
	if n := atomic.LoadInt32(&getCalls); n >= 10 {
		t.Errorf("label detail requests = %d, want fewer than 10 once the circuit opens", n)
	}
}
