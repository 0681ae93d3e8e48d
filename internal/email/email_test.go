package email

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"dailybrief/internal/core"
)

func testDocument() core.DigestDocument {
	return core.DigestDocument{
		UserID: "alice",
		Sections: []core.DigestSection{
			{
				Title:       "A fresh video",
				URL:         "https://example.com/video",
				SummaryText: "What the video covers.",
				SourceType:  core.SourceVideo,
			},
			{
				Title:       "A fresh article",
				URL:         "https://example.com/article",
				SummaryText: "What the article says.",
				SourceType:  core.SourceBlog,
			},
		},
		GeneratedAt: time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC),
	}
}

func TestRenderHTML(t *testing.T) {
	body, err := RenderHTML(testDocument(), nil)
	if err != nil {
		t.Fatalf("RenderHTML failed: %v", err)
	}

	for _, want := range []string{
		"A fresh video",
		"A fresh article",
		"https://example.com/video",
		"What the article says.",
		"<h2>Videos</h2>",
		"<h2>Articles</h2>",
		"June 1, 2025",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Rendered body missing %q", want)
		}
	}

	if !strings.Contains(body, "<!DOCTYPE html>") {
		t.Error("Expected a full HTML document")
	}
}

func TestRenderHTML_EscapesContent(t *testing.T) {
	doc := testDocument()
	doc.Sections[0].Title = `<script>alert("x")</script>`

	body, err := RenderHTML(doc, nil)
	if err != nil {
		t.Fatalf("RenderHTML failed: %v", err)
	}
	if strings.Contains(body, `<script>alert`) {
		t.Error("Section content must be HTML escaped")
	}
}

func TestSubject(t *testing.T) {
	subject, err := Subject(testDocument(), nil)
	if err != nil {
		t.Fatalf("Subject failed: %v", err)
	}
	if subject != "Your Daily Brief - June 1, 2025" {
		t.Errorf("Unexpected subject %q", subject)
	}
}

func TestSMTPConfigValidate(t *testing.T) {
	valid := SMTPConfig{Host: "smtp.example.com", Port: 587, From: "digest@example.com"}
	if err := valid.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}

	missing := SMTPConfig{Port: 587}
	if err := missing.Validate(); err == nil {
		t.Error("Expected error for missing host and from address")
	}
}

// fakeSender scripts delivery outcomes per attempt.
type fakeSender struct {
	mu       sync.Mutex
	calls    int
	subjects []string
	fn       func(call int) error
}

func (f *fakeSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.subjects = append(f.subjects, subject)
	f.mu.Unlock()
	return f.fn(call)
}

func TestDispatch_SendsOnce(t *testing.T) {
	sender := &fakeSender{fn: func(int) error { return nil }}
	dispatcher := NewDispatcher(sender, nil)

	if err := dispatcher.Dispatch(context.Background(), "alice@example.com", testDocument()); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if sender.calls != 1 {
		t.Errorf("Expected 1 send, got %d", sender.calls)
	}
	if !strings.Contains(sender.subjects[0], "Your Daily Brief") {
		t.Errorf("Unexpected subject %q", sender.subjects[0])
	}
}

func TestDispatch_RetriesOnceThenSucceeds(t *testing.T) {
	sender := &fakeSender{fn: func(call int) error {
		if call == 1 {
			return errors.New("connection reset")
		}
		return nil
	}}
	dispatcher := NewDispatcher(sender, nil)
	dispatcher.retryDelay = time.Millisecond

	if err := dispatcher.Dispatch(context.Background(), "alice@example.com", testDocument()); err != nil {
		t.Fatalf("Dispatch should succeed on retry: %v", err)
	}
	if sender.calls != 2 {
		t.Errorf("Expected 2 sends, got %d", sender.calls)
	}
}

func TestDispatch_SecondFailureIsPermanent(t *testing.T) {
	sendErr := errors.New("mailbox on fire")
	sender := &fakeSender{fn: func(int) error { return sendErr }}
	dispatcher := NewDispatcher(sender, nil)
	dispatcher.retryDelay = time.Millisecond

	err := dispatcher.Dispatch(context.Background(), "alice@example.com", testDocument())
	if err == nil {
		t.Fatal("Expected permanent dispatch failure")
	}
	if !errors.Is(err, sendErr) {
		t.Errorf("Expected wrapped send error, got %v", err)
	}
	if sender.calls != 2 {
		t.Errorf("Expected exactly 2 attempts, got %d", sender.calls)
	}
}

func TestDispatch_CancelledBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sender := &fakeSender{fn: func(int) error {
		cancel()
		return errors.New("transient")
	}}
	dispatcher := NewDispatcher(sender, nil)
	dispatcher.retryDelay = time.Hour

	err := dispatcher.Dispatch(ctx, "alice@example.com", testDocument())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context cancellation, got %v", err)
	}
	if sender.calls != 1 {
		t.Errorf("Cancelled dispatch should not retry, got %d attempts", sender.calls)
	}
}
