package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/jobbridge/internal/realtime"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/users"
)

func TestEventStreamDeliversChannelEvents(t *testing.T) {
	server := newTestServer(t)
	listener := httptest.NewServer(server.handler)
	defer listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, listener.URL+"/events/stream", http.NoBody)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	request.AddCookie(&http.Cookie{Name: testCookieName, Value: server.token(t, "staff-9", users.RoleStaff)})

	response, err := listener.Client().Do(request)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", response.StatusCode)
	}
	if contentType := response.Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/event-stream") {
		t.Fatalf("unexpected content type %q", contentType)
	}

	channel := realtime.ChannelForUser("staff-9")
	if server.dispatcher.SubscriberCount(channel) != 1 {
		t.Fatalf("expected the stream to subscribe to %s", channel)
	}
	if err := server.dispatcher.Publish(ctx, realtime.ChannelForUser("someone-else"), realtime.EventNewNotification, map[string]string{"title": "not yours"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := server.dispatcher.Publish(ctx, channel, realtime.EventNewNotification, map[string]string{"title": "Interview"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	scanner := bufio.NewScanner(response.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
			continue
		}
		if strings.HasPrefix(line, "data: ") && event == realtime.EventNewNotification {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	if data == "" {
		t.Fatalf("stream ended before the event arrived: %v", scanner.Err())
	}
	if strings.Contains(data, "not yours") || !strings.Contains(data, "Interview") {
		t.Fatalf("unexpected event payload %q", data)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for server.dispatcher.SubscriberCount(channel) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected the subscription to be released after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
