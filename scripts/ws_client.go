// Package main runs a demo WebSocket client for schedule events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func post(base, path string, body []byte) (*http.Response, error) {
	req, _ := http.NewRequest(http.MethodPost, base+path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_demo")
	req.Header.Set("X-Role", "admin")
	return http.DefaultClient.Do(req)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Connect WS and subscribe to every schedule event for the tenant.
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/schedule/ws"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", "t_demo")
	hdr.Set("X-Role", "admin")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	pl, _ := json.Marshal(map[string]any{"events": []string{"schedule.", "visit."}})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()

	// Seed a visit and a roster entry, then build a schedule to trigger events.
	day := time.Now().UTC().Format("2006-01-02")
	visit := fmt.Sprintf(`{"visits":[{"clientId":"c_demo","window":{"earliestStart":"%sT09:00:00Z","latestStart":"%sT11:00:00Z"},"durationSec":1800,"staffing":{"count":1},"location":{"lat":51.5,"lng":-0.1}}]}`, day, day)
	if _, err := post(base, "/v1/visits", []byte(visit)); err != nil {
		log.Fatal(err)
	}
	staff := `{"name":"Demo Carer","workingHours":[{"weekday":1,"start":"07:00","end":"20:00"},{"weekday":2,"start":"07:00","end":"20:00"},{"weekday":3,"start":"07:00","end":"20:00"},{"weekday":4,"start":"07:00","end":"20:00"},{"weekday":5,"start":"07:00","end":"20:00"},{"weekday":6,"start":"07:00","end":"20:00"},{"weekday":0,"start":"07:00","end":"20:00"}],"base":{"lat":51.5,"lng":-0.1}}`
	if _, err := post(base, "/v1/staff", []byte(staff)); err != nil {
		log.Fatal(err)
	}

	time.Sleep(300 * time.Millisecond)
	sched := fmt.Sprintf(`{"day":"%s","preferences":{}}`, day)
	if _, err := post(base, "/v1/schedule", []byte(sched)); err != nil {
		log.Fatal(err)
	}

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
