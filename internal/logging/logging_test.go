package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/signalsfoundry/nan-scheduler/model"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.With(String("component", "scheduler")).Info(context.Background(), "committed",
		MAC("peer", model.MACAddress{0x02, 0, 0, 0, 0, 1}),
		Slots("slots", model.BitmapFromSlots(9, 137)),
		Int("records", 1),
	)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not json: %v (%q)", err, buf.String())
	}
	if rec["component"] != "scheduler" || rec["peer"] != "02:00:00:00:00:01" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if slots, ok := rec["slots"].([]any); !ok || len(slots) != 2 {
		t.Fatalf("slots field = %v", rec["slots"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})
	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("level filtering wrong: %q", buf.String())
	}
}

func TestNegotiationID(t *testing.T) {
	ctx, id := EnsureNegotiationID(context.Background())
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("negotiation id %q is not a uuid: %v", id, err)
	}
	again, same := EnsureNegotiationID(ctx)
	if same != id || NegotiationIDFromContext(again) != id {
		t.Fatalf("existing id was replaced")
	}

	var buf bytes.Buffer
	_, log := WithNegotiationLogger(ctx, New(Config{Format: "json", Output: &buf}))
	log.Info(ctx, "proposal generated")
	if !strings.Contains(buf.String(), `"negotiation_id":"`+id+`"`) {
		t.Fatalf("negotiation id missing: %q", buf.String())
	}
}
