package queue

import (
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestQueueNames(t *testing.T) {
	work := WorkQueueNames()
	if len(work) != 1 || work[0] != "campaign.email.send" {
		t.Fatalf("WorkQueueNames = %v, want [campaign.email.send]", work)
	}

	dlq := DLQNames()
	if len(dlq) != 1 || dlq[0] != "dlq.campaign.email.send" {
		t.Fatalf("DLQNames = %v, want [dlq.campaign.email.send]", dlq)
	}

	work[0] = "mutated"
	if WorkQueueNames()[0] != SendEmailQueue {
		t.Fatal("WorkQueueNames should return a copy")
	}
}

func TestQueueName(t *testing.T) {
	if got := QueueName("campaign.email.send"); got != SendEmailQueue {
		t.Fatalf("QueueName = %s, want %s", got, SendEmailQueue)
	}
	if !IsWorkQueue(SendEmailQueue) {
		t.Fatal("IsWorkQueue(SendEmailQueue) = false, want true")
	}
	if IsWorkQueue("sms") {
		t.Fatal("IsWorkQueue(sms) = true, want false")
	}
}

func TestTaskMessageValidate(t *testing.T) {
	msg := TaskMessage{
		Handle:  "h1",
		Task:    SendEmailQueue,
		Payload: json.RawMessage(`{"sendJobId":"j1"}`),
		RunAt:   time.Now().UTC(),
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	msg.Handle = ""
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty handle")
	}

	msg.Handle = "h1"
	msg.Task = " "
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty task")
	}

	msg.Task = SendEmailQueue
	msg.Payload = json.RawMessage(`{"sendJobId":`)
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for invalid payload")
	}
}

func TestTaskMessageDecode(t *testing.T) {
	msg := TaskMessage{
		Handle:  "h1",
		Task:    SendEmailQueue,
		Payload: json.RawMessage(`{"sendJobId":"j1"}`),
	}

	var payload struct {
		SendJobID string `json:"sendJobId"`
	}
	if err := msg.Decode(&payload); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if payload.SendJobID != "j1" {
		t.Fatalf("SendJobID = %q, want j1", payload.SendJobID)
	}
}

func TestNewPublishing(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 3, 0, time.UTC)
	runAt := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	msg := TaskMessage{
		Handle:        "h1",
		Task:          SendEmailQueue,
		Payload:       json.RawMessage(`{"sendJobId":"j1"}`),
		RunAt:         runAt,
		CorrelationID: "cid-1",
	}

	publishing, err := newPublishing(SendEmailQueue, msg, now)
	if err != nil {
		t.Fatalf("newPublishing() error = %v", err)
	}
	if publishing.MessageId != "h1" || publishing.CorrelationId != "cid-1" || publishing.Type != SendEmailQueue {
		t.Fatalf("publishing ids = %q/%q/%q, want h1/cid-1/%s", publishing.MessageId, publishing.CorrelationId, publishing.Type, SendEmailQueue)
	}
	if got := publishing.Headers[HeaderRunAt]; got != "2026-03-02T15:00:00Z" {
		t.Fatalf("%s header = %v, want 2026-03-02T15:00:00Z", HeaderRunAt, got)
	}
	if !publishing.Timestamp.Equal(now) {
		t.Fatalf("Timestamp = %v, want %v", publishing.Timestamp, now)
	}

	var decoded TaskMessage
	if err := json.Unmarshal(publishing.Body, &decoded); err != nil {
		t.Fatalf("body unmarshal error = %v", err)
	}
	if decoded.Handle != "h1" || !decoded.RunAt.Equal(runAt) {
		t.Fatalf("decoded = %+v, want handle h1 runAt %v", decoded, runAt)
	}

	if _, err := newPublishing("sms", msg, now); err == nil {
		t.Fatal("newPublishing(sms) error = nil, want unknown queue error")
	}
	msg.Payload = nil
	if _, err := newPublishing(SendEmailQueue, msg, now); err == nil {
		t.Fatal("newPublishing(empty payload) error = nil, want validation error")
	}
}

func TestQueueArgs(t *testing.T) {
	args := queueArgs(SendEmailQueue)
	if args["x-dead-letter-exchange"] != dlxExchangeName {
		t.Fatalf("x-dead-letter-exchange = %v, want %s", args["x-dead-letter-exchange"], dlxExchangeName)
	}
	if args["x-dead-letter-routing-key"] != SendEmailQueue {
		t.Fatalf("x-dead-letter-routing-key = %v, want %s", args["x-dead-letter-routing-key"], SendEmailQueue)
	}
	if queueArgs(DLQName(SendEmailQueue)) != nil {
		t.Fatal("queueArgs(dlq) should be nil")
	}
	if got := dlqArgs()["x-message-ttl"]; got != int64(7*24*time.Hour/time.Millisecond) {
		t.Fatalf("x-message-ttl = %v, want 7 days in ms", got)
	}
}

func TestConsumerLateness(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 30, 0, time.UTC)
	c := NewRabbitMQConsumer(nil, 0, nil)
	c.now = func() time.Time { return now }

	if c.prefetch != 1 {
		t.Fatalf("prefetch = %d, want 1", c.prefetch)
	}

	tests := []struct {
		name    string
		headers amqp.Table
		want    time.Duration
		ok      bool
	}{
		{name: "late", headers: amqp.Table{HeaderRunAt: "2026-03-02T09:00:00Z"}, want: 30 * time.Second, ok: true},
		{name: "early clamps to zero", headers: amqp.Table{HeaderRunAt: "2026-03-02T09:05:00Z"}, want: 0, ok: true},
		{name: "missing header", headers: amqp.Table{}, ok: false},
		{name: "malformed header", headers: amqp.Table{HeaderRunAt: "yesterday"}, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := c.lateness(amqp.Delivery{Headers: tt.headers})
			if ok != tt.ok || got != tt.want {
				t.Fatalf("lateness() = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}
