package orders

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/imrishuroy/go-storefront-orderflow/internal/aws"
)

type recordingSQS struct {
	inputs []*sqs.SendMessageInput
}

func (r *recordingSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	r.inputs = append(r.inputs, in)
	return &sqs.SendMessageOutput{}, nil
}

func TestSQSEventPublisher_Publish(t *testing.T) {
	q := &recordingSQS{}
	p := NewSQSEventPublisher(aws.NewPublisher(q, "https://sqs.local/orders"))

	ev := Event{Type: EventPlaced, OrderID: "o-1", Status: StatusPending, IdempotencyKey: "k-1", OccurredAt: time.Unix(0, 0).UTC()}
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if len(q.inputs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(q.inputs))
	}
	in := q.inputs[0]

	var got Event
	if err := json.Unmarshal([]byte(*in.MessageBody), &got); err != nil {
		t.Fatalf("body not json: %v", err)
	}
	if got.Type != EventPlaced || got.OrderID != "o-1" || got.IdempotencyKey != "k-1" {
		t.Fatalf("unexpected body %+v", got)
	}
	if v := in.MessageAttributes["event_type"].StringValue; v == nil || *v != EventPlaced {
		t.Fatalf("missing event_type attribute")
	}
	if _, ok := in.MessageAttributes["correlation_id"]; ok {
		t.Fatalf("empty correlation_id should be skipped")
	}
}
