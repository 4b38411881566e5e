package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/google/uuid"
	"github.com/kaec/docauthority/internal/shared/config"
)

// Bus appends events to KurrentDB. Each flow gets its own stream so its
// history can be replayed in order.
type Bus struct {
	client *esdb.Client
	prefix string
}

// NewBus connects to KurrentDB
func NewBus(ctx context.Context, cfg config.KurrentDBConfig) (*Bus, error) {
	settings, err := esdb.ParseConnectionString(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	client, err := esdb.NewClient(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create KurrentDB client: %w", err)
	}

	prefix := cfg.Stream
	if prefix == "" {
		prefix = "docauthority"
	}
	return &Bus{client: client, prefix: prefix}, nil
}

// StreamName returns the stream holding a subject's events
func StreamName(prefix, subject string) string {
	if subject == "" {
		return prefix
	}
	return prefix + "-flow-" + strings.ReplaceAll(subject, ".", "-")
}

// Publish appends an event to its subject's stream
func (b *Bus) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	eventID, err := uuid.Parse(event.ID)
	if err != nil {
		eventID = uuid.New()
	}

	_, err = b.client.AppendToStream(ctx, StreamName(b.prefix, event.Subject), esdb.AppendToStreamOptions{
		ExpectedRevision: esdb.Any{},
	}, esdb.EventData{
		EventType:   event.Type,
		ContentType: esdb.ContentTypeJson,
		Data:        data,
		EventID:     eventID,
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// History reads up to limit events recorded for a subject, oldest first
func (b *Bus) History(ctx context.Context, subject string, limit uint64) ([]Event, error) {
	stream, err := b.client.ReadStream(ctx, StreamName(b.prefix, subject), esdb.ReadStreamOptions{
		From:      esdb.Start{},
		Direction: esdb.Forwards,
	}, limit)
	if err != nil {
		if esdbErr, ok := esdb.FromError(err); !ok && esdbErr.Code() == esdb.ErrorCodeResourceNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}
	defer stream.Close()

	var out []Event
	for {
		resolved, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if esdbErr, ok := esdb.FromError(err); !ok && esdbErr.Code() == esdb.ErrorCodeResourceNotFound {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to read event: %w", err)
		}
		if resolved.Event == nil {
			continue
		}
		var e Event
		if err := json.Unmarshal(resolved.Event.Data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		if e.ID == "" {
			e.ID = resolved.Event.EventID.String()
		}
		out = append(out, e)
	}
	return out, nil
}

func (b *Bus) Close() {
	if b.client != nil {
		b.client.Close()
	}
}

// Health reads one event from $streams
func (b *Bus) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := b.client.ReadStream(ctx, "$streams", esdb.ReadStreamOptions{
		From:      esdb.Start{},
		Direction: esdb.Forwards,
	}, 1)
	if err != nil {
		return fmt.Errorf("KurrentDB health check failed: %w", err)
	}
	stream.Close()
	return nil
}
