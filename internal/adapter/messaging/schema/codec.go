package schema

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/pkg/apperror"

	"github.com/hamba/avro/v2"
)

// Wire format: one magic byte, a big-endian uint32 schema id, then the
// Avro binary body.
const (
	wireMagicByte   = 0x00
	wireHeaderBytes = 5
)

// Codec implements ports.EventCodec against a schema registry. Schema
// ids are registered lazily and cached per instance, in both
// directions.
type Codec struct {
	registry Registry

	mu        sync.RWMutex
	idsByName map[string]int
	defsByID  map[int]Definition
}

// NewCodec creates a codec backed by the given registry.
func NewCodec(registry Registry) *Codec {
	return &Codec{
		registry:  registry,
		idsByName: make(map[string]int),
		defsByID:  make(map[int]Definition),
	}
}

// ResolveTopic returns the topic an event kind is published to.
func (c *Codec) ResolveTopic(eventName string) (string, error) {
	def, ok := definitions[eventName]
	if !ok {
		return "", apperror.ErrSchemaValidation(fmt.Sprintf("unsupported event %s", eventName))
	}
	return def.Topic, nil
}

// ExpectedEventNames returns the kinds a topic may carry; empty for
// unknown topics.
func (c *Codec) ExpectedEventNames(topic string) []string {
	return topicEventNames[topic]
}

// Encode validates the event against its catalog schema and produces
// the framed binary message.
func (c *Codec) Encode(ctx context.Context, event domain.Event) ([]byte, error) {
	def, ok := definitions[event.EventName()]
	if !ok {
		return nil, apperror.ErrSchemaValidation(fmt.Sprintf("unsupported event %s", event.EventName()))
	}

	envelope, err := toEnvelope(event)
	if err != nil {
		return nil, err
	}

	schemaID, err := c.schemaID(ctx, def)
	if err != nil {
		return nil, err
	}

	body, err := avro.Marshal(def.Schema, envelope)
	if err != nil {
		return nil, apperror.ErrSchemaValidation(fmt.Sprintf("failed to encode event %s", event.EventName()))
	}

	framed := make([]byte, wireHeaderBytes, wireHeaderBytes+len(body))
	framed[0] = wireMagicByte
	binary.BigEndian.PutUint32(framed[1:wireHeaderBytes], uint32(schemaID))
	return append(framed, body...), nil
}

// Decode parses a framed message and rejects anything outside the
// expected kinds. Every malformed input maps to a schema validation
// error so consumers can dead-letter without retrying.
func (c *Codec) Decode(ctx context.Context, data []byte, expectedNames []string) (domain.Event, error) {
	if len(data) < wireHeaderBytes || data[0] != wireMagicByte {
		return nil, apperror.ErrSchemaValidation("message is not in schema registry wire format")
	}
	schemaID := int(binary.BigEndian.Uint32(data[1:wireHeaderBytes]))

	def, err := c.definitionByID(ctx, schemaID)
	if err != nil {
		return nil, err
	}

	event, err := fromEnvelope(def, data[wireHeaderBytes:])
	if err != nil {
		return nil, err
	}

	for _, name := range expectedNames {
		if event.EventName() == name {
			return event, nil
		}
	}
	return nil, apperror.ErrSchemaValidation(fmt.Sprintf("unexpected event %s", event.EventName()))
}

// schemaID returns the cached id for a kind, registering the schema on
// first use.
func (c *Codec) schemaID(ctx context.Context, def Definition) (int, error) {
	c.mu.RLock()
	id, ok := c.idsByName[def.Name]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}

	id, err := c.registry.Register(ctx, def.Subject, def.Schema.String())
	if err != nil {
		// Registry failures surface as schema errors so callers have a
		// single error type at the codec boundary.
		return 0, apperror.ErrSchemaValidation(fmt.Sprintf("register schema for %s: %v", def.Name, err))
	}

	c.mu.Lock()
	c.idsByName[def.Name] = id
	c.defsByID[id] = def
	c.mu.Unlock()
	return id, nil
}

// definitionByID resolves an incoming schema id to a catalog entry,
// fetching the writer schema from the registry on cache miss and
// matching it by record full name.
func (c *Codec) definitionByID(ctx context.Context, id int) (Definition, error) {
	c.mu.RLock()
	def, ok := c.defsByID[id]
	c.mu.RUnlock()
	if ok {
		return def, nil
	}

	schemaJSON, err := c.registry.SchemaByID(ctx, id)
	if err != nil {
		return Definition{}, apperror.ErrSchemaValidation(fmt.Sprintf("resolve schema %d: %v", id, err))
	}
	parsed, err := avro.Parse(schemaJSON)
	if err != nil {
		return Definition{}, apperror.ErrSchemaValidation(fmt.Sprintf("schema %d is not valid avro", id))
	}
	record, ok := parsed.(*avro.RecordSchema)
	if !ok {
		return Definition{}, apperror.ErrSchemaValidation(fmt.Sprintf("schema %d is not a record", id))
	}
	def, ok = definitionsByRecordName[record.FullName()]
	if !ok {
		return Definition{}, apperror.ErrSchemaValidation(fmt.Sprintf("schema %s is not in the catalog", record.FullName()))
	}

	c.mu.Lock()
	c.defsByID[id] = def
	c.mu.Unlock()
	return def, nil
}

func toEnvelope(event domain.Event) (any, error) {
	switch e := event.(type) {
	case domain.UserCreatedEvent:
		return userCreatedEnvelope{Name: e.EventName(), Payload: userCreatedPayload{
			EventID:    e.EventID,
			OccurredAt: e.OccurredAt,
			UserID:     e.UserID,
			Name:       e.Name,
			FirstName:  e.FirstName,
			LastName:   e.LastName,
			Email:      e.Email,
		}}, nil
	case domain.WalletTransactionCreatedEvent:
		return walletTransactionEnvelope{Name: e.EventName(), Payload: walletTransactionPayload{
			EventID:       e.EventID,
			OccurredAt:    e.OccurredAt,
			WalletID:      e.WalletID,
			TransactionID: e.TransactionID,
			Type:          string(e.Type),
			Amount:        e.Amount,
			Balance:       e.Balance,
		}}, nil
	default:
		return nil, apperror.ErrSchemaValidation(fmt.Sprintf("unsupported event %s", event.EventName()))
	}
}

func fromEnvelope(def Definition, body []byte) (domain.Event, error) {
	switch def.Name {
	case domain.EventUserCreated:
		var envelope userCreatedEnvelope
		if err := avro.Unmarshal(def.Schema, body, &envelope); err != nil {
			return nil, apperror.ErrSchemaValidation("failed to decode event")
		}
		if envelope.Name != def.Name {
			return nil, apperror.ErrSchemaValidation(fmt.Sprintf("unexpected event %s", envelope.Name))
		}
		p := envelope.Payload
		return domain.UserCreatedEvent{
			EventID:    p.EventID,
			OccurredAt: p.OccurredAt,
			UserID:     p.UserID,
			Name:       p.Name,
			FirstName:  p.FirstName,
			LastName:   p.LastName,
			Email:      p.Email,
		}, nil
	case domain.EventWalletTransactionCreated:
		var envelope walletTransactionEnvelope
		if err := avro.Unmarshal(def.Schema, body, &envelope); err != nil {
			return nil, apperror.ErrSchemaValidation("failed to decode event")
		}
		if envelope.Name != def.Name {
			return nil, apperror.ErrSchemaValidation(fmt.Sprintf("unexpected event %s", envelope.Name))
		}
		p := envelope.Payload
		return domain.WalletTransactionCreatedEvent{
			EventID:       p.EventID,
			OccurredAt:    p.OccurredAt,
			WalletID:      p.WalletID,
			TransactionID: p.TransactionID,
			Type:          domain.TransactionType(p.Type),
			Amount:        p.Amount,
			Balance:       p.Balance,
		}, nil
	default:
		return nil, apperror.ErrSchemaValidation(fmt.Sprintf("unsupported event %s", def.Name))
	}
}
