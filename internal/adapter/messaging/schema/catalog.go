package schema

import (
	"wallet-ledger/internal/core/domain"

	"github.com/hamba/avro/v2"
)

// Definition binds one event kind to its topic, registry subject and
// Avro schema. The catalog is closed: kinds not listed here are
// rejected on both encode and decode.
type Definition struct {
	Name    string
	Topic   string
	Subject string
	Schema  avro.Schema
}

const userCreatedSchemaJSON = `{
	"type": "record",
	"name": "UsersCreatedEvent",
	"namespace": "wallet.events",
	"fields": [
		{"name": "name", "type": "string"},
		{"name": "payload", "type": {
			"type": "record",
			"name": "UsersCreatedPayload",
			"fields": [
				{"name": "eventId", "type": "string"},
				{"name": "occurredAt", "type": "string"},
				{"name": "userId", "type": "string"},
				{"name": "name", "type": "string"},
				{"name": "firstName", "type": "string"},
				{"name": "lastName", "type": "string"},
				{"name": "email", "type": "string"}
			]
		}}
	]
}`

const walletTransactionCreatedSchemaJSON = `{
	"type": "record",
	"name": "WalletTransactionCreatedEvent",
	"namespace": "wallet.events",
	"fields": [
		{"name": "name", "type": "string"},
		{"name": "payload", "type": {
			"type": "record",
			"name": "WalletTransactionCreatedPayload",
			"fields": [
				{"name": "eventId", "type": "string"},
				{"name": "occurredAt", "type": "string"},
				{"name": "walletId", "type": "string"},
				{"name": "transactionId", "type": "string"},
				{"name": "type", "type": {
					"type": "enum",
					"name": "WalletTransactionType",
					"symbols": ["credit", "debit"]
				}},
				{"name": "amount", "type": "string"},
				{"name": "balance", "type": "string"}
			]
		}}
	]
}`

var definitions = map[string]Definition{
	domain.EventUserCreated: {
		Name:    domain.EventUserCreated,
		Topic:   "users.created",
		Subject: "users.created-value",
		Schema:  avro.MustParse(userCreatedSchemaJSON),
	},
	domain.EventWalletTransactionCreated: {
		Name:    domain.EventWalletTransactionCreated,
		Topic:   "wallet.transactions",
		Subject: "wallet.transactions-value",
		Schema:  avro.MustParse(walletTransactionCreatedSchemaJSON),
	},
}

// definitionsByRecordName indexes the catalog by the Avro record's full
// name, which is how incoming writer schemas are recognized.
var definitionsByRecordName = func() map[string]Definition {
	byName := make(map[string]Definition, len(definitions))
	for _, def := range definitions {
		record := def.Schema.(*avro.RecordSchema)
		byName[record.FullName()] = def
	}
	return byName
}()

// topicEventNames maps each topic to the kinds it may carry.
var topicEventNames = func() map[string][]string {
	byTopic := make(map[string][]string)
	for name, def := range definitions {
		byTopic[def.Topic] = append(byTopic[def.Topic], name)
	}
	return byTopic
}()

// Topics returns every topic in the catalog.
func Topics() []string {
	topics := make([]string, 0, len(topicEventNames))
	for topic := range topicEventNames {
		topics = append(topics, topic)
	}
	return topics
}

// userCreatedPayload mirrors domain.UserCreatedEvent with avro tags.
type userCreatedPayload struct {
	EventID    string `avro:"eventId"`
	OccurredAt string `avro:"occurredAt"`
	UserID     string `avro:"userId"`
	Name       string `avro:"name"`
	FirstName  string `avro:"firstName"`
	LastName   string `avro:"lastName"`
	Email      string `avro:"email"`
}

type userCreatedEnvelope struct {
	Name    string             `avro:"name"`
	Payload userCreatedPayload `avro:"payload"`
}

type walletTransactionPayload struct {
	EventID       string `avro:"eventId"`
	OccurredAt    string `avro:"occurredAt"`
	WalletID      string `avro:"walletId"`
	TransactionID string `avro:"transactionId"`
	Type          string `avro:"type"`
	Amount        string `avro:"amount"`
	Balance       string `avro:"balance"`
}

type walletTransactionEnvelope struct {
	Name    string                   `avro:"name"`
	Payload walletTransactionPayload `avro:"payload"`
}
