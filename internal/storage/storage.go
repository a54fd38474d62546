// Package storage archives closed rooms to MongoDB and reads transcripts back.
package storage

import (
	"context"
	"crypto/cipher"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/real-rm/supportchat/internal/constants"
	"github.com/real-rm/supportchat/internal/metrics"
	"github.com/real-rm/supportchat/internal/session"
)

var (
	// ErrInvalidRoom is returned when a nil document is saved
	ErrInvalidRoom = errors.New("room document cannot be nil")
	// ErrInvalidRoomID is returned when a room id is empty
	ErrInvalidRoomID = errors.New("room ID cannot be empty")
	// ErrTranscriptNotFound is returned when no archived room has the id
	ErrTranscriptNotFound = errors.New("transcript not found in database")
	// ErrEncryptionKeyMissing is returned when an encrypted transcript is read without a key
	ErrEncryptionKeyMissing = errors.New("transcript is encrypted but no encryption key is configured")
)

// RetryConfig controls how transient MongoDB failures are retried
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig returns the retry settings used when none are configured
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  constants.MaxRetryAttempts,
		InitialDelay: constants.InitialRetryDelay,
		MaxDelay:     constants.MaxRetryDelay,
		Multiplier:   constants.RetryMultiplier,
	}
}

// Options configures a StorageService
type Options struct {
	EncryptionKey []byte // 32 bytes for AES-256; empty stores bodies in clear
	Retry         RetryConfig
}

// StorageService reads and writes archived rooms
type StorageService struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *slog.Logger
	gcm        cipher.AEAD // nil when encryption is disabled
	retry      RetryConfig
}

// RoomDocument is an archived room
type RoomDocument struct {
	ID             string            `bson:"_id"`
	CustomerID     string            `bson:"cid"`
	CustomerName   string            `bson:"cnm,omitempty"`
	IsGuest        bool              `bson:"guest"`
	AgentID        string            `bson:"aid,omitempty"`
	AgentName      string            `bson:"anm,omitempty"`
	Department     string            `bson:"dept,omitempty"`
	OrganizationID string            `bson:"org,omitempty"`
	State          string            `bson:"st"`
	PreviousState  string            `bson:"prevSt"` // state the room was closed from
	ClosedBy       string            `bson:"closedBy,omitempty"`
	CreatedAt      time.Time         `bson:"ts"`
	ClosedAt       time.Time         `bson:"closedTs"`
	Messages       []MessageDocument `bson:"msgs"`
	MessageCount   int               `bson:"msgCnt"`
	Encrypted      bool              `bson:"enc"`
	ModifiedAt     time.Time         `bson:"_mt"`
}

// MessageDocument is one archived message
type MessageDocument struct {
	ID         int64     `bson:"id"`
	SenderID   string    `bson:"sid"`
	SenderRole string    `bson:"role"`
	SenderName string    `bson:"snm,omitempty"`
	Body       string    `bson:"body"`
	Timestamp  time.Time `bson:"ts"`
}

// TranscriptSummary describes an archived room without its messages
type TranscriptSummary struct {
	ID             string    `json:"roomId"`
	CustomerID     string    `json:"customerId"`
	CustomerName   string    `json:"customerName,omitempty"`
	AgentID        string    `json:"agentId,omitempty"`
	Department     string    `json:"department,omitempty"`
	OrganizationID string    `json:"organizationId,omitempty"`
	PreviousState  string    `json:"closedFrom"`
	CreatedAt      time.Time `json:"createdAt"`
	ClosedAt       time.Time `json:"closedAt"`
	MessageCount   int       `json:"messageCount"`
}

// TranscriptFilter narrows ListTranscripts. Empty fields match everything.
type TranscriptFilter struct {
	OrganizationID string
	CustomerID     string
	AgentID        string
	Limit          int // defaults to constants.DefaultTranscriptListLimit
}

// NewRoomDocument converts a closed room and its history into a document
// with plaintext bodies.
func NewRoomDocument(room session.RoomView, previous session.State, history []session.Message) *RoomDocument {
	doc := &RoomDocument{
		ID:             room.ID,
		CustomerID:     room.CustomerID,
		CustomerName:   room.CustomerName,
		IsGuest:        room.IsGuest,
		AgentID:        room.AgentID,
		AgentName:      room.AgentName,
		Department:     room.Department,
		OrganizationID: room.OrganizationID,
		State:          string(room.State),
		PreviousState:  string(previous),
		ClosedBy:       room.ClosedBy,
		CreatedAt:      room.CreatedAt,
		ClosedAt:       room.ClosedAt,
		Messages:       make([]MessageDocument, 0, len(history)),
		MessageCount:   len(history),
	}
	for _, msg := range history {
		doc.Messages = append(doc.Messages, MessageDocument{
			ID:         msg.ID,
			SenderID:   msg.SenderID,
			SenderRole: string(msg.SenderRole),
			SenderName: msg.SenderName,
			Body:       msg.Body,
			Timestamp:  msg.Timestamp,
		})
	}
	return doc
}

// NewStorageService creates a storage service on an already connected client.
// A key of the wrong length is an error rather than silently disabling encryption.
func NewStorageService(client *mongo.Client, dbName, collName string, logger *slog.Logger, opts Options) (*StorageService, error) {
	gcm, err := newGCM(opts.EncryptionKey)
	if err != nil {
		return nil, err
	}
	retry := opts.Retry
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}
	return &StorageService{
		client:     client,
		collection: client.Database(dbName).Collection(collName),
		logger:     logger.With("component", "storage"),
		gcm:        gcm,
		retry:      retry,
	}, nil
}

// Connect dials MongoDB and verifies the connection with a ping
func Connect(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetServerSelectionTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

// Ping checks that the primary is reachable
func (s *StorageService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// isRetryableError reports whether err is a transient network or server
// selection failure worth another attempt
func isRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}

	errStr := err.Error()

	// Network errors
	if containsAny(errStr, []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"i/o timeout",
		"EOF",
	}) {
		return true
	}

	// MongoDB specific transient errors
	return containsAny(errStr, []string{
		"server selection timeout",
		"no reachable servers",
		"connection pool",
		"socket",
	})
}

func containsAny(s string, substrings []string) bool {
	for _, substr := range substrings {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

// EnsureIndexes creates the indexes transcript lookups rely on
func (s *StorageService) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: constants.MongoFieldCustomerID, Value: 1}},
			Options: options.Index().SetName(constants.IndexCustomerID),
		},
		{
			Keys:    bson.D{{Key: constants.MongoFieldAgentID, Value: 1}},
			Options: options.Index().SetName(constants.IndexAgentID).SetSparse(true),
		},
		{
			Keys: bson.D{
				{Key: constants.MongoFieldOrgID, Value: 1},
				{Key: constants.MongoFieldClosedAt, Value: -1},
			},
			Options: options.Index().SetName(constants.IndexOrgClosedAt),
		},
		{
			Keys: bson.D{
				{Key: constants.MongoFieldCustomerID, Value: 1},
				{Key: constants.MongoFieldClosedAt, Value: -1},
			},
			Options: options.Index().SetName(constants.IndexCustomerClosed),
		},
	}

	if _, err := s.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	s.logger.Info("MongoDB indexes created successfully",
		"indexes", []string{constants.IndexCustomerID, constants.IndexAgentID, constants.IndexOrgClosedAt, constants.IndexCustomerClosed},
	)
	return nil
}

// SaveRoom upserts doc. Message bodies are encrypted on a copy, so doc itself
// is left untouched. Saving the same room twice overwrites the first write.
func (s *StorageService) SaveRoom(ctx context.Context, doc *RoomDocument) error {
	if doc == nil {
		return ErrInvalidRoom
	}
	if doc.ID == "" {
		return ErrInvalidRoomID
	}

	start := time.Now()
	defer func() {
		metrics.MongoOperationDuration.WithLabelValues("save_room").Observe(time.Since(start).Seconds())
	}()

	stored, err := s.sealDocument(doc)
	if err != nil {
		return err
	}
	stored.ModifiedAt = time.Now().UTC()

	filter := bson.M{constants.MongoFieldID: stored.ID}
	opts := options.Replace().SetUpsert(true)
	err = s.retryOperation(ctx, "save_room", func() error {
		_, err := s.collection.ReplaceOne(ctx, filter, stored, opts)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save room %s: %w", doc.ID, err)
	}

	s.logger.Debug("Room archived", "room_id", doc.ID, "messages", stored.MessageCount, "encrypted", stored.Encrypted)
	return nil
}

// GetTranscript returns the archived room with decrypted bodies
func (s *StorageService) GetTranscript(ctx context.Context, roomID string) (*RoomDocument, error) {
	if roomID == "" {
		return nil, ErrInvalidRoomID
	}

	start := time.Now()
	defer func() {
		metrics.MongoOperationDuration.WithLabelValues("get_transcript").Observe(time.Since(start).Seconds())
	}()

	var doc RoomDocument
	err := s.retryOperation(ctx, "get_transcript", func() error {
		return s.collection.FindOne(ctx, bson.M{constants.MongoFieldID: roomID}).Decode(&doc)
	})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", ErrTranscriptNotFound, roomID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript %s: %w", roomID, err)
	}

	if err := s.openDocument(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListTranscripts returns summaries of archived rooms, most recently closed first
func (s *StorageService) ListTranscripts(ctx context.Context, filter TranscriptFilter) ([]*TranscriptSummary, error) {
	start := time.Now()
	defer func() {
		metrics.MongoOperationDuration.WithLabelValues("list_transcripts").Observe(time.Since(start).Seconds())
	}()

	query := bson.M{}
	if filter.OrganizationID != "" {
		query[constants.MongoFieldOrgID] = filter.OrganizationID
	}
	if filter.CustomerID != "" {
		query[constants.MongoFieldCustomerID] = filter.CustomerID
	}
	if filter.AgentID != "" {
		query[constants.MongoFieldAgentID] = filter.AgentID
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = constants.DefaultTranscriptListLimit
	}
	if limit > constants.MaxTranscriptListLimit {
		limit = constants.MaxTranscriptListLimit
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: constants.MongoFieldClosedAt, Value: -1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.M{constants.MongoFieldMessages: 0})

	var cursor *mongo.Cursor
	err := s.retryOperation(ctx, "list_transcripts", func() error {
		var err error
		cursor, err = s.collection.Find(ctx, query, findOpts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	defer cursor.Close(ctx)

	summaries := make([]*TranscriptSummary, 0)
	for cursor.Next(ctx) {
		var doc RoomDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode room document: %w", err)
		}
		summaries = append(summaries, summarize(&doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return summaries, nil
}

func summarize(doc *RoomDocument) *TranscriptSummary {
	return &TranscriptSummary{
		ID:             doc.ID,
		CustomerID:     doc.CustomerID,
		CustomerName:   doc.CustomerName,
		AgentID:        doc.AgentID,
		Department:     doc.Department,
		OrganizationID: doc.OrganizationID,
		PreviousState:  doc.PreviousState,
		CreatedAt:      doc.CreatedAt,
		ClosedAt:       doc.ClosedAt,
		MessageCount:   doc.MessageCount,
	}
}

// sealDocument returns a shallow copy of doc with encrypted message bodies
func (s *StorageService) sealDocument(doc *RoomDocument) (*RoomDocument, error) {
	stored := *doc
	stored.Messages = make([]MessageDocument, len(doc.Messages))
	copy(stored.Messages, doc.Messages)
	stored.MessageCount = len(doc.Messages)
	stored.Encrypted = s.gcm != nil
	if s.gcm == nil {
		return &stored, nil
	}
	for i := range stored.Messages {
		body, err := encrypt(s.gcm, stored.Messages[i].Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt message %d of room %s: %w", stored.Messages[i].ID, doc.ID, err)
		}
		stored.Messages[i].Body = body
	}
	return &stored, nil
}

// openDocument decrypts the bodies of doc in place
func (s *StorageService) openDocument(doc *RoomDocument) error {
	if !doc.Encrypted {
		return nil
	}
	if s.gcm == nil {
		return fmt.Errorf("%w: room %s", ErrEncryptionKeyMissing, doc.ID)
	}
	for i := range doc.Messages {
		body, err := decrypt(s.gcm, doc.Messages[i].Body)
		if err != nil {
			return fmt.Errorf("failed to decrypt message %d of room %s: %w", doc.Messages[i].ID, doc.ID, err)
		}
		doc.Messages[i].Body = body
	}
	doc.Encrypted = false
	return nil
}

// retryOperation runs fn, retrying transient errors with exponential backoff
func (s *StorageService) retryOperation(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	delay := s.retry.InitialDelay

	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isRetryableError(err) {
			return err
		}
		lastErr = err

		if attempt < s.retry.MaxAttempts {
			s.logger.Warn("MongoDB operation failed, retrying",
				"operation", operation,
				"attempt", attempt,
				"max_attempts", s.retry.MaxAttempts,
				"delay", delay,
				"error", err)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("operation cancelled during retry: %w", ctx.Err())
			}

			delay = time.Duration(float64(delay) * s.retry.Multiplier)
			if delay > s.retry.MaxDelay {
				delay = s.retry.MaxDelay
			}
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", s.retry.MaxAttempts, lastErr)
}
