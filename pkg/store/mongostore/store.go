// Package mongostore adapts a MongoDB collection's change stream to store.Source.
// Change streams require a replica set or sharded cluster.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/wilhg/changeverify/pkg/errmodel"
	"github.com/wilhg/changeverify/pkg/store"
)

// Server error codes that mean a resume position cannot be served.
const (
	codeInvalidResumeToken      = 260
	codeChangeStreamFatalError  = 280
	codeChangeStreamHistoryLost = 286
)

const defaultMaxAwait = 250 * time.Millisecond

// Option configures the Store at construction time.
type Option func(*Store)

// WithMaxAwait bounds how long a single getMore waits on the server.
// It is also the granularity at which Next notices its timeout.
func WithMaxAwait(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.maxAwait = d
		}
	}
}

// Store implements store.Source over one collection.
type Store struct {
	client   *mongo.Client
	coll     *mongo.Collection
	maxAwait time.Duration
}

// Open connects to uri and verifies the primary is reachable.
func Open(ctx context.Context, uri, database, collection string, opts ...Option) (*Store, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is empty")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping: %w", err)
	}
	s := &Store{
		client:   client,
		coll:     client.Database(database).Collection(collection),
		maxAwait: defaultMaxAwait,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Reset drops the collection and recreates the _id index.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.coll.Drop(ctx); err != nil {
		return fmt.Errorf("drop collection: %w", err)
	}
	if _, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "_id", Value: 1}}}); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// Append inserts payload as a new document with a generated _id.
// The returned event has no token; the server assigns it on delivery.
func (s *Store) Append(ctx context.Context, payload map[string]any) (store.Event, error) {
	id := uuid.NewString()
	doc := bson.M{"_id": id}
	for k, v := range payload {
		doc[k] = v
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return store.Event{}, fmt.Errorf("insert: %w", err)
	}
	return store.Event{ID: id, Payload: maps.Clone(payload), InsertedAt: time.Now().UTC()}, nil
}

// Open watches inserts on the collection starting at pos.
func (s *Store) Open(ctx context.Context, pos store.Position) (store.Stream, error) {
	csOpts := options.ChangeStream().SetMaxAwaitTime(s.maxAwait)
	if !pos.IsNow() {
		raw := bson.Raw(pos.Token().Bytes())
		if pos.Token().IsZero() || raw.Validate() != nil {
			return nil, errmodel.Resume(errmodel.CodeInvalidToken, "malformed resume token", map[string]any{"token": pos.Token().String()}, nil)
		}
		csOpts.SetResumeAfter(raw)
	}
	pipeline := mongo.Pipeline{{{Key: "$match", Value: bson.D{{Key: "operationType", Value: "insert"}}}}}
	cs, err := s.coll.Watch(ctx, pipeline, csOpts)
	if err != nil {
		if !pos.IsNow() {
			return nil, resumeError(err)
		}
		return nil, fmt.Errorf("watch: %w", err)
	}
	opened := pos.Token()
	if pos.IsNow() {
		opened = store.TokenFromBytes(cs.ResumeToken())
	}
	return &stream{cs: cs, token: opened}, nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

// resumeError maps any failure to serve a resume position to a resume error.
func resumeError(err error) error {
	code := errmodel.CodeInvalidToken
	var se mongo.ServerError
	if errors.As(err, &se) && (se.HasErrorCode(codeChangeStreamHistoryLost) || se.HasErrorCode(codeChangeStreamFatalError)) {
		code = errmodel.CodeHistoryLost
	}
	return errmodel.Resume(code, "cannot resume change stream", nil, err)
}

func isResumeFailure(err error) bool {
	var se mongo.ServerError
	if !errors.As(err, &se) {
		return false
	}
	return se.HasErrorCode(codeChangeStreamHistoryLost) ||
		se.HasErrorCode(codeChangeStreamFatalError) ||
		se.HasErrorCode(codeInvalidResumeToken)
}

type changeDoc struct {
	ID           bson.Raw            `bson:"_id"`
	FullDocument bson.M              `bson:"fullDocument"`
	ClusterTime  primitive.Timestamp `bson:"clusterTime"`
}

type stream struct {
	cs    *mongo.ChangeStream
	token store.ResumeToken

	mu     sync.Mutex
	closed bool
}

func (s *stream) Next(ctx context.Context, timeout time.Duration) (store.Event, bool, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return store.Event{}, false, errmodel.Closed("mongostore: next on closed stream")
	}

	// TryNext runs on the caller's context so a timeout never invalidates the
	// cursor; each call waits at most maxAwait on the server.
	deadline := time.Now().Add(timeout)
	for {
		if s.cs.TryNext(ctx) {
			var ch changeDoc
			if err := s.cs.Decode(&ch); err != nil {
				return store.Event{}, false, fmt.Errorf("decode change: %w", err)
			}
			ev := toEvent(ch)
			s.token = ev.Token
			if rt := s.cs.ResumeToken(); rt != nil {
				s.token = store.TokenFromBytes(rt)
			}
			return ev, true, nil
		}
		if err := s.cs.Err(); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return store.Event{}, false, err
			}
			if isResumeFailure(err) {
				return store.Event{}, false, resumeError(err)
			}
			return store.Event{}, false, fmt.Errorf("change stream: %w", err)
		}
		if ctx.Err() != nil {
			return store.Event{}, false, ctx.Err()
		}
		if !time.Now().Before(deadline) {
			return store.Event{}, false, nil
		}
	}
}

func (s *stream) Token() store.ResumeToken { return s.token }

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.cs.Close(context.Background())
}

func toEvent(ch changeDoc) store.Event {
	payload := maps.Clone(ch.FullDocument)
	id, _ := payload["_id"].(string)
	delete(payload, "_id")
	return store.Event{
		ID:         id,
		Token:      store.TokenFromBytes(ch.ID),
		Payload:    payload,
		InsertedAt: time.Unix(int64(ch.ClusterTime.T), 0).UTC(),
	}
}

var _ store.Source = (*Store)(nil)
