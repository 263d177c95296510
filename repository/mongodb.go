package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kiliantyler/kil.dev-sub000/game"
)

const (
	mongoDatabase          = "snake"
	gameSessionsCollection = "game_sessions"
)

func ConnectMongoDB(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	slog.Info("Successfully connected to MongoDB")
	return client, nil
}

// SessionArchive stores each ended session with its telemetry and verdict.
type SessionArchive struct {
	collection *mongo.Collection
}

func NewSessionArchive(client *mongo.Client) *SessionArchive {
	return NewSessionArchiveFromCollection(client.Database(mongoDatabase).Collection(gameSessionsCollection))
}

func NewSessionArchiveFromCollection(c *mongo.Collection) *SessionArchive {
	return &SessionArchive{collection: c}
}

func (a *SessionArchive) Save(ctx context.Context, session game.EndedSession) error {
	result, err := a.collection.InsertOne(ctx, session)
	if err != nil {
		return fmt.Errorf("insert game session: %w", err)
	}
	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		slog.Debug("game session archived", "session_id", session.SessionID, "archive_id", oid.Hex())
	}
	return nil
}
