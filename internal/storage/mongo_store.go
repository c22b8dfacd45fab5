package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/annel0/wordle-server/internal/game"
	"github.com/annel0/wordle-server/internal/word"
)

// MongoStore хранит пользователей документами в MongoDB
type MongoStore struct {
	client     *mongo.Client
	users      *mongo.Collection
	state      *mongo.Collection
	ctxTimeout time.Duration
}

type userDoc struct {
	Username string `bson:"_id"`
	Seq      int64  `bson:"seq"`
	Data     []byte `bson:"data"`
}

type stateDoc struct {
	ID   string `bson:"_id"`
	Data []byte `bson:"data"`
}

// NewMongoStore подключается к MongoDB, uri: mongodb://localhost:27017
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	if database == "" {
		database = "wordle"
	}

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(cctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	// ping
	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	db := client.Database(database)
	store := &MongoStore{
		client:     client,
		users:      db.Collection("users"),
		state:      db.Collection("state"),
		ctxTimeout: 5 * time.Second,
	}

	_, err = store.users.Indexes().CreateOne(cctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "seq", Value: 1}},
		Options: options.Index().SetName("seq_idx"),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

func (m *MongoStore) Load(ctx context.Context) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	cur, err := m.users.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	defer cur.Close(ctx)

	snap := &Snapshot{}
	for cur.Next(ctx) {
		var doc userDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		var u game.User
		if err := json.Unmarshal(doc.Data, &u); err != nil {
			return nil, fmt.Errorf("decode user %s: %w", doc.Username, err)
		}
		snap.Users = append(snap.Users, u)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	var doc stateDoc
	err = m.state.FindOne(ctx, bson.M{"_id": "word"}).Decode(&doc)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
	case err != nil:
		return nil, fmt.Errorf("find word state: %w", err)
	default:
		var ws word.State
		if err := json.Unmarshal(doc.Data, &ws); err != nil {
			return nil, fmt.Errorf("decode word state: %w", err)
		}
		snap.Word = ws
	}
	return snap, nil
}

func (m *MongoStore) Save(ctx context.Context, snap *Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	if len(snap.Users) > 0 {
		models := make([]mongo.WriteModel, 0, len(snap.Users))
		for i := range snap.Users {
			u := &snap.Users[i]
			data, err := json.Marshal(u)
			if err != nil {
				return err
			}
			models = append(models, mongo.NewReplaceOneModel().
				SetFilter(bson.M{"_id": u.Username}).
				SetReplacement(userDoc{Username: u.Username, Seq: u.Seq, Data: data}).
				SetUpsert(true))
		}
		if _, err := m.users.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
			return fmt.Errorf("save users: %w", err)
		}
	}

	state, err := json.Marshal(snap.Word)
	if err != nil {
		return err
	}
	_, err = m.state.ReplaceOne(ctx, bson.M{"_id": "word"}, stateDoc{ID: "word", Data: state}, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save word state: %w", err)
	}
	return nil
}

func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}
