package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"community/pkg/models"
	"community/pkg/storage"
)

var (
	ErrConnectDB       = fmt.Errorf("unable to establish DB connection")
	ErrDBNotResponding = fmt.Errorf("DB not responding")
)

type Storage struct {
	client   *mongo.Client
	dbName   string
	collName string
}

// New connects to Mongo, verifies the server answers and prepares the comments
// collection. The returned Storage owns the client until Close.
func New(ctx context.Context, conf *Config) (*Storage, error) {
	client, err := mongo.Connect(ctx, conf.Options())
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %v", storage.ErrUnavailable, ErrConnectDB, err)
	}

	s := Storage{client: client, dbName: conf.DBName, collName: conf.Collection}
	if s.collName == "" {
		s.collName = defaultCollection
	}

	if err := s.Ping(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	if err := s.createCollection(ctx, s.collName); err != nil {
		client.Disconnect(context.Background())
		return nil, wrapErr(err)
	}
	if err := s.ensureIndexes(ctx); err != nil {
		log.Warnf("[mongo] failed to create indexes on %s: %v", s.collName, err)
	}

	return &s, nil
}

func (s *Storage) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("%w: %w: %v", storage.ErrUnavailable, ErrDBNotResponding, err)
	}
	return nil
}

func (s *Storage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Storage) coll() *mongo.Collection {
	return s.client.Database(s.dbName).Collection(s.collName)
}

// CreateComment inserts the comment as is. Callers assign the ID and timestamps.
func (s *Storage) CreateComment(ctx context.Context, comment models.Comment) (models.Comment, error) {
	if comment.LikedBy == nil {
		comment.LikedBy = []string{}
	}
	comment.Likes = len(comment.LikedBy)

	_, err := s.coll().InsertOne(ctx, comment)
	if err != nil {
		return models.Comment{}, wrapErr(err)
	}

	return comment, nil
}

func (s *Storage) Comment(ctx context.Context, id string) (models.Comment, error) {
	var c models.Comment
	err := s.coll().FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if err != nil {
		return models.Comment{}, wrapErr(err)
	}

	return c, nil
}

// Comments returns every comment and reply of the page sorted by creation time
// ascending. Comments created within the same millisecond keep their insertion
// order through seq.
func (s *Storage) Comments(ctx context.Context, pageContext string) ([]models.Comment, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "seq", Value: 1},
		{Key: "_id", Value: 1},
	})

	cur, err := s.coll().Find(ctx, bson.M{"page_context": pageContext}, opts)
	if err != nil {
		return nil, wrapErr(err)
	}

	comments := make([]models.Comment, 0)
	if err := cur.All(ctx, &comments); err != nil {
		return nil, wrapErr(err)
	}

	return comments, nil
}

// ToggleLike flips the viewer's membership in liked_by and recomputes likes from
// the resulting set in a single pipeline update, so concurrent toggles by
// different viewers cannot overwrite each other.
func (s *Storage) ToggleLike(ctx context.Context, id, viewerID string, at time.Time) (models.Comment, error) {
	viewer := bson.D{{Key: "$literal", Value: viewerID}}
	likedBy := bson.D{{Key: "$ifNull", Value: bson.A{"$liked_by", bson.A{}}}}

	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "liked_by", Value: bson.D{{Key: "$cond", Value: bson.D{
				{Key: "if", Value: bson.D{{Key: "$in", Value: bson.A{viewer, likedBy}}}},
				{Key: "then", Value: bson.D{{Key: "$filter", Value: bson.D{
					{Key: "input", Value: likedBy},
					{Key: "cond", Value: bson.D{{Key: "$ne", Value: bson.A{"$$this", viewer}}}},
				}}}},
				{Key: "else", Value: bson.D{{Key: "$concatArrays", Value: bson.A{likedBy, bson.A{viewer}}}}},
			}}}},
			{Key: "updated_at", Value: at},
		}}},
		{{Key: "$set", Value: bson.D{
			{Key: "likes", Value: bson.D{{Key: "$size", Value: "$liked_by"}}},
		}}},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var c models.Comment
	err := s.coll().FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&c)
	if err != nil {
		return models.Comment{}, wrapErr(err)
	}

	return c, nil
}

// DeleteComment removes the comment and all replies that point to it.
func (s *Storage) DeleteComment(ctx context.Context, id string) (bool, error) {
	coll := s.coll()

	res, err := coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, wrapErr(err)
	}

	replies, err := coll.DeleteMany(ctx, bson.M{"parent_id": id})
	if err != nil {
		return false, wrapErr(err)
	}
	if replies.DeletedCount > 0 {
		log.Debugf("[mongo] removed %d replies of comment %s", replies.DeletedCount, id)
	}

	return res.DeletedCount > 0, nil
}

func (s *Storage) Stats(ctx context.Context, pageContext string) (models.Stats, error) {
	coll := s.coll()

	comments, err := coll.CountDocuments(ctx, bson.M{"page_context": pageContext, "is_reply": false})
	if err != nil {
		return models.Stats{}, wrapErr(err)
	}
	replies, err := coll.CountDocuments(ctx, bson.M{"page_context": pageContext, "is_reply": true})
	if err != nil {
		return models.Stats{}, wrapErr(err)
	}

	return models.Stats{TotalComments: comments, TotalReplies: replies}, nil
}

// createCollection creates a collection with the given name in the database if it doesn't already exist.
func (s *Storage) createCollection(ctx context.Context, collName string) error {
	collExists, err := collectionExists(ctx, s.client.Database(s.dbName), collName)
	if err != nil {
		return err
	}

	if !collExists {
		err := s.client.Database(s.dbName).CreateCollection(ctx, collName)
		if err != nil {
			return err
		}
		log.Infof("[mongo] created collection %s.%s", s.dbName, collName)
	}

	return nil
}

func (s *Storage) ensureIndexes(ctx context.Context) error {
	_, err := s.coll().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "page_context", Value: 1}, {Key: "created_at", Value: 1}, {Key: "seq", Value: 1}}},
		{Keys: bson.D{{Key: "parent_id", Value: 1}}},
	})
	return err
}

// collectionExists checks if a collection with the given name exists in the database.
func collectionExists(ctx context.Context, db *mongo.Database, collName string) (bool, error) {
	names, err := db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return false, fmt.Errorf("failed to list collection names: %w", err)
	}

	for _, name := range names {
		if name == collName {
			return true, nil
		}
	}

	return false, nil
}

// wrapErr translates driver errors into storage errors.
func wrapErr(err error) error {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return storage.ErrCommentNotFound
	case mongo.IsTimeout(err),
		mongo.IsNetworkError(err),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, mongo.ErrClientDisconnected):
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return err
}

func commandMonitor() *event.CommandMonitor {
	return &event.CommandMonitor{
		Succeeded: func(ctx context.Context, evt *event.CommandSucceededEvent) {
			if evt.Duration > 200*time.Millisecond {
				log.Warnf("[mongo] slow %s took %v", evt.CommandName, evt.Duration)
				return
			}
			log.Debugf("[mongo] %s took %v", evt.CommandName, evt.Duration)
		},
		Failed: func(ctx context.Context, evt *event.CommandFailedEvent) {
			log.Errorf("[mongo] %s failed after %v: %v", evt.CommandName, evt.Duration, evt.Failure)
		},
	}
}
