package calls

import (
	"context"
	"errors"
	"strings"
	"time"

	"survey-platform/pkg/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionName = "cati_call_records"

type MongoRepo struct {
	coll *mongo.Collection
}

func NewMongoRepo(db *mongo.Database) *MongoRepo {
	return &MongoRepo{coll: db.Collection(collectionName)}
}

func (r *MongoRepo) EnsureIndexes(ctx context.Context) error {
	if err := utils.EnsureIndex(ctx, r.coll, bson.D{{Key: "providerCallId", Value: 1}}, true); err != nil {
		return err
	}
	if err := utils.EnsureIndex(ctx, r.coll, bson.D{{Key: "providerCallKey", Value: 1}}, false); err != nil {
		return err
	}
	if err := utils.EnsureIndex(ctx, r.coll, bson.D{
		{Key: "toKey", Value: 1}, {Key: "webhookReceived", Value: 1}, {Key: "createdAt", Value: -1},
	}, false); err != nil {
		return err
	}
	return utils.EnsureIndex(ctx, r.coll, bson.D{
		{Key: "surveyId", Value: 1}, {Key: "webhookReceived", Value: 1}, {Key: "createdAt", Value: 1},
	}, false)
}

func (r *MongoRepo) Create(ctx context.Context, rec Record) error {
	_, err := r.coll.InsertOne(ctx, rec)
	if mongo.IsDuplicateKeyError(err) {
		return ErrConflict
	}
	return err
}

func (r *MongoRepo) findOne(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (Record, error) {
	var rec Record
	err := r.coll.FindOne(ctx, filter, opts...).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

func (r *MongoRepo) Get(ctx context.Context, id string) (Record, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoRepo) FindByProviderCallID(ctx context.Context, providerCallID string) (Record, error) {
	if providerCallID == "" {
		return Record{}, ErrInvalidArgument
	}
	rec, err := r.findOne(ctx, bson.M{"providerCallId": providerCallID})
	if !errors.Is(err, ErrNotFound) {
		return rec, err
	}
	return r.findOne(ctx, bson.M{"providerCallKey": strings.ToLower(providerCallID)})
}

func (r *MongoRepo) FindUnreconciled(ctx context.Context, fromKey, toKey string, since time.Time) (Record, error) {
	if toKey == "" {
		return Record{}, ErrInvalidArgument
	}
	filter := bson.M{
		"toKey":           toKey,
		"webhookReceived": false,
		"createdAt":       bson.M{"$gte": since},
	}
	if fromKey != "" {
		filter["fromKey"] = fromKey
	}
	return r.findOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
}

func (r *MongoRepo) Update(ctx context.Context, rec Record, expected int64) error {
	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": rec.ID, "version": expected}, rec)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrConflict
	}
	return nil
}

func (r *MongoRepo) List(ctx context.Context, f Filter) ([]Record, error) {
	filter := bson.M{"webhookReceived": true}
	if f.SurveyID != "" {
		filter["surveyId"] = f.SurveyID
	}
	if f.InterviewerID != "" {
		filter["interviewerId"] = f.InterviewerID
	}
	created := bson.M{}
	if !f.From.IsZero() {
		created["$gte"] = f.From
	}
	if !f.To.IsZero() {
		created["$lt"] = f.To
	}
	if len(created) > 0 {
		filter["createdAt"] = created
	}

	cur, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := make([]Record, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
