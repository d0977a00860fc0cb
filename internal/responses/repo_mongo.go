package responses

import (
	"context"
	"errors"

	"survey-platform/pkg/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionName = "survey_responses"

type MongoRepo struct {
	coll *mongo.Collection
}

func NewMongoRepo(db *mongo.Database) *MongoRepo {
	return &MongoRepo{coll: db.Collection(collectionName)}
}

func (r *MongoRepo) EnsureIndexes(ctx context.Context) error {
	idx := []struct {
		keys   bson.D
		unique bool
	}{
		{bson.D{{Key: "sessionId", Value: 1}}, true},
		{bson.D{{Key: "contentHash", Value: 1}}, true},
		{bson.D{{Key: "surveyId", Value: 1}, {Key: "contactKey", Value: 1}}, false},
		{bson.D{{Key: "surveyId", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}, false},
		{bson.D{{Key: "interviewerId", Value: 1}, {Key: "callId", Value: 1}}, false},
	}
	for _, i := range idx {
		if err := utils.EnsureIndex(ctx, r.coll, i.keys, i.unique); err != nil {
			return err
		}
	}
	return nil
}

func (r *MongoRepo) Create(ctx context.Context, resp Response) error {
	_, err := r.coll.InsertOne(ctx, resp)
	if mongo.IsDuplicateKeyError(err) {
		return ErrConflict
	}
	return err
}

func (r *MongoRepo) findOne(ctx context.Context, filter bson.M) (Response, error) {
	var resp Response
	err := r.coll.FindOne(ctx, filter).Decode(&resp)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Response{}, ErrNotFound
	}
	return resp, err
}

func (r *MongoRepo) Get(ctx context.Context, id string) (Response, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoRepo) FindBySession(ctx context.Context, sessionID string) (Response, error) {
	if sessionID == "" {
		return Response{}, ErrInvalidArgument
	}
	return r.findOne(ctx, bson.M{"sessionId": sessionID})
}

func (r *MongoRepo) FindByContentHash(ctx context.Context, hash string) (Response, error) {
	if hash == "" {
		return Response{}, ErrInvalidArgument
	}
	return r.findOne(ctx, bson.M{"contentHash": hash})
}

func (r *MongoRepo) Update(ctx context.Context, resp Response, expected int64) error {
	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": resp.ID, "version": expected}, resp)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrConflict
	}
	return nil
}

func (r *MongoRepo) List(ctx context.Context, f Filter, after Cursor, limit int) ([]Response, error) {
	and := bson.A{}
	if f.SurveyID != "" {
		and = append(and, bson.M{"surveyId": f.SurveyID})
	}
	if f.InterviewerID != "" {
		and = append(and, bson.M{"interviewerId": f.InterviewerID})
	}
	if f.Mode != "" {
		and = append(and, bson.M{"mode": f.Mode})
	}
	if !f.From.IsZero() {
		and = append(and, bson.M{"createdAt": bson.M{"$gte": f.From}})
	}
	if !f.To.IsZero() {
		and = append(and, bson.M{"createdAt": bson.M{"$lt": f.To}})
	}
	if !after.CreatedAt.IsZero() || after.ID != "" {
		and = append(and, bson.M{"$or": bson.A{
			bson.M{"createdAt": bson.M{"$gt": after.CreatedAt}},
			bson.M{"createdAt": after.CreatedAt, "_id": bson.M{"$gt": after.ID}},
		}})
	}
	filter := bson.M{}
	if len(and) > 0 {
		filter["$and"] = and
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var out []Response
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoRepo) ContactUsed(ctx context.Context, surveyID, contactKey string, before Cursor) (bool, error) {
	if contactKey == "" {
		return false, nil
	}
	n, err := r.coll.CountDocuments(ctx, bson.M{
		"surveyId":   surveyID,
		"contactKey": contactKey,
		"$or": bson.A{
			bson.M{"createdAt": bson.M{"$lt": before.CreatedAt}},
			bson.M{"createdAt": before.CreatedAt, "_id": bson.M{"$lt": before.ID}},
		},
	}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
