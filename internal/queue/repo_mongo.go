package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"survey-platform/pkg/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionName = "cati_respondent_queue"

// MongoRepo stores queue entries in MongoDB. Assignment races are settled by
// ReplaceOne with a {_id, version, status} filter.

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
		{bson.D{{Key: "surveyId", Value: 1}, {Key: "phoneKey", Value: 1}}, true},
		{bson.D{{Key: "surveyId", Value: 1}, {Key: "status", Value: 1}, {Key: "acKey", Value: 1}, {Key: "priority", Value: 1}}, false},
		{bson.D{{Key: "surveyId", Value: 1}, {Key: "status", Value: 1}, {Key: "createdAt", Value: 1}}, false},
		{bson.D{{Key: "phoneKey", Value: 1}, {Key: "status", Value: 1}}, false},
		{bson.D{{Key: "surveyId", Value: 1}, {Key: "assignedTo", Value: 1}, {Key: "status", Value: 1}}, false},
	}
	for _, i := range idx {
		if err := utils.EnsureIndex(ctx, r.coll, i.keys, i.unique); err != nil {
			return err
		}
	}
	return nil
}

func (r *MongoRepo) InsertMany(ctx context.Context, entries []Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	docs := make([]any, len(entries))
	for i := range entries {
		docs[i] = entries[i]
	}
	_, err := r.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return len(entries), nil
	}

	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil {
		return 0, fmt.Errorf("queue insert: %w", err)
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != 11000 {
			return 0, fmt.Errorf("queue insert: %w", err)
		}
	}
	// Duplicate phones lost a race with a concurrent initialization.
	return len(entries) - len(bwe.WriteErrors), nil
}

func (r *MongoRepo) ExistingPhones(ctx context.Context, surveyID string, phoneKeys []string) (map[string]bool, error) {
	out := map[string]bool{}
	if len(phoneKeys) == 0 {
		return out, nil
	}
	opts := options.Find().SetProjection(bson.M{"phoneKey": 1})
	cur, err := r.coll.Find(ctx, bson.M{"surveyId": surveyID, "phoneKey": bson.M{"$in": phoneKeys}}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var row struct {
			PhoneKey string `bson:"phoneKey"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		out[row.PhoneKey] = true
	}
	return out, cur.Err()
}

func (r *MongoRepo) Get(ctx context.Context, id string) (Entry, error) {
	var e Entry
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

func filterDoc(f Filter) bson.M {
	and := bson.A{
		bson.M{"surveyId": f.SurveyID},
		bson.M{"status": StatusPending},
	}
	if f.NoAC {
		and = append(and, bson.M{"acKey": ""})
	}
	if f.RequireAC {
		and = append(and, bson.M{"acKey": bson.M{"$ne": ""}})
	}
	if len(f.ACIn) > 0 {
		and = append(and, bson.M{"acKey": bson.M{"$in": f.ACIn}})
	}
	if len(f.ACNotIn) > 0 {
		and = append(and, bson.M{"acKey": bson.M{"$nin": f.ACNotIn}})
	}
	switch f.Band {
	case BandBoosted:
		and = append(and, bson.M{"priority": bson.M{"$gt": 0}})
	case BandDefault:
		and = append(and, bson.M{"priority": 0})
	case BandRequeued:
		and = append(and, bson.M{"priority": bson.M{"$lt": 0}})
	}
	return bson.M{"$and": and}
}

func (r *MongoRepo) Candidates(ctx context.Context, f Filter, order Order, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 1
	}
	var (
		cur *mongo.Cursor
		err error
	)
	if order == OrderOldest {
		opts := options.Find().
			SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
			SetLimit(int64(limit))
		cur, err = r.coll.Find(ctx, filterDoc(f), opts)
	} else {
		pipeline := mongo.Pipeline{
			{{Key: "$match", Value: filterDoc(f)}},
			{{Key: "$sample", Value: bson.M{"size": limit}}},
		}
		cur, err = r.coll.Aggregate(ctx, pipeline)
	}
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []Entry
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoRepo) CompareAndSwap(ctx context.Context, next Entry, expected int64, from []Status) error {
	filter := bson.M{"_id": next.ID, "version": expected}
	if len(from) > 0 {
		filter["status"] = bson.M{"$in": from}
	}
	res, err := r.coll.ReplaceOne(ctx, filter, next)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrConflict
	}
	return nil
}

var activeStatuses = []Status{StatusAssigned, StatusCalling}

func (r *MongoRepo) ActiveByPhone(ctx context.Context, phoneKey, excludeID string) (bool, error) {
	n, err := r.coll.CountDocuments(ctx, bson.M{
		"phoneKey": phoneKey,
		"status":   bson.M{"$in": activeStatuses},
		"_id":      bson.M{"$ne": excludeID},
	}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *MongoRepo) ActiveByInterviewer(ctx context.Context, surveyID, interviewerID string) (Entry, error) {
	var e Entry
	err := r.coll.FindOne(ctx, bson.M{
		"surveyId":   surveyID,
		"assignedTo": interviewerID,
		"status":     bson.M{"$in": activeStatuses},
	}).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

func (r *MongoRepo) ListActiveBefore(ctx context.Context, surveyID string, before time.Time) ([]Entry, error) {
	cur, err := r.coll.Find(ctx, bson.M{
		"surveyId":  surveyID,
		"status":    bson.M{"$in": activeStatuses},
		"updatedAt": bson.M{"$lt": before},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []Entry
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoRepo) CountByStatus(ctx context.Context, surveyID string) (map[Status]int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"surveyId": surveyID}}},
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	}
	cur, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := map[Status]int{}
	for cur.Next(ctx) {
		var row struct {
			Status Status `bson:"_id"`
			Count  int    `bson:"count"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		out[row.Status] = row.Count
	}
	return out, cur.Err()
}

func (r *MongoRepo) ResetNonTerminal(ctx context.Context, surveyID string, now time.Time) (int, error) {
	res, err := r.coll.UpdateMany(ctx,
		bson.M{
			"surveyId": surveyID,
			"status": bson.M{"$nin": []Status{
				StatusPending, StatusInterviewSuccess, StatusDoesNotExist, StatusRejected,
			}},
		},
		bson.M{
			"$set":   bson.M{"status": StatusPending, "updatedAt": now},
			"$unset": bson.M{"assignedTo": "", "assignedAt": ""},
			"$inc":   bson.M{"version": 1},
		},
	)
	if err != nil {
		return 0, err
	}
	return int(res.ModifiedCount), nil
}
