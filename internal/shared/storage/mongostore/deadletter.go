package mongostore

import (
	"context"

	"missions-admin/internal/shared/model"
	"missions-admin/internal/shared/storagetypes"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ============================================================================
// DeadLetterStore
// ============================================================================

func (s *Store) CreateDeadLetter(ctx context.Context, dl *model.DeadLetter) error {
	return insertOne(ctx, s.col(ColDeadLetters), dl)
}

func (s *Store) GetDeadLetter(ctx context.Context, id string) (*model.DeadLetter, error) {
	return findOne[model.DeadLetter](ctx, s.col(ColDeadLetters), bson.D{{Key: "_id", Value: id}})
}

func (s *Store) ListDeadLetters(ctx context.Context, df storagetypes.DeadLetterFilter) ([]*model.DeadLetter, error) {
	filter := bson.D{}
	if df.MissionID != "" {
		filter = append(filter, bson.E{Key: "mission_id", Value: df.MissionID})
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	limit := df.Limit
	if limit <= 0 {
		limit = 50
	}
	opts.SetLimit(int64(limit))
	if df.Offset > 0 {
		opts.SetSkip(int64(df.Offset))
	}
	return findMany[model.DeadLetter](ctx, s.col(ColDeadLetters), filter, opts)
}
