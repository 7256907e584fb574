package mongostore

import (
	"context"
	"time"

	"missions-admin/internal/shared/model"
	"missions-admin/internal/shared/storagetypes"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// engineEventDoc 引擎事件的存储形态
//
// 与 model.EngineEvent 的差别只有 _id：这里交给 MongoDB 自动分配，
// model 里的自增 ID 是 SQL 后端的产物，聚合逻辑不依赖它。
type engineEventDoc struct {
	Type       model.EngineEventType `bson:"type"`
	MissionID  string                `bson:"mission_id,omitempty"`
	RunID      string                `bson:"run_id,omitempty"`
	DurationMs int64                 `bson:"duration_ms,omitempty"`
	Detail     string                `bson:"detail,omitempty"`
	CreatedAt  time.Time             `bson:"created_at"`
}

// ============================================================================
// EngineEventStore
// ============================================================================

func (s *Store) AppendEngineEvent(ctx context.Context, ev *model.EngineEvent) error {
	doc := engineEventDoc{
		Type:       ev.Type,
		MissionID:  ev.MissionID,
		RunID:      ev.RunID,
		DurationMs: ev.DurationMs,
		Detail:     ev.Detail,
		CreatedAt:  ev.CreatedAt,
	}
	return insertOne(ctx, s.col(ColEngineEvents), doc)
}

func (s *Store) ListEngineEvents(ctx context.Context, ef storagetypes.EngineEventFilter) ([]*model.EngineEvent, error) {
	filter := bson.D{}
	if !ef.Since.IsZero() {
		filter = append(filter, bson.E{Key: "created_at", Value: bson.D{{Key: "$gte", Value: ef.Since}}})
	}
	if ef.MissionID != "" {
		filter = append(filter, bson.E{Key: "mission_id", Value: ef.MissionID})
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if ef.Limit > 0 {
		opts.SetLimit(int64(ef.Limit))
	}

	docs, err := findMany[engineEventDoc](ctx, s.col(ColEngineEvents), filter, opts)
	if err != nil {
		return nil, err
	}
	events := make([]*model.EngineEvent, 0, len(docs))
	for _, d := range docs {
		events = append(events, &model.EngineEvent{
			Type:       d.Type,
			MissionID:  d.MissionID,
			RunID:      d.RunID,
			DurationMs: d.DurationMs,
			Detail:     d.Detail,
			CreatedAt:  d.CreatedAt,
		})
	}
	return events, nil
}

func (s *Store) CountEngineEvents(ctx context.Context, since time.Time) (int, error) {
	count, err := s.col(ColEngineEvents).CountDocuments(ctx,
		bson.D{{Key: "created_at", Value: bson.D{{Key: "$gte", Value: since}}}})
	return int(count), wrapError(err)
}
