package mongostore

import (
	"context"
	"time"

	"missions-admin/internal/shared/model"
	"missions-admin/internal/shared/storagetypes"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ============================================================================
// RunStore
// ============================================================================

func (s *Store) CreateRun(ctx context.Context, run *model.MissionRun) error {
	return insertOne(ctx, s.col(ColMissionRuns), run)
}

func (s *Store) GetRun(ctx context.Context, id string) (*model.MissionRun, error) {
	return findOne[model.MissionRun](ctx, s.col(ColMissionRuns), bson.D{{Key: "_id", Value: id}})
}

func (s *Store) ListRuns(ctx context.Context, rf storagetypes.RunFilter) ([]*model.MissionRun, error) {
	filter := bson.D{}
	if rf.MissionID != "" {
		filter = append(filter, bson.E{Key: "mission_id", Value: rf.MissionID})
	}
	if rf.UserID != "" {
		filter = append(filter, bson.E{Key: "user_id", Value: rf.UserID})
	}
	if rf.Status != "" {
		filter = append(filter, bson.E{Key: "status", Value: rf.Status})
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	limit := rf.Limit
	if limit <= 0 {
		limit = 50
	}
	opts.SetLimit(int64(limit))
	if rf.Offset > 0 {
		opts.SetSkip(int64(rf.Offset))
	}
	return findMany[model.MissionRun](ctx, s.col(ColMissionRuns), filter, opts)
}

func (s *Store) ListStaleQueuedRuns(ctx context.Context, threshold time.Duration) ([]*model.MissionRun, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	filter := bson.D{
		{Key: "status", Value: model.RunStatusQueued},
		{Key: "created_at", Value: bson.D{{Key: "$lt", Value: cutoff}}},
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}).SetLimit(100)
	return findMany[model.MissionRun](ctx, s.col(ColMissionRuns), filter, opts)
}

func (s *Store) MarkRunRunning(ctx context.Context, id string, startedAt time.Time) error {
	return updateFields(ctx, s.col(ColMissionRuns), id, bson.D{
		{Key: "status", Value: model.RunStatusRunning},
		{Key: "started_at", Value: startedAt},
	})
}

func (s *Store) FinishRun(ctx context.Context, run *model.MissionRun) error {
	return updateFields(ctx, s.col(ColMissionRuns), run.ID, bson.D{
		{Key: "status", Value: run.Status},
		{Key: "success", Value: run.Success},
		{Key: "reason", Value: run.Reason},
		{Key: "traces", Value: run.Traces},
		{Key: "results", Value: run.Results},
		{Key: "novachat_queued", Value: run.NovachatQueued},
		{Key: "duration_ms", Value: run.DurationMs},
		{Key: "attempts", Value: run.Attempts},
		{Key: "ended_at", Value: run.EndedAt},
	})
}

func (s *Store) UpdateRunAttempts(ctx context.Context, id string, attempts int) error {
	return updateFields(ctx, s.col(ColMissionRuns), id, bson.D{{Key: "attempts", Value: attempts}})
}
