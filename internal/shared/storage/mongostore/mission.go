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
// MissionStore
// ============================================================================

func (s *Store) CreateMission(ctx context.Context, m *model.Mission) error {
	return insertOne(ctx, s.col(ColMissions), m)
}

func (s *Store) GetMission(ctx context.Context, id string) (*model.Mission, error) {
	return findOne[model.Mission](ctx, s.col(ColMissions), bson.D{{Key: "_id", Value: id}})
}

func (s *Store) ListMissions(ctx context.Context, mf storagetypes.MissionFilter) ([]*model.Mission, error) {
	filter := bson.D{}
	if mf.UserID != "" {
		filter = append(filter, bson.E{Key: "user_id", Value: mf.UserID})
	}
	if mf.Enabled != nil {
		filter = append(filter, bson.E{Key: "enabled", Value: *mf.Enabled})
	}
	if mf.Mode != "" {
		filter = append(filter, bson.E{Key: "schedule.mode", Value: mf.Mode})
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	limit := mf.Limit
	if limit <= 0 {
		limit = 100
	}
	opts.SetLimit(int64(limit))
	if mf.Offset > 0 {
		opts.SetSkip(int64(mf.Offset))
	}
	return findMany[model.Mission](ctx, s.col(ColMissions), filter, opts)
}

func (s *Store) ListEnabledMissions(ctx context.Context) ([]*model.Mission, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	return findMany[model.Mission](ctx, s.col(ColMissions), bson.D{{Key: "enabled", Value: true}}, opts)
}

// UpsertMission 按提交的 ID 建或改
//
// MongoDB 侧用读-改两步实现：冲突窗口只影响并发编辑同一任务的
// 最后写入者获胜，与 SQL 实现的行为一致。
func (s *Store) UpsertMission(ctx context.Context, m *model.Mission) (*model.Mission, error) {
	existing, err := s.GetMission(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		if err := insertOne(ctx, s.col(ColMissions), m); err != nil {
			return nil, err
		}
		return s.GetMission(ctx, m.ID)
	}
	rearm := model.ScheduleChanged(existing.Schedule, m.Schedule)
	return s.updateContent(ctx, m.ID, m.ContentSnapshot(), rearm, m.UpdatedAt)
}

func (s *Store) UpdateMissionContent(ctx context.Context, id string, content model.MissionContent, rearm bool) (*model.Mission, error) {
	return s.updateContent(ctx, id, content, rearm, time.Now().UTC())
}

// updateContent 内容替换 + $inc 版本号 + 可选清空触发水位
func (s *Store) updateContent(ctx context.Context, id string, content model.MissionContent, rearm bool, updatedAt time.Time) (*model.Mission, error) {
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "label", Value: content.Label},
			{Key: "description", Value: content.Description},
			{Key: "output_integration", Value: content.OutputIntegration},
			{Key: "schedule", Value: content.Schedule},
			{Key: "steps", Value: content.Steps},
			{Key: "updated_at", Value: updatedAt},
		}},
		{Key: "$inc", Value: bson.D{{Key: "version", Value: 1}}},
	}
	if rearm {
		update = append(update, bson.E{Key: "$unset", Value: bson.D{{Key: "last_fired_at", Value: ""}}})
	}

	res, err := s.col(ColMissions).UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, update)
	if err != nil {
		return nil, wrapError(err)
	}
	if res.MatchedCount == 0 {
		return nil, nil
	}
	return s.GetMission(ctx, id)
}

func (s *Store) UpdateMissionEnabled(ctx context.Context, id string, enabled bool) error {
	return updateFields(ctx, s.col(ColMissions), id, bson.D{
		{Key: "enabled", Value: enabled},
		{Key: "updated_at", Value: time.Now().UTC()},
	})
}

func (s *Store) UpdateMissionFired(ctx context.Context, id string, firedAt time.Time) error {
	return updateFields(ctx, s.col(ColMissions), id, bson.D{
		{Key: "last_fired_at", Value: firedAt},
		{Key: "updated_at", Value: time.Now().UTC()},
	})
}

func (s *Store) ApplyRunOutcome(ctx context.Context, id string, success bool, endedAt time.Time) error {
	col := "stats.failure_count"
	if success {
		col = "stats.success_count"
	}
	update := bson.D{
		{Key: "$inc", Value: bson.D{
			{Key: "stats.run_count", Value: 1},
			{Key: col, Value: 1},
		}},
		{Key: "$set", Value: bson.D{
			{Key: "stats.last_run_at", Value: endedAt},
			{Key: "updated_at", Value: time.Now().UTC()},
		}},
	}
	_, err := s.col(ColMissions).UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, update)
	return wrapError(err)
}

func (s *Store) DeleteMission(ctx context.Context, id string) error {
	if _, err := s.col(ColMissionRuns).DeleteMany(ctx, bson.D{{Key: "mission_id", Value: id}}); err != nil {
		return wrapError(err)
	}
	if _, err := s.col(ColMissionVersions).DeleteMany(ctx, bson.D{{Key: "mission_id", Value: id}}); err != nil {
		return wrapError(err)
	}
	return deleteByID(ctx, s.col(ColMissions), id)
}
