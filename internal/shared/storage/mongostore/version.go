package mongostore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"missions-admin/internal/shared/model"
	"missions-admin/internal/shared/storagetypes"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// newVersionID 生成版本记录 ID
func newVersionID() string {
	b := make([]byte, 6)
	rand.Read(b)
	return "ver-" + hex.EncodeToString(b)
}

// ============================================================================
// VersionStore
// ============================================================================

func (s *Store) AppendVersion(ctx context.Context, rec *model.VersionRecord) error {
	return insertOne(ctx, s.col(ColMissionVersions), rec)
}

func (s *Store) GetVersion(ctx context.Context, missionID, versionID string) (*model.VersionRecord, error) {
	return findOne[model.VersionRecord](ctx, s.col(ColMissionVersions), bson.D{
		{Key: "_id", Value: versionID},
		{Key: "mission_id", Value: missionID},
	})
}

func (s *Store) ListVersions(ctx context.Context, vf storagetypes.VersionFilter) ([]*model.VersionRecord, error) {
	limit := vf.Limit
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	return findMany[model.VersionRecord](ctx, s.col(ColMissionVersions),
		bson.D{{Key: "mission_id", Value: vf.MissionID}}, opts)
}

// RestoreVersion 恢复任务内容到目标版本
//
// 写入顺序固定：备份记录先落盘，再替换活动内容，最后写恢复记录。
// MongoDB 单机部署没有多文档事务，顺序写保证中途失败的最坏结果
// 是一条多余的备份记录，绝不会出现没有备份的恢复记录。
func (s *Store) RestoreVersion(ctx context.Context, missionID, versionID, reason, actorID string) (*model.RestoreOutcome, error) {
	mission, err := s.GetMission(ctx, missionID)
	if err != nil || mission == nil {
		return nil, err
	}
	target, err := s.GetVersion(ctx, missionID, versionID)
	if err != nil || target == nil {
		return nil, err
	}

	now := time.Now().UTC()
	backupID := newVersionID()
	backup := &model.VersionRecord{
		VersionID:            backupID,
		MissionID:            missionID,
		ActorID:              actorID,
		EventType:            model.VersionEventPreRestoreBackup,
		Reason:               reason,
		SourceMissionVersion: mission.Version,
		Content:              mission.ContentSnapshot(),
		CreatedAt:            now,
	}
	if err := insertOne(ctx, s.col(ColMissionVersions), backup); err != nil {
		return nil, err
	}

	rearm := model.ScheduleChanged(mission.Schedule, target.Content.Schedule)
	updated, err := s.updateContent(ctx, missionID, target.Content, rearm, now)
	if err != nil {
		return nil, err
	}

	restore := &model.VersionRecord{
		VersionID:            newVersionID(),
		MissionID:            missionID,
		ActorID:              actorID,
		EventType:            model.VersionEventRestore,
		Reason:               reason,
		SourceMissionVersion: mission.Version + 1,
		Content:              target.Content,
		RestoredVersionID:    versionID,
		BackupVersionID:      backupID,
		CreatedAt:            now.Add(time.Millisecond),
	}
	if err := insertOne(ctx, s.col(ColMissionVersions), restore); err != nil {
		return nil, err
	}

	return &model.RestoreOutcome{
		Mission:           updated,
		RestoredVersionID: versionID,
		BackupVersionID:   backupID,
	}, nil
}
