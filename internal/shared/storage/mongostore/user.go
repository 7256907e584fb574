package mongostore

import (
	"context"
	"time"

	"missions-admin/internal/shared/model"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// userDoc 用户的存储形态（model.User 只有 db tag，这里显式映射）
type userDoc struct {
	ID           string           `bson:"_id"`
	Email        string           `bson:"email"`
	Username     string           `bson:"username"`
	PasswordHash string           `bson:"password_hash"`
	Role         model.UserRole   `bson:"role"`
	Status       model.UserStatus `bson:"status"`
	CreatedAt    time.Time        `bson:"created_at"`
	UpdatedAt    time.Time        `bson:"updated_at"`
}

func (d *userDoc) toModel() *model.User {
	return &model.User{
		ID: d.ID, Email: d.Email, Username: d.Username, PasswordHash: d.PasswordHash,
		Role: d.Role, Status: d.Status, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

// ============================================================================
// UserStore
// ============================================================================

func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	doc := userDoc{
		ID: user.ID, Email: user.Email, Username: user.Username, PasswordHash: user.PasswordHash,
		Role: user.Role, Status: user.Status, CreatedAt: user.CreatedAt, UpdatedAt: user.UpdatedAt,
	}
	return insertOne(ctx, s.col(ColUsers), doc)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	doc, err := findOne[userDoc](ctx, s.col(ColUsers), bson.D{{Key: "email", Value: email}})
	if err != nil || doc == nil {
		return nil, err
	}
	return doc.toModel(), nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	doc, err := findOne[userDoc](ctx, s.col(ColUsers), bson.D{{Key: "_id", Value: id}})
	if err != nil || doc == nil {
		return nil, err
	}
	return doc.toModel(), nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	return updateFields(ctx, s.col(ColUsers), id, bson.D{
		{Key: "password_hash", Value: passwordHash},
		{Key: "updated_at", Value: time.Now().UTC()},
	})
}

func (s *Store) ListUsers(ctx context.Context) ([]*model.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	docs, err := findMany[userDoc](ctx, s.col(ColUsers), bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	users := make([]*model.User, 0, len(docs))
	for _, d := range docs {
		users = append(users, d.toModel())
	}
	return users, nil
}
