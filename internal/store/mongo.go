package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jjudge-oj/authserver/types"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const usersCollection = "users"

// MongoUserRepository stores one document per user in the users collection.
type MongoUserRepository struct {
	users *mongo.Collection
}

func NewMongoUserRepository(db *mongo.Database) *MongoUserRepository {
	return &MongoUserRepository{users: db.Collection(usersCollection)}
}

// EnsureIndexes creates the unique username and email indexes.
func (r *MongoUserRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("users_username_key"),
		},
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("users_email_key"),
		},
	})
	return err
}

func (r *MongoUserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	return r.findOne(ctx, bson.M{"username": username})
}

func (r *MongoUserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *MongoUserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now().UTC()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.RefreshTokenHash = nil
	user.RefreshTokenExpiresAt = nil

	if _, err := r.users.InsertOne(ctx, user); err != nil {
		return types.User{}, mapInsertError(err)
	}
	return user, nil
}

func (r *MongoUserRepository) SetRefreshToken(ctx context.Context, username, hash string, expiresAt time.Time) error {
	return r.updateSlot(ctx, username, bson.M{
		"refresh_token_hash":       hash,
		"refresh_token_expires_at": expiresAt,
		"updated_at":               time.Now().UTC(),
	})
}

func (r *MongoUserRepository) ClearRefreshToken(ctx context.Context, username string) error {
	return r.updateSlot(ctx, username, bson.M{
		"refresh_token_hash":       nil,
		"refresh_token_expires_at": nil,
		"updated_at":               time.Now().UTC(),
	})
}

func (r *MongoUserRepository) findOne(ctx context.Context, filter bson.M) (types.User, error) {
	return decodeUser(r.users.FindOne(ctx, filter))
}

func (r *MongoUserRepository) updateSlot(ctx context.Context, username string, fields bson.M) error {
	return slotUpdateResult(r.users.UpdateOne(ctx, bson.M{"username": username}, bson.M{"$set": fields}))
}

// decodeUser reads a user document and collapses a half-set refresh slot to
// the empty slot.
func decodeUser(result *mongo.SingleResult) (types.User, error) {
	var user types.User
	if err := result.Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	if !user.HasSession() {
		user.RefreshTokenHash = nil
		user.RefreshTokenExpiresAt = nil
	}
	return user, nil
}

func mapInsertError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return ErrConflict
	}
	return err
}

func slotUpdateResult(result *mongo.UpdateResult, err error) error {
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
