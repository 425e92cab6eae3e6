package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/pkg/apperror"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// userDoc is the persisted shape; bson tags, not json.
type userDoc struct {
	ID           string    `bson:"_id"`
	FirstName    string    `bson:"first_name"`
	LastName     string    `bson:"last_name"`
	Email        string    `bson:"email"`
	PasswordHash string    `bson:"password_hash"`
	CreatedAt    time.Time `bson:"created_at"`
}

func toDoc(u *domain.User) userDoc {
	return userDoc{
		ID:           u.ID,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
	}
}

func (d userDoc) toDomain() *domain.User {
	return &domain.User{
		ID:           d.ID,
		FirstName:    d.FirstName,
		LastName:     d.LastName,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		CreatedAt:    d.CreatedAt,
	}
}

// UserRepo implements ports.UserRepository on a MongoDB collection.
type UserRepo struct {
	collection *mongo.Collection
}

// NewUserRepo creates the repository over the "users" collection.
func NewUserRepo(client *mongo.Client, dbName string) *UserRepo {
	return &UserRepo{collection: client.Database(dbName).Collection("users")}
}

// EnsureIndexes creates the unique email index. Call once at startup.
func (r *UserRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create email index: %w", err)
	}
	return nil
}

// Create inserts the user. A duplicate email maps to the conflict the
// caller reports to the client.
func (r *UserRepo) Create(ctx context.Context, user *domain.User) error {
	if _, err := r.collection.InsertOne(ctx, toDoc(user)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.ErrEmailExists()
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *UserRepo) findOne(ctx context.Context, filter bson.M) (*domain.User, error) {
	var doc userDoc
	err := r.collection.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.ErrNotFound("user")
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return doc.toDomain(), nil
}

// List returns all users ordered by creation time.
func (r *UserRepo) List(ctx context.Context) ([]domain.User, error) {
	cursor, err := r.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer cursor.Close(ctx)

	var users []domain.User
	for cursor.Next(ctx) {
		var doc userDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		users = append(users, *doc.toDomain())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// Update replaces mutable fields; the id and creation time never change.
func (r *UserRepo) Update(ctx context.Context, user *domain.User) error {
	update := bson.M{"$set": bson.M{
		"first_name":    user.FirstName,
		"last_name":     user.LastName,
		"email":         user.Email,
		"password_hash": user.PasswordHash,
	}}
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": user.ID}, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.ErrEmailExists()
		}
		return fmt.Errorf("update user: %w", err)
	}
	if result.MatchedCount == 0 {
		return apperror.ErrNotFound("user")
	}
	return nil
}

func (r *UserRepo) Delete(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if result.DeletedCount == 0 {
		return apperror.ErrNotFound("user")
	}
	return nil
}
