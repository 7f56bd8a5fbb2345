package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type accountCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) *mongo.SingleResult
}

type communityCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

// AccountRepository persists verification and bot credential state on accounts.
type AccountRepository struct {
	collection accountCollection
}

// NewAccountRepository constructs an AccountRepository.
func NewAccountRepository(collection accountCollection) *AccountRepository {
	return &AccountRepository{collection: collection}
}

// GetByID fetches an account by its platform account_id.
func (r *AccountRepository) GetByID(ctx context.Context, accountID string) (Account, error) {
	if err := r.check(ctx, accountID); err != nil {
		return Account{}, err
	}

	return decodeAccount(r.collection.FindOne(ctx, bson.M{"account_id": accountID}), "find account")
}

// SetVerificationCode stores code as the outstanding code and resets the
// attempt counter. When initial is true the code is also recorded as the
// account's initial code. The account is created when missing.
func (r *AccountRepository) SetVerificationCode(ctx context.Context, accountID, code string, initial bool) error {
	if err := r.check(ctx, accountID); err != nil {
		return err
	}
	if strings.TrimSpace(code) == "" {
		return errors.New("verification code is required")
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	setFields := bson.M{
		"verification_code":     code,
		"verification_attempts": 0,
		"updated_at":            now,
	}
	if initial {
		setFields["initial_verification_code"] = code
	}

	_, err := r.collection.UpdateOne(ctx,
		bson.M{"account_id": accountID},
		bson.M{
			"$set": setFields,
			"$setOnInsert": bson.M{
				"account_id": accountID,
				"created_at": now,
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return &PersistenceError{Op: "store verification code", Err: err}
	}

	return nil
}

// ClearVerificationCode marks the outstanding code as consumed.
func (r *AccountRepository) ClearVerificationCode(ctx context.Context, accountID string) error {
	if err := r.check(ctx, accountID); err != nil {
		return err
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"account_id": accountID},
		bson.M{"$set": bson.M{
			"verification_code":     nil,
			"verification_attempts": 0,
			"updated_at":            time.Now().UTC().Truncate(time.Millisecond),
		}},
	)
	if err != nil {
		return &PersistenceError{Op: "clear verification code", Err: err}
	}
	if result != nil && result.MatchedCount == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// IncrementAttempts bumps the failed verification counter and returns the new
// value.
func (r *AccountRepository) IncrementAttempts(ctx context.Context, accountID string) (int, error) {
	if err := r.check(ctx, accountID); err != nil {
		return 0, err
	}

	result := r.collection.FindOneAndUpdate(ctx,
		bson.M{"account_id": accountID},
		bson.M{
			"$inc": bson.M{"verification_attempts": 1},
			"$set": bson.M{"updated_at": time.Now().UTC().Truncate(time.Millisecond)},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)

	account, err := decodeAccount(result, "increment verification attempts")
	if err != nil {
		return 0, err
	}

	return account.VerificationAttempts, nil
}

// SetCustomBot stores the account's bot preference. An empty token keeps the
// stored token and only toggles the preference.
func (r *AccountRepository) SetCustomBot(ctx context.Context, accountID, token string, enabled bool) error {
	if err := r.check(ctx, accountID); err != nil {
		return err
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	setFields := bson.M{
		"use_custom_bot": enabled,
		"updated_at":     now,
	}
	if trimmed := strings.TrimSpace(token); trimmed != "" {
		setFields["custom_bot_token"] = trimmed
	}

	_, err := r.collection.UpdateOne(ctx,
		bson.M{"account_id": accountID},
		bson.M{
			"$set": setFields,
			"$setOnInsert": bson.M{
				"account_id": accountID,
				"created_at": now,
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return &PersistenceError{Op: "store bot preference", Err: err}
	}

	return nil
}

func (r *AccountRepository) check(ctx context.Context, accountID string) error {
	if r == nil || r.collection == nil {
		return errors.New("account repository is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if strings.TrimSpace(accountID) == "" {
		return errors.New("account_id is required")
	}
	return nil
}

func decodeAccount(result *mongo.SingleResult, op string) (Account, error) {
	if result == nil {
		return Account{}, &PersistenceError{Op: op, Err: errors.New("no result")}
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, &PersistenceError{Op: op, Err: err}
	}

	var account Account
	if err := result.Decode(&account); err != nil {
		return Account{}, &PersistenceError{Op: "decode account", Err: err}
	}

	return account, nil
}

// CommunityRepository persists and retrieves communities in MongoDB.
type CommunityRepository struct {
	collection communityCollection
}

// NewCommunityRepository constructs a CommunityRepository.
func NewCommunityRepository(collection communityCollection) *CommunityRepository {
	return &CommunityRepository{collection: collection}
}

// Create inserts a community, assigning an id and timestamps when missing.
// A unique index violation on chat_id is reported as ErrDuplicateChat.
func (r *CommunityRepository) Create(ctx context.Context, community Community) (Community, error) {
	if err := r.check(ctx); err != nil {
		return Community{}, err
	}
	if community.ChatID == 0 {
		return Community{}, errors.New("chat_id is required")
	}
	if strings.TrimSpace(community.OwnerID) == "" {
		return Community{}, errors.New("owner_id is required")
	}
	if community.ID == "" {
		community.ID = uuid.NewString()
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	if community.CreatedAt.IsZero() {
		community.CreatedAt = now
	}
	community.UpdatedAt = community.CreatedAt

	if _, err := r.collection.InsertOne(ctx, community); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return Community{}, fmt.Errorf("insert community %d: %w", community.ChatID, ErrDuplicateChat)
		}
		return Community{}, &PersistenceError{Op: "insert community", Err: err}
	}

	return community, nil
}

// UpdateOwned refreshes the mutable fields of the community bound to
// community.ChatID, only while it is still owned by community.OwnerID. Empty
// photo and invite link values leave the stored ones in place.
func (r *CommunityRepository) UpdateOwned(ctx context.Context, community Community) (Community, error) {
	if err := r.check(ctx); err != nil {
		return Community{}, err
	}
	if community.ChatID == 0 {
		return Community{}, errors.New("chat_id is required")
	}

	setFields := bson.M{
		"name":       community.Name,
		"updated_at": time.Now().UTC().Truncate(time.Millisecond),
	}
	if community.ChatType != "" {
		setFields["chat_type"] = community.ChatType
	}
	if community.PhotoFileID != "" {
		setFields["photo_file_id"] = community.PhotoFileID
	}
	if community.InviteLink != "" {
		setFields["invite_link"] = community.InviteLink
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"chat_id": community.ChatID, "owner_id": community.OwnerID},
		bson.M{"$set": setFields},
	)
	if err != nil {
		return Community{}, &PersistenceError{Op: "update community", Err: err}
	}
	if result != nil && result.MatchedCount == 0 {
		return Community{}, &ConflictError{ChatID: community.ChatID}
	}

	return r.GetByChatID(ctx, community.ChatID)
}

// GetByChatID fetches a community by Telegram chat_id.
func (r *CommunityRepository) GetByChatID(ctx context.Context, chatID int64) (Community, error) {
	if err := r.check(ctx); err != nil {
		return Community{}, err
	}
	if chatID == 0 {
		return Community{}, errors.New("chat_id is required")
	}

	result := r.collection.FindOne(ctx, bson.M{"chat_id": chatID})
	if result == nil {
		return Community{}, &PersistenceError{Op: "find community", Err: errors.New("no result")}
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Community{}, ErrCommunityNotFound
		}
		return Community{}, &PersistenceError{Op: "find community", Err: err}
	}

	var community Community
	if err := result.Decode(&community); err != nil {
		return Community{}, &PersistenceError{Op: "decode community", Err: err}
	}

	return community, nil
}

// GetOwned fetches a community by its id, only when ownerID owns it. Any
// other owner gets ErrCommunityNotFound.
func (r *CommunityRepository) GetOwned(ctx context.Context, ownerID, communityID string) (Community, error) {
	if err := r.check(ctx); err != nil {
		return Community{}, err
	}
	if strings.TrimSpace(ownerID) == "" || strings.TrimSpace(communityID) == "" {
		return Community{}, errors.New("owner_id and community_id are required")
	}

	result := r.collection.FindOne(ctx, bson.M{"community_id": communityID, "owner_id": ownerID})
	if result == nil {
		return Community{}, &PersistenceError{Op: "find community", Err: errors.New("no result")}
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Community{}, ErrCommunityNotFound
		}
		return Community{}, &PersistenceError{Op: "find community", Err: err}
	}

	var community Community
	if err := result.Decode(&community); err != nil {
		return Community{}, &PersistenceError{Op: "decode community", Err: err}
	}

	return community, nil
}

// ListByOwner returns the communities owned by an account, oldest first.
func (r *CommunityRepository) ListByOwner(ctx context.Context, ownerID string) ([]Community, error) {
	if err := r.check(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(ownerID) == "" {
		return nil, errors.New("owner_id is required")
	}

	cursor, err := r.collection.Find(ctx,
		bson.M{"owner_id": ownerID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}),
	)
	if err != nil {
		return nil, &PersistenceError{Op: "list communities", Err: err}
	}

	communities := make([]Community, 0)
	if err := cursor.All(ctx, &communities); err != nil {
		return nil, &PersistenceError{Op: "decode communities", Err: err}
	}

	return communities, nil
}

func (r *CommunityRepository) check(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return errors.New("community repository is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}
