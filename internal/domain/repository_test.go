package domain

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"membify/internal/testutil/mongofake"
)

const testAccountID = "5b1c8a3e-6f1e-4d7a-9a59-0c3d2d0f6b11"

func TestAccountRepositorySetAndGetVerificationCode(t *testing.T) {
	coll := mongofake.New("accounts", "account_id")
	repo := NewAccountRepository(coll)
	ctx := context.Background()

	if err := repo.SetVerificationCode(ctx, testAccountID, "MBF_AB12CD34", true); err != nil {
		t.Fatalf("SetVerificationCode returned error: %v", err)
	}

	account, err := repo.GetByID(ctx, testAccountID)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}

	if account.OutstandingCode() != "MBF_AB12CD34" {
		t.Fatalf("expected outstanding code MBF_AB12CD34, got %q", account.OutstandingCode())
	}
	if account.InitialVerificationCode == nil || *account.InitialVerificationCode != "MBF_AB12CD34" {
		t.Fatalf("expected initial code to be recorded, got %v", account.InitialVerificationCode)
	}
	if account.CreatedAt.IsZero() || account.UpdatedAt.IsZero() {
		t.Fatalf("expected timestamps to be set, got created_at=%v updated_at=%v", account.CreatedAt, account.UpdatedAt)
	}

	if err := repo.SetVerificationCode(ctx, testAccountID, "MBF_ZZZZ9999", false); err != nil {
		t.Fatalf("SetVerificationCode returned error: %v", err)
	}

	account, err = repo.GetByID(ctx, testAccountID)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if account.OutstandingCode() != "MBF_ZZZZ9999" {
		t.Fatalf("expected replaced code, got %q", account.OutstandingCode())
	}
	if *account.InitialVerificationCode != "MBF_AB12CD34" {
		t.Fatalf("expected initial code to be kept, got %q", *account.InitialVerificationCode)
	}
	if coll.Len() != 1 {
		t.Fatalf("expected a single account document, got %d", coll.Len())
	}
}

func TestAccountRepositoryGetByIDNotFound(t *testing.T) {
	repo := NewAccountRepository(mongofake.New("accounts", "account_id"))

	_, err := repo.GetByID(context.Background(), testAccountID)
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestAccountRepositoryAttemptsAndClear(t *testing.T) {
	coll := mongofake.New("accounts", "account_id")
	repo := NewAccountRepository(coll)
	ctx := context.Background()

	if err := repo.SetVerificationCode(ctx, testAccountID, "MBF_AB12CD34", true); err != nil {
		t.Fatalf("SetVerificationCode returned error: %v", err)
	}

	for want := 1; want <= 2; want++ {
		got, err := repo.IncrementAttempts(ctx, testAccountID)
		if err != nil {
			t.Fatalf("IncrementAttempts returned error: %v", err)
		}
		if got != want {
			t.Fatalf("expected attempts %d, got %d", want, got)
		}
	}

	if err := repo.ClearVerificationCode(ctx, testAccountID); err != nil {
		t.Fatalf("ClearVerificationCode returned error: %v", err)
	}

	account, err := repo.GetByID(ctx, testAccountID)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if account.VerificationCode != nil {
		t.Fatalf("expected code to be null after clear, got %q", *account.VerificationCode)
	}
	if account.VerificationAttempts != 0 {
		t.Fatalf("expected attempts reset, got %d", account.VerificationAttempts)
	}
}

func TestAccountRepositoryClearUnknownAccount(t *testing.T) {
	repo := NewAccountRepository(mongofake.New("accounts", "account_id"))

	if err := repo.ClearVerificationCode(context.Background(), testAccountID); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestAccountRepositoryWrapsWriteFailures(t *testing.T) {
	coll := mongofake.New("accounts", "account_id")
	coll.FailOn("UpdateOne", errors.New("write concern timeout"))
	repo := NewAccountRepository(coll)

	err := repo.SetVerificationCode(context.Background(), testAccountID, "MBF_AB12CD34", true)

	var persistenceErr *PersistenceError
	if !errors.As(err, &persistenceErr) {
		t.Fatalf("expected PersistenceError, got %T %v", err, err)
	}
}

func TestAccountRepositoryCustomBot(t *testing.T) {
	repo := NewAccountRepository(mongofake.New("accounts", "account_id"))
	ctx := context.Background()

	if err := repo.SetCustomBot(ctx, testAccountID, " 42:custom ", true); err != nil {
		t.Fatalf("SetCustomBot returned error: %v", err)
	}

	account, err := repo.GetByID(ctx, testAccountID)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if got := account.BotToken("1:default"); got != "42:custom" {
		t.Fatalf("expected custom token, got %q", got)
	}

	if err := repo.SetCustomBot(ctx, testAccountID, "", false); err != nil {
		t.Fatalf("SetCustomBot returned error: %v", err)
	}

	account, err = repo.GetByID(ctx, testAccountID)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if got := account.BotToken("1:default"); got != "1:default" {
		t.Fatalf("expected default token after disabling, got %q", got)
	}
	if account.CustomBotToken == nil || *account.CustomBotToken != "42:custom" {
		t.Fatalf("expected stored token to be kept, got %v", account.CustomBotToken)
	}
}

func TestCommunityRepositoryCreateAndGet(t *testing.T) {
	coll := mongofake.New("communities", "chat_id")
	repo := NewCommunityRepository(coll)
	ctx := context.Background()

	created, err := repo.Create(ctx, Community{
		OwnerID: testAccountID,
		Name:    "Example Group",
		ChatID:  -100200300,
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if created.ID == "" {
		t.Fatalf("expected community id to be generated")
	}
	if created.CreatedAt.IsZero() || !created.CreatedAt.Equal(created.UpdatedAt) {
		t.Fatalf("expected matching timestamps on insert, got %v and %v", created.CreatedAt, created.UpdatedAt)
	}

	found, err := repo.GetByChatID(ctx, -100200300)
	if err != nil {
		t.Fatalf("GetByChatID returned error: %v", err)
	}
	if found.ID != created.ID || found.OwnerID != testAccountID || found.Name != "Example Group" {
		t.Fatalf("unexpected community %+v", found)
	}
	if !found.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("expected created_at %v, got %v", created.CreatedAt, found.CreatedAt)
	}
}

func TestCommunityRepositoryCreateDuplicateChat(t *testing.T) {
	repo := NewCommunityRepository(mongofake.New("communities", "chat_id"))
	ctx := context.Background()

	if _, err := repo.Create(ctx, Community{OwnerID: "a", ChatID: 123, Name: "one"}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	_, err := repo.Create(ctx, Community{OwnerID: "b", ChatID: 123, Name: "two"})
	if !errors.Is(err, ErrDuplicateChat) {
		t.Fatalf("expected ErrDuplicateChat, got %v", err)
	}
}

func TestCommunityRepositoryUpdateOwnedKeepsOwner(t *testing.T) {
	coll := mongofake.New("communities", "chat_id")
	repo := NewCommunityRepository(coll)
	ctx := context.Background()

	createdAt := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	coll.Seed(bson.M{
		"community_id":  "c-1",
		"owner_id":      "owner-a",
		"name":          "Old",
		"chat_id":       int64(456),
		"photo_file_id": "old-file",
		"created_at":    createdAt,
		"updated_at":    createdAt,
	})

	updated, err := repo.UpdateOwned(ctx, Community{OwnerID: "owner-a", ChatID: 456, Name: "New"})
	if err != nil {
		t.Fatalf("UpdateOwned returned error: %v", err)
	}
	if updated.Name != "New" {
		t.Fatalf("expected name New, got %s", updated.Name)
	}
	if updated.PhotoFileID != "old-file" {
		t.Fatalf("expected empty photo to keep stored value, got %s", updated.PhotoFileID)
	}
	if !updated.UpdatedAt.After(createdAt) {
		t.Fatalf("expected updated_at to advance, got %v", updated.UpdatedAt)
	}

	_, err = repo.UpdateOwned(ctx, Community{OwnerID: "owner-b", ChatID: 456, Name: "Hijack"})
	var conflict *ConflictError
	if !errors.As(err, &conflict) || conflict.ChatID != 456 {
		t.Fatalf("expected ConflictError for chat 456, got %v", err)
	}

	doc := coll.Docs(bson.M{"chat_id": int64(456)})[0]
	if doc["owner_id"] != "owner-a" || doc["name"] != "New" {
		t.Fatalf("expected owner and name untouched by foreign update, got %v", doc)
	}
}

func TestCommunityRepositoryGetOwnedScopesToOwner(t *testing.T) {
	repo := NewCommunityRepository(mongofake.New("communities", "chat_id"))
	ctx := context.Background()

	created, err := repo.Create(ctx, Community{OwnerID: "owner-a", ChatID: 789, Name: "Mine", PhotoFileID: "file-1"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	got, err := repo.GetOwned(ctx, "owner-a", created.ID)
	if err != nil {
		t.Fatalf("GetOwned returned error: %v", err)
	}
	if got.ChatID != 789 || got.PhotoFileID != "file-1" {
		t.Fatalf("unexpected community %+v", got)
	}

	if _, err := repo.GetOwned(ctx, "owner-b", created.ID); !errors.Is(err, ErrCommunityNotFound) {
		t.Fatalf("expected ErrCommunityNotFound for another owner, got %v", err)
	}
	if _, err := repo.GetOwned(ctx, "owner-a", "missing"); !errors.Is(err, ErrCommunityNotFound) {
		t.Fatalf("expected ErrCommunityNotFound for unknown id, got %v", err)
	}
	if _, err := repo.GetOwned(ctx, "", created.ID); err == nil {
		t.Fatalf("expected error for empty owner")
	}
}

func TestCommunityRepositoryListByOwner(t *testing.T) {
	repo := NewCommunityRepository(mongofake.New("communities", "chat_id"))
	ctx := context.Background()

	for _, c := range []Community{
		{OwnerID: "owner-a", ChatID: 1, Name: "first"},
		{OwnerID: "owner-b", ChatID: 2, Name: "other"},
		{OwnerID: "owner-a", ChatID: 3, Name: "second"},
	} {
		if _, err := repo.Create(ctx, c); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}

	list, err := repo.ListByOwner(ctx, "owner-a")
	if err != nil {
		t.Fatalf("ListByOwner returned error: %v", err)
	}
	if len(list) != 2 || list[0].Name != "first" || list[1].Name != "second" {
		t.Fatalf("unexpected communities %+v", list)
	}
}

func TestAccountBotTokenSelection(t *testing.T) {
	custom := "9:custom"
	blank := "  "

	tests := []struct {
		name    string
		account Account
		want    string
	}{
		{"default when not opted in", Account{CustomBotToken: &custom}, "1:default"},
		{"custom when opted in", Account{CustomBotToken: &custom, UseCustomBot: true}, "9:custom"},
		{"default when opted in without token", Account{UseCustomBot: true}, "1:default"},
		{"default when token blank", Account{CustomBotToken: &blank, UseCustomBot: true}, "1:default"},
	}

	for _, tt := range tests {
		if got := tt.account.BotToken("1:default"); got != tt.want {
			t.Fatalf("%s: BotToken() = %q, want %q", tt.name, got, tt.want)
		}
	}
}
