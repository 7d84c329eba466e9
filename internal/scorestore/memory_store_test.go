package scorestore

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStoreUserLifecycle(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()

	if _, err := store.FindUser(context.Background(), "0xCaller"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	user := UserRecord{WalletAddress: "0xCaller"}
	user.SetLink("github", "octocat")
	if err := store.UpdateUser(context.Background(), user); err != nil {
		t.Fatalf("update user: %v", err)
	}

	found, findErr := store.FindUser(context.Background(), "0xCaller")
	if findErr != nil {
		t.Fatalf("find user: %v", findErr)
	}
	if username, verified := found.Link("github"); username != "octocat" || !verified {
		t.Fatalf("expected github link, got %q verified=%v", username, verified)
	}
	if _, verified := found.Link("discord"); verified {
		t.Fatal("discord must remain unlinked")
	}
	if found.UpdatedAtUnix == 0 {
		t.Fatal("expected update timestamp to be set")
	}

	found.ClearLink("github")
	if err := store.UpdateUser(context.Background(), found); err != nil {
		t.Fatalf("update user: %v", err)
	}
	cleared, _ := store.FindUser(context.Background(), "0xCaller")
	if username, verified := cleared.Link("github"); username != "" || verified {
		t.Fatalf("expected cleared link, got %q verified=%v", username, verified)
	}
}

func TestMemoryStoreRejectsEmptyWallet(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()

	if err := store.UpdateUser(context.Background(), UserRecord{}); !errors.Is(err, ErrEmptyWalletAddress) {
		t.Fatalf("expected ErrEmptyWalletAddress, got %v", err)
	}
	if err := store.UpsertScore(context.Background(), ScoreRecord{Category: "github"}); !errors.Is(err, ErrEmptyWalletAddress) {
		t.Fatalf("expected ErrEmptyWalletAddress, got %v", err)
	}
	if err := store.UpsertScore(context.Background(), ScoreRecord{WalletAddress: "0xCaller"}); !errors.Is(err, ErrEmptyCategory) {
		t.Fatalf("expected ErrEmptyCategory, got %v", err)
	}
}

func TestMemoryStoreScoreUpsertReplacesValue(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()

	if _, err := store.GetScore(context.Background(), "0xCaller", "github"); !errors.Is(err, ErrScoreNotFound) {
		t.Fatalf("expected ErrScoreNotFound, got %v", err)
	}

	first := ScoreRecord{WalletAddress: "0xCaller", Category: "github", Value: 650, Source: SourceManual}
	if err := store.UpsertScore(context.Background(), first); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	second := ScoreRecord{WalletAddress: "0xCaller", Category: "github", Value: 720, Source: SourceSync}
	if err := store.UpsertScore(context.Background(), second); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	stored, getErr := store.GetScore(context.Background(), "0xCaller", "github")
	if getErr != nil {
		t.Fatalf("get: %v", getErr)
	}
	if stored.Value != 720 || stored.Source != SourceSync {
		t.Fatalf("expected replaced value, got %+v", stored)
	}
}

func TestMemoryStoreListScoresOrdersByCategory(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()

	for _, score := range []ScoreRecord{
		{WalletAddress: "0xCaller", Category: "x", Value: 300, Source: SourceSync},
		{WalletAddress: "0xCaller", Category: "discord", Value: 250, Source: SourceManual},
		{WalletAddress: "0xCaller", Category: "github", Value: 650, Source: SourceSync},
		{WalletAddress: "0xOther", Category: "github", Value: 100, Source: SourceManual},
	} {
		if err := store.UpsertScore(context.Background(), score); err != nil {
			t.Fatalf("upsert %s: %v", score.Category, err)
		}
	}

	scores, listErr := store.ListScores(context.Background(), "0xCaller")
	if listErr != nil {
		t.Fatalf("list: %v", listErr)
	}
	if len(scores) != 3 {
		t.Fatalf("expected 3 scores, got %d", len(scores))
	}
	for index, category := range []string{"discord", "github", "x"} {
		if scores[index].Category != category {
			t.Fatalf("expected %s at index %d, got %s", category, index, scores[index].Category)
		}
	}
}
