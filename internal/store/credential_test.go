package store

import (
	"sync"
	"testing"

	"github.com/dukerupert/ltgvault/internal/database"
	"github.com/dukerupert/ltgvault/internal/model"
)

func setupCredentialTestDB(t *testing.T) (*CredentialStore, *AccountStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewCredentialStore(db), NewAccountStore(db)
}

func TestCredentialIssueAndResolve(t *testing.T) {
	cs, as := setupCredentialTestDB(t)
	a, _ := as.Create("alice@example.com")

	secret, cred, err := cs.Issue(a.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if cred.Prefix != "ltgv_" {
		t.Errorf("prefix = %q, want ltgv_", cred.Prefix)
	}
	if cred.LastFour != secret[len(secret)-4:] {
		t.Errorf("last four = %q, want %q", cred.LastFour, secret[len(secret)-4:])
	}
	if cred.KeyHash == secret {
		t.Error("plaintext key stored")
	}

	got, err := cs.Resolve(secret)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got == nil || got.ID != a.ID {
		t.Fatalf("resolved %+v, want account %d", got, a.ID)
	}

	after, _ := cs.GetByID(cred.ID)
	if after.LastUsedAt == nil {
		t.Error("expected last_used_at to be set after resolve")
	}
}

func TestCredentialResolveUnknown(t *testing.T) {
	cs, _ := setupCredentialTestDB(t)

	for _, secret := range []string{"", "sk_live_123", "ltgv_doesnotexist"} {
		got, err := cs.Resolve(secret)
		if err != nil {
			t.Fatalf("resolve(%q): %v", secret, err)
		}
		if got != nil {
			t.Errorf("resolve(%q) = %+v, want nil", secret, got)
		}
	}
}

func TestCredentialRotationRevokesPrevious(t *testing.T) {
	cs, as := setupCredentialTestDB(t)
	a, _ := as.Create("alice@example.com")

	first, _, err := cs.Issue(a.ID)
	if err != nil {
		t.Fatalf("first issue: %v", err)
	}
	second, cred, err := cs.Issue(a.ID)
	if err != nil {
		t.Fatalf("second issue: %v", err)
	}

	if got, _ := cs.Resolve(first); got != nil {
		t.Error("revoked key still resolves")
	}
	if got, _ := cs.Resolve(second); got == nil || got.ID != a.ID {
		t.Error("new key does not resolve")
	}

	active, err := cs.ListActive(a.ID)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ID != cred.ID {
		t.Errorf("active = %+v, want only credential %d", active, cred.ID)
	}
}

func TestCredentialConcurrentIssue(t *testing.T) {
	cs, as := setupCredentialTestDB(t)
	a, _ := as.Create("alice@example.com")

	const n = 8
	var wg sync.WaitGroup
	secrets := make([]string, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			secrets[i], _, errs[i] = cs.Issue(a.ID)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("issue %d: %v", i, err)
		}
	}

	active, _ := cs.ListActive(a.ID)
	if len(active) != 1 {
		t.Fatalf("active credentials = %d, want 1", len(active))
	}

	resolving := 0
	for _, s := range secrets {
		if got, _ := cs.Resolve(s); got != nil {
			resolving++
		}
	}
	if resolving != 1 {
		t.Errorf("resolving keys = %d, want 1", resolving)
	}
}

func TestCredentialIssueIsolatedPerAccount(t *testing.T) {
	cs, as := setupCredentialTestDB(t)
	alice, _ := as.Create("alice@example.com")
	bob, _ := as.Create("bob@example.com")

	aliceKey, _, _ := cs.Issue(alice.ID)
	if _, _, err := cs.Issue(bob.ID); err != nil {
		t.Fatalf("issue bob: %v", err)
	}

	if got, _ := cs.Resolve(aliceKey); got == nil || got.ID != alice.ID {
		t.Error("issuing for bob revoked alice's key")
	}
}

func TestCredentialHasActive(t *testing.T) {
	cs, as := setupCredentialTestDB(t)
	a, _ := as.Create("alice@example.com")

	has, err := cs.HasActive(a.ID)
	if err != nil {
		t.Fatalf("has active: %v", err)
	}
	if has {
		t.Error("expected no active key for new account")
	}

	cs.Issue(a.ID)
	if has, _ := cs.HasActive(a.ID); !has {
		t.Error("expected active key after issue")
	}
}

func TestCredentialResolveLoadsSubscriptions(t *testing.T) {
	cs, as := setupCredentialTestDB(t)
	a, _ := as.Create("alice@example.com")
	as.UpdateStatus(a.ID, model.StatusActive)
	as.SetSubscribed(a.ID, "postup", true)

	secret, _, _ := cs.Issue(a.ID)
	got, err := cs.Resolve(secret)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !got.Subscribed("postup") {
		t.Error("expected postup subscription on resolved account")
	}
	if got.Status != model.StatusActive {
		t.Errorf("status = %q, want active", got.Status)
	}
}
