package registry

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"proxypool/internal/domain"
	"proxypool/internal/security"
)

func setupStoreTestDB(t *testing.T) *GormStore {
	t.Helper()

	t.Setenv("POOL_ENCRYPTION_KEY", "store-test-key")
	security.ResetCredentialCipherForTests()
	t.Cleanup(security.ResetCredentialCipherForTests)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite database: %v", err)
	}

	store, err := NewGormStore(db, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("new gorm store: %v", err)
	}
	return store
}

func TestGormStoreRoundTrip(t *testing.T) {
	store := setupStoreTestDB(t)

	proxy, err := domain.NewProxy("203.0.113.9", 1080, domain.ProtocolSOCKS5)
	if err != nil {
		t.Fatalf("new proxy: %v", err)
	}
	proxy.Username = "worker"
	proxy.Password = "s3cret"
	proxy.Country = "DE"
	proxy.Tags = domain.StringList{"datacenter"}

	if err := store.SaveProxy(proxy); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.LoadAll()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d proxies, want 1", len(loaded))
	}

	got := loaded[0]
	if got.ID != proxy.ID {
		t.Fatalf("id = %q, want %q", got.ID, proxy.ID)
	}
	if got.Password != "s3cret" {
		t.Fatalf("password = %q after round trip, want s3cret", got.Password)
	}
	if security.IsCredentialEncrypted(got.PasswordEncrypted) == false {
		t.Fatal("password stored without encryption")
	}
	if len(got.Tags) != 1 || got.Tags[0] != "datacenter" {
		t.Fatalf("tags = %v", got.Tags)
	}
}

func TestGormStoreSaveIsUpsert(t *testing.T) {
	store := setupStoreTestDB(t)

	proxy, err := domain.NewProxy("203.0.113.9", 8080, domain.ProtocolHTTP)
	if err != nil {
		t.Fatalf("new proxy: %v", err)
	}

	if err := store.SaveProxy(proxy); err != nil {
		t.Fatalf("first save: %v", err)
	}

	proxy.Country = "FR"
	if err := store.SaveProxy(proxy); err != nil {
		t.Fatalf("second save: %v", err)
	}

	loaded, err := store.LoadAll()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d proxies after upsert, want 1", len(loaded))
	}
	if loaded[0].Country != "FR" {
		t.Fatalf("country = %q, want FR", loaded[0].Country)
	}
}

func TestGormStoreUpdateStatusAndDelete(t *testing.T) {
	store := setupStoreTestDB(t)

	proxy, err := domain.NewProxy("203.0.113.9", 8080, domain.ProtocolHTTP)
	if err != nil {
		t.Fatalf("new proxy: %v", err)
	}
	if err := store.SaveProxy(proxy); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := store.UpdateStatus(proxy.ID, domain.StatusRetired); err != nil {
		t.Fatalf("update status: %v", err)
	}

	loaded, err := store.LoadAll()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded[0].Status != domain.StatusRetired {
		t.Fatalf("status = %q, want retired", loaded[0].Status)
	}

	if err := store.DeleteProxy(proxy.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	loaded, err = store.LoadAll()
	if err != nil {
		t.Fatalf("load after delete: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("loaded %d proxies after delete, want 0", len(loaded))
	}
}
