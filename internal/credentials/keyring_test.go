package credentials

import (
	"errors"
	"testing"

	"github.com/zalando/go-keyring"
)

// TestSystemKeyringSetGetDelete exercises the go-keyring backed implementation
// against go-keyring's in-memory provider.
func TestSystemKeyringSetGetDelete(t *testing.T) {
	keyring.MockInit()

	var sysKeyring Keyring = &systemKeyring{}
	service, account := "todocal-test-keyring-crud", "alice"

	if err := sysKeyring.Set(service, account, "secret"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := sysKeyring.Get(service, account)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "secret" {
		t.Errorf("Get = %q, want secret", got)
	}
	if err := sysKeyring.Delete(service, account); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := sysKeyring.Get(service, account); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

// TestSystemKeyringUnavailable tests the mapping of provider failures
func TestSystemKeyringUnavailable(t *testing.T) {
	keyring.MockInitWithError(errors.New("dbus: no session bus"))
	t.Cleanup(keyring.MockInit)

	err := (&systemKeyring{}).Set("todocal-remote", "alice", "tok")
	if !errors.Is(err, ErrKeyringNotAvailable) {
		t.Errorf("Set = %v, want ErrKeyringNotAvailable", err)
	}
}

// TestManagerUsesSystemKeyringByDefault tests the default wiring
func TestManagerUsesSystemKeyringByDefault(t *testing.T) {
	keyring.MockInit()

	manager := NewManager(WithGetenv(noEnv))
	if _, ok := manager.keyring.(*systemKeyring); !ok {
		t.Fatalf("default keyring = %T, want *systemKeyring", manager.keyring)
	}
	if err := manager.keyring.Set("todocal-remote", "alice", "tok"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, _ := keyring.Get("todocal-remote", "alice")
	if got != "tok" {
		t.Errorf("go-keyring holds %q, want tok", got)
	}
}
