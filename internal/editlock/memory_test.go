package editlock_test

import (
	"testing"

	"dealroom/api/internal/editlock"
	"dealroom/api/internal/editlock/editlocktest"
)

func TestMemoryStoreConformance(t *testing.T) {
	editlocktest.Run(t, func(t *testing.T) editlocktest.Fixture {
		return editlocktest.Fixture{
			Store: editlock.NewMemoryStore(),
			OrgA:  "org-a",
			OrgB:  "org-b",
			Alice: editlock.Holder{UserID: "user-a", DisplayName: "Alice Chen"},
			Bob:   editlock.Holder{UserID: "user-b", DisplayName: "Bob Okafor"},
		}
	})
}
