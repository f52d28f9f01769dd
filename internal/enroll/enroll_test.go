package enroll

import (
	"testing"

	"github.com/your-org/fd-attendance/internal/roster"
)

func TestResolveIdentity_ReusesExistingPersonForSameLabel(t *testing.T) {
	existing := []roster.Identity{
		{ID: 1, PersonID: "p-aaaa-bbb-ccc", Label: "Alice", PhotoPath: "identities/p-aaaa-bbb-ccc.jpg"},
		{ID: 2, PersonID: "p-dddd-eee-fff", Label: "Bob"},
	}

	personID, id, prevPath := resolveIdentity(existing, "Alice")
	if personID != "p-aaaa-bbb-ccc" || id != 1 || prevPath != "identities/p-aaaa-bbb-ccc.jpg" {
		t.Fatalf("expected to reuse Alice's identity, got (%s, %d, %s)", personID, id, prevPath)
	}
}

func TestResolveIdentity_AllocatesFreshForNewLabel(t *testing.T) {
	existing := []roster.Identity{
		{ID: 1, PersonID: "p-aaaa-bbb-ccc", Label: "Alice"},
		{ID: 5, PersonID: "p-dddd-eee-fff", Label: "Bob"},
	}

	personID, id, prevPath := resolveIdentity(existing, "Carol")
	if id != 6 {
		t.Fatalf("expected next id to be max+1=6, got %d", id)
	}
	if personID == "" || prevPath != "" {
		t.Fatalf("expected a fresh person_id and no previous photo path, got (%s, %s)", personID, prevPath)
	}
}

func TestReplaceOrAppend_ReplacesMatchingIDInPlace(t *testing.T) {
	existing := []roster.Identity{
		{ID: 1, Label: "Alice"},
		{ID: 2, Label: "Bob"},
	}
	updated := replaceOrAppend(existing, roster.Identity{ID: 1, Label: "Alice V2"})
	if len(updated) != 2 {
		t.Fatalf("expected the same length on replace, got %d", len(updated))
	}
	for _, id := range updated {
		if id.ID == 1 && id.Label != "Alice V2" {
			t.Fatalf("expected id=1 to be replaced, got %+v", id)
		}
	}
}

func TestReplaceOrAppend_AppendsNewID(t *testing.T) {
	existing := []roster.Identity{{ID: 1, Label: "Alice"}}
	updated := replaceOrAppend(existing, roster.Identity{ID: 2, Label: "Carol"})
	if len(updated) != 2 {
		t.Fatalf("expected identity appended, got %d entries", len(updated))
	}
}

func TestGenPersonID_MatchesExpectedShape(t *testing.T) {
	id := genPersonID()
	if len(id) != len("p-xxxx-xxx-xxx") {
		t.Fatalf("unexpected person_id length: %q", id)
	}
	if id[0] != 'p' || id[1] != '-' || id[6] != '-' || id[10] != '-' {
		t.Fatalf("unexpected person_id shape: %q", id)
	}
}
