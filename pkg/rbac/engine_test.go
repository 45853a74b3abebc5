package rbac

import (
	"reflect"
	"sync"
	"testing"
)

func loadedEngine() *Engine {
	e := NewEngine()
	e.LoadFacts(
		[]RolePermissionFact{
			{RoleID: 10, PermissionName: "docs.read", OrganizationID: 1, Action: ActionAccess},
			{RoleID: 10, PermissionName: "docs.write", OrganizationID: 1, Action: ActionAccess},
			{RoleID: 20, PermissionName: "docs.read", OrganizationID: 2, Action: ActionAccess},
		},
		[]UserRoleFact{
			{UserID: 100, RoleID: 10, OrganizationID: 1},
			{UserID: 200, RoleID: 20, OrganizationID: 2},
		},
	)
	return e
}

func TestEvaluateGrantsAndDenies(t *testing.T) {
	e := loadedEngine()

	if !e.Evaluate(100, "docs.read", 1, ActionAccess) {
		t.Fatal("expected user 100 to hold docs.read in org 1")
	}
	if !e.Evaluate(100, "docs.write", 1, ActionAccess) {
		t.Fatal("expected user 100 to hold docs.write in org 1")
	}
	if e.Evaluate(100, "docs.delete", 1, ActionAccess) {
		t.Fatal("unheld permission must deny")
	}
	if e.Evaluate(999, "docs.read", 1, ActionAccess) {
		t.Fatal("unknown user must deny")
	}
}

func TestEvaluateIsOrganizationScoped(t *testing.T) {
	e := loadedEngine()

	// User 100 holds docs.read in org 1 only. The same permission name in
	// org 2 must not leak across.
	if e.Evaluate(100, "docs.read", 2, ActionAccess) {
		t.Fatal("permission leaked across organizations")
	}
	if e.Evaluate(200, "docs.read", 1, ActionAccess) {
		t.Fatal("permission leaked across organizations")
	}
}

func TestEmptyEngineDeniesEverything(t *testing.T) {
	e := NewEngine()
	if e.Evaluate(1, "anything", 1, ActionAccess) {
		t.Fatal("empty model must deny")
	}
	if got := e.EffectivePermissions(1, 1); len(got) != 0 {
		t.Fatalf("empty model returned permissions: %v", got)
	}
}

func TestClearDropsModel(t *testing.T) {
	e := loadedEngine()
	e.Clear()
	if e.Evaluate(100, "docs.read", 1, ActionAccess) {
		t.Fatal("cleared model must deny")
	}
}

func TestEffectivePermissionsSortedAndDeduplicated(t *testing.T) {
	e := NewEngine()
	e.LoadFacts(
		[]RolePermissionFact{
			{RoleID: 1, PermissionName: "zeta", OrganizationID: 1},
			{RoleID: 1, PermissionName: "alpha", OrganizationID: 1},
			{RoleID: 2, PermissionName: "alpha", OrganizationID: 1},
			{RoleID: 2, PermissionName: "mid", OrganizationID: 1},
			{RoleID: 2, PermissionName: "other-org", OrganizationID: 2},
		},
		[]UserRoleFact{
			{UserID: 5, RoleID: 1, OrganizationID: 1},
			{UserID: 5, RoleID: 2, OrganizationID: 1},
		},
	)
	got := e.EffectivePermissions(5, 1)
	want := []string{"alpha", "mid", "zeta"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("effective permissions = %v, want %v", got, want)
	}
}

func TestLoadFactsDefaultsAction(t *testing.T) {
	e := NewEngine()
	e.LoadFacts(
		[]RolePermissionFact{{RoleID: 1, PermissionName: "p", OrganizationID: 1}},
		[]UserRoleFact{{UserID: 1, RoleID: 1, OrganizationID: 1}},
	)
	if !e.Evaluate(1, "p", 1, ActionAccess) {
		t.Fatal("fact without action must default to access")
	}
}

// TestConcurrentEvaluateDuringReload exercises readers racing a model
// swap. Every read must see either the old model or the new one, never a
// partial build. Run with -race.
func TestConcurrentEvaluateDuringReload(t *testing.T) {
	e := loadedEngine()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				// Both models grant this, so it must always hold.
				if !e.Evaluate(100, "docs.read", 1, ActionAccess) {
					t.Error("reader observed a torn model")
					return
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		e.LoadFacts(
			[]RolePermissionFact{{RoleID: 10, PermissionName: "docs.read", OrganizationID: 1, Action: ActionAccess}},
			[]UserRoleFact{{UserID: 100, RoleID: 10, OrganizationID: 1}},
		)
	}
	close(stop)
	wg.Wait()
}
