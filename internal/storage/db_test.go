package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"padron/internal"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	tmp := t.TempDir()
	reg, err := OpenRegistry(filepath.Join(tmp, "usuarios.db"), filepath.Join(tmp, "rolls"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func TestRegistryAccounts(t *testing.T) {
	ctx := context.Background()
	reg := openTestRegistry(t)

	first, err := reg.CreateAccount(ctx, "  club norte ")
	if err != nil {
		t.Fatal(err)
	}
	if first.Name != "club norte" {
		t.Fatalf("name=%q", first.Name)
	}
	if _, err := reg.CreateAccount(ctx, "sur"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.CreateAccount(ctx, "club norte"); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("err=%v want ErrAccountExists", err)
	}
	if _, err := reg.CreateAccount(ctx, "   "); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("err=%v want ErrEmptyName", err)
	}

	accounts, err := reg.ListAccounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 2 || accounts[0].Name != "sur" {
		t.Fatalf("accounts=%+v", accounts)
	}

	missing, err := reg.GetAccount(ctx, "nadie")
	if err != nil || missing != nil {
		t.Fatalf("missing=%v err=%v", missing, err)
	}
}

func TestRollDBPathIsPerAccount(t *testing.T) {
	reg := openTestRegistry(t)

	plain := reg.RollDBPath("norte")
	if filepath.Base(plain) != "padron_norte.db" {
		t.Fatalf("plain=%s", plain)
	}
	a := reg.RollDBPath("club norte")
	b := reg.RollDBPath("club_norte")
	if a == b {
		t.Fatalf("distinct accounts share %s", a)
	}
	if escaped := reg.RollDBPath("../etc"); filepath.Dir(escaped) != filepath.Dir(plain) {
		t.Fatalf("escaped data dir: %s", escaped)
	}
}

func TestRollStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	reg := openTestRegistry(t)

	store, err := reg.OpenRolls("norte")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	roll, err := store.CreateRoll(ctx, "Elecciones 2026")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.CreateRoll(ctx, " "); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("err=%v", err)
	}

	n, err := store.ReplaceMembers(ctx, roll.ID, []internal.Record{
		{Name: "PÉREZ JUAN", NationalID: "12345678"},
		{Name: "GARCÍA ANA", NationalID: internal.NoNationalID},
		{Name: "ALVAREZ 50%_OFF", NationalID: "999"},
	})
	if err != nil || n != 3 {
		t.Fatalf("n=%d err=%v", n, err)
	}

	members, err := store.ListMembers(ctx, roll.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 3 || members[0].Name != "ALVAREZ 50%_OFF" {
		t.Fatalf("members=%+v", members)
	}

	cases := []struct {
		search string
		want   int
	}{
		{search: "pérez", want: 1},
		{search: "1234", want: 1},
		{search: "sin dni", want: 1},
		{search: "%", want: 1},
		{search: "_", want: 1},
		{search: "zzz", want: 0},
	}
	for _, tc := range cases {
		found, err := store.ListMembers(ctx, roll.ID, tc.search)
		if err != nil {
			t.Fatal(err)
		}
		if len(found) != tc.want {
			t.Fatalf("search %q len=%d want %d", tc.search, len(found), tc.want)
		}
	}

	ok, err := store.MarkVoted(ctx, roll.ID, members[1].ID)
	if err != nil || !ok {
		t.Fatalf("mark ok=%v err=%v", ok, err)
	}
	if ok, _ := store.MarkVoted(ctx, roll.ID+1, members[1].ID); ok {
		t.Fatal("vote leaked across rolls")
	}

	summary, err := store.Summary(ctx, roll.ID)
	if err != nil {
		t.Fatal(err)
	}
	if summary != (internal.Summary{Total: 3, Voted: 1, Remaining: 2}) {
		t.Fatalf("summary=%+v", summary)
	}

	if _, err := store.AddMember(ctx, roll.ID, internal.Record{Name: "LÓPEZ MARÍA", NationalID: "30111222"}); err != nil {
		t.Fatal(err)
	}
	if ok, err := store.DeleteMember(ctx, roll.ID, members[0].ID); err != nil || !ok {
		t.Fatalf("delete ok=%v err=%v", ok, err)
	}

	n, err = store.ReplaceMembers(ctx, roll.ID, []internal.Record{{Name: "NUEVO SOCIO", NationalID: "1"}})
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	after, err := store.ListMembers(ctx, roll.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 1 || after[0].Name != "NUEVO SOCIO" || after[0].Voted {
		t.Fatalf("after replace=%+v", after)
	}
}

func TestImportRuns(t *testing.T) {
	ctx := context.Background()
	reg := openTestRegistry(t)

	store, err := reg.OpenRolls("norte")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	roll, err := store.CreateRoll(ctx, "Padrón")
	if err != nil {
		t.Fatal(err)
	}
	for i, name := range []string{"a.xlsx", "b.csv"} {
		run := internal.ImportRun{TraceID: name, RollID: roll.ID, Filename: name, Records: i + 1, DurationMs: 5}
		if err := store.InsertImportRun(ctx, run); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := store.ListImportRuns(ctx, roll.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].Filename != "b.csv" || runs[0].Records != 2 {
		t.Fatalf("runs=%+v", runs)
	}
}

func TestRollStoresAreIsolated(t *testing.T) {
	ctx := context.Background()
	reg := openTestRegistry(t)

	a, err := reg.OpenRolls("norte")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := reg.OpenRolls("sur")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if _, err := a.CreateRoll(ctx, "Solo norte"); err != nil {
		t.Fatal(err)
	}
	rolls, err := b.ListRolls(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rolls) != 0 {
		t.Fatalf("rolls=%+v", rolls)
	}
}
