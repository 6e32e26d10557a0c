package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"faltas_go/gateway"
	"faltas_go/models"
	"faltas_go/utils"
)

func seeded(id, date, teacherID string) models.Absence {
	return models.Absence{
		BaseModel: models.BaseModel{ID: id, CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		TeacherID: teacherID,
		Unit:      "Centro",
		Date:      models.MustDate(date),
		Reason:    models.ReasonSickLeave,
		Duration:  models.DurationFullDay,
		Classes:   4,
	}
}

func loadedStore(t *testing.T, src *fakeSource) *AbsenceStore {
	t.Helper()
	store := NewAbsenceStore(src, gateway.NewLocalFeed(), 2)
	if err := store.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return store
}

func TestLoadSortsCollections(t *testing.T) {
	src := newFakeSource()
	src.seed(
		seeded("a1", "2024-03-01", "t1"),
		seeded("a2", "2024-03-05", "t2"),
		seeded("a3", "2024-02-10", "t1"),
	)
	store := loadedStore(t, src)

	if got := store.Departments()[0].Name; got != "Matemática" {
		t.Fatalf("expected departments sorted by name, first is %q", got)
	}
	if got := store.Teachers()[0].Name; got != "Carlos" {
		t.Fatalf("expected teachers sorted by name, first is %q", got)
	}
	var ids []string
	for _, a := range store.Absences() {
		ids = append(ids, a.ID)
	}
	if len(ids) != 3 || ids[0] != "a2" || ids[1] != "a1" || ids[2] != "a3" {
		t.Fatalf("expected absences newest first, got %v", ids)
	}
	if st := store.Status(); st.Absences != 3 || st.Teachers != 2 || st.Error != "" || st.LastLoad.IsZero() {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestLoadFailureKeepsCollections(t *testing.T) {
	src := newFakeSource()
	src.seed(seeded("a1", "2024-03-01", "t1"))
	store := loadedStore(t, src)

	src.failRange = errRemote
	if err := store.Load(context.Background()); !errors.Is(err, errRemote) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if len(store.Absences()) != 1 {
		t.Fatalf("expected previous absences to survive a failed load")
	}
	if store.Err() == nil || store.Status().Error == "" {
		t.Fatalf("expected error flag to be set")
	}

	src.failRange = nil
	if err := store.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if store.Err() != nil {
		t.Fatalf("expected error flag cleared, got %v", store.Err())
	}
}

func TestCreateRequiresIdentity(t *testing.T) {
	tests := []struct {
		name     string
		identity *models.Identity
	}{
		{name: "nil identity", identity: nil},
		{name: "empty subject", identity: &models.Identity{Email: "x@y.z"}},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			src := newFakeSource()
			store := loadedStore(t, src)
			a := seeded("", "2024-03-01", "t1")
			if err := store.Create(context.Background(), tc.identity, &a); !errors.Is(err, ErrUnauthenticated) {
				t.Fatalf("expected ErrUnauthenticated, got %v", err)
			}
			if len(src.absences) != 0 {
				t.Fatalf("expected nothing inserted")
			}
		})
	}
}

func TestCreateReloadsStore(t *testing.T) {
	src := newFakeSource()
	store := loadedStore(t, src)

	a := seeded("", "2024-03-01", "t1")
	a.StartTime = strPtr("08:00")
	a.EndTime = strPtr("10:00")
	if err := store.Create(context.Background(), testIdentity(), &a); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, ok := store.Get(a.ID)
	if !ok {
		t.Fatalf("expected created absence %q to be visible after create", a.ID)
	}
	if got.StartTime != nil || got.EndTime != nil {
		t.Fatalf("expected time fields cleared for a full day, got %v %v", got.StartTime, got.EndTime)
	}
	if got.CreatedBy != "user-1" {
		t.Fatalf("expected author user-1, got %q", got.CreatedBy)
	}
	if got.TeacherName() != "Carlos" {
		t.Fatalf("expected joined teacher name, got %q", got.TeacherName())
	}
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(a *models.Absence)
		field string
	}{
		{name: "no classes", edit: func(a *models.Absence) { a.Classes = 0 }, field: "classes"},
		{name: "unknown reason", edit: func(a *models.Absence) { a.Reason = "Vacation" }, field: "reason"},
		{name: "tutor from another unit", edit: func(a *models.Absence) {
			a.HasSubstitute = true
			a.SubstituteType = models.SubstituteTutor
			a.SubstituteTeacherID = strPtr("s2")
		}, field: "substitute_teacher_id"},
		{name: "substitute covers too much", edit: func(a *models.Absence) {
			a.HasSubstitute = true
			a.SubstituteType = models.SubstituteProfessor
			a.SubstituteTeacherName2 = "Maria"
			a.SubstituteTotalClasses = floatPtr(5)
		}, field: "substitute_total_classes"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			src := newFakeSource()
			store := loadedStore(t, src)
			a := seeded("", "2024-03-01", "t1")
			tc.edit(&a)

			err := store.Create(context.Background(), testIdentity(), &a)
			verrs, ok := utils.AsValidationErrors(err)
			if !ok {
				t.Fatalf("expected validation errors, got %v", err)
			}
			if _, ok := verrs[tc.field]; !ok {
				t.Fatalf("expected error on %s, got %v", tc.field, verrs)
			}
			if len(src.absences) != 0 {
				t.Fatalf("expected no remote insert")
			}
		})
	}
}

func TestDeleteRemovesWithoutReload(t *testing.T) {
	src := newFakeSource()
	src.seed(seeded("a1", "2024-03-01", "t1"), seeded("a2", "2024-03-02", "t1"))
	store := loadedStore(t, src)
	calls := src.rangeCalls

	if err := store.Delete(context.Background(), "a1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := store.Get("a1"); ok {
		t.Fatalf("expected a1 removed locally")
	}
	if _, ok := store.Get("a2"); !ok {
		t.Fatalf("expected a2 kept")
	}
	if src.rangeCalls != calls {
		t.Fatalf("expected no refetch on delete")
	}
}

func TestDeleteFailureKeepsRow(t *testing.T) {
	src := newFakeSource()
	src.seed(seeded("a1", "2024-03-01", "t1"))
	store := loadedStore(t, src)

	src.failDelete = errRemote
	if err := store.Delete(context.Background(), "a1"); !errors.Is(err, errRemote) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if _, ok := store.Get("a1"); !ok {
		t.Fatalf("expected a1 kept after failed delete")
	}
}

func TestStaleLoadIsDiscarded(t *testing.T) {
	src := newFakeSource()
	src.seed(seeded("a1", "2024-03-01", "t1"), seeded("a2", "2024-03-02", "t1"))
	store := loadedStore(t, src)

	src.mu.Lock()
	src.entered = make(chan struct{})
	src.release = make(chan struct{})
	entered, release := src.entered, src.release
	src.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- store.Load(context.Background()) }()
	<-entered

	// The in-flight load already read a1; deleting now must win.
	if err := store.Delete(context.Background(), "a1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("load: %v", err)
	}

	if _, ok := store.Get("a1"); ok {
		t.Fatalf("expected stale load not to resurrect a1")
	}
}

func TestAbsencePatchColumns(t *testing.T) {
	full := models.DurationFullDay
	partial := models.DurationPartialDay
	no := false

	tests := []struct {
		name  string
		patch AbsencePatch
		want  map[string]interface{}
	}{
		{name: "switch to full day clears times", patch: AbsencePatch{Duration: &full},
			want: map[string]interface{}{"duration": full, "start_time": nil, "end_time": nil}},
		{name: "partial day never stores times", patch: AbsencePatch{Duration: &partial, StartTime: strPtr("08:00")},
			want: map[string]interface{}{"duration": partial, "start_time": nil, "end_time": nil}},
		{name: "notes only", patch: AbsencePatch{Notes: strPtr("x")},
			want: map[string]interface{}{"notes": "x", "start_time": nil, "end_time": nil}},
		{name: "dropping the substitute clears its fields", patch: AbsencePatch{HasSubstitute: &no},
			want: map[string]interface{}{
				"has_substitute": false, "substitute_type": models.SubstituteNone, "substitute_teacher_id": nil,
				"substitute_teacher_name2": "", "substitute_teacher_name3": "", "substitute_total_classes": nil,
				"start_time": nil, "end_time": nil,
			}},
		{name: "blank roster reference is null", patch: AbsencePatch{SubstituteTeacherID: strPtr(" ")},
			want: map[string]interface{}{"substitute_teacher_id": nil, "start_time": nil, "end_time": nil}},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			fields := tc.patch.Columns()
			if len(fields) != len(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, fields)
			}
			for column, want := range tc.want {
				got, ok := fields[column]
				if !ok || got != want {
					t.Fatalf("expected %s=%v, got %v (%v)", column, want, got, fields)
				}
			}
		})
	}
}

func TestUpdateReloadsStore(t *testing.T) {
	src := newFakeSource()
	src.seed(seeded("a1", "2024-03-01", "t1"))
	store := loadedStore(t, src)

	if err := store.Update(context.Background(), "a1", AbsencePatch{Notes: strPtr("atestado entregue")}); err != nil {
		t.Fatalf("update: %v", err)
	}
	fields := src.updates[len(src.updates)-1]
	if fields["notes"] != "atestado entregue" {
		t.Fatalf("expected notes column, got %v", fields)
	}
	if v, ok := fields["start_time"]; !ok || v != nil {
		t.Fatalf("expected start_time nulled for a full day, got %v", fields)
	}
	if got, _ := store.Get("a1"); got.Notes != "atestado entregue" {
		t.Fatalf("expected store reloaded, notes %q", got.Notes)
	}
}

func TestUpdateErrors(t *testing.T) {
	yes := true
	tutor := models.SubstituteTutor
	professor := models.SubstituteProfessor
	partial := models.DurationPartialDay

	tests := []struct {
		name  string
		patch AbsencePatch
		field string
	}{
		{name: "no classes", patch: AbsencePatch{Classes: floatPtr(0)}, field: "classes"},
		{name: "tutor from another unit", patch: AbsencePatch{
			HasSubstitute: &yes, SubstituteType: &tutor, SubstituteTeacherID: strPtr("s2"),
		}, field: "substitute_teacher_id"},
		{name: "tutor without roster reference", patch: AbsencePatch{
			HasSubstitute: &yes, SubstituteType: &tutor, SubstituteTeacherID: strPtr(""),
		}, field: "substitute_teacher_id"},
		{name: "tutor not in roster", patch: AbsencePatch{
			HasSubstitute: &yes, SubstituteType: &tutor, SubstituteTeacherID: strPtr("s9"),
		}, field: "substitute_teacher_id"},
		{name: "professor without name", patch: AbsencePatch{
			HasSubstitute: &yes, SubstituteType: &professor,
		}, field: "substitute_teacher_name2"},
		{name: "substitute without type", patch: AbsencePatch{HasSubstitute: &yes}, field: "substitute_type"},
		{name: "substitute covers too much", patch: AbsencePatch{
			HasSubstitute: &yes, SubstituteType: &professor, SubstituteTeacherName2: strPtr("Maria"),
			SubstituteTotalClasses: floatPtr(5),
		}, field: "substitute_total_classes"},
		{name: "partial day with start time", patch: AbsencePatch{Duration: &partial, StartTime: strPtr("08:00")}, field: "start_time"},
		{name: "partial day with end time", patch: AbsencePatch{Duration: &partial, EndTime: strPtr("10:00")}, field: "end_time"},
		{name: "unknown teacher", patch: AbsencePatch{TeacherID: strPtr("t9")}, field: "teacher_id"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			src := newFakeSource()
			src.seed(seeded("a1", "2024-03-01", "t1"))
			store := loadedStore(t, src)

			err := store.Update(context.Background(), "a1", tc.patch)
			verrs, ok := utils.AsValidationErrors(err)
			if !ok {
				t.Fatalf("expected validation errors, got %v", err)
			}
			if _, ok := verrs[tc.field]; !ok {
				t.Fatalf("expected error on %s, got %v", tc.field, verrs)
			}
			if len(src.updates) != 0 {
				t.Fatalf("expected no remote update")
			}
		})
	}

	t.Run("missing row", func(t *testing.T) {
		store := loadedStore(t, newFakeSource())
		if err := store.Update(context.Background(), "missing", AbsencePatch{}); !errors.Is(err, ErrAbsenceNotFound) {
			t.Fatalf("expected ErrAbsenceNotFound, got %v", err)
		}
	})
}

func TestUpdateAcceptsValidSubstitution(t *testing.T) {
	src := newFakeSource()
	src.seed(seeded("a1", "2024-03-01", "t1"))
	store := loadedStore(t, src)
	yes := true
	tutor := models.SubstituteTutor
	partial := models.DurationPartialDay

	err := store.Update(context.Background(), "a1", AbsencePatch{
		HasSubstitute:          &yes,
		SubstituteType:         &tutor,
		SubstituteTeacherID:    strPtr("s1"),
		SubstituteTotalClasses: floatPtr(2),
		Duration:               &partial,
		StartTime:              strPtr(" "),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	fields := src.updates[len(src.updates)-1]
	if fields["substitute_teacher_id"] != "s1" || fields["start_time"] != nil {
		t.Fatalf("unexpected columns %v", fields)
	}
}

func TestUpdateRowWithoutUnitUsesTeacherUnit(t *testing.T) {
	src := newFakeSource()
	legacy := seeded("a1", "2024-03-01", "t1")
	legacy.Unit = ""
	src.seed(legacy)
	store := loadedStore(t, src)
	yes := true
	tutor := models.SubstituteTutor

	err := store.Update(context.Background(), "a1", AbsencePatch{
		HasSubstitute: &yes, SubstituteType: &tutor, SubstituteTeacherID: strPtr("s2"),
	})
	verrs, ok := utils.AsValidationErrors(err)
	if !ok || verrs["substitute_teacher_id"] == "" {
		t.Fatalf("expected tutor of another unit to be rejected, got %v", err)
	}
}

func TestUpdateTeacherChangeRefreshesSnapshot(t *testing.T) {
	src := newFakeSource()
	src.seed(seeded("a1", "2024-03-01", "t1"))
	store := loadedStore(t, src)

	if err := store.Update(context.Background(), "a1", AbsencePatch{TeacherID: strPtr("t2")}); err != nil {
		t.Fatalf("update: %v", err)
	}
	fields := src.updates[len(src.updates)-1]
	if fields["teacher_id"] != "t2" || fields["department_id"] != "d2" || fields["name"] != "Português" || fields["disciplina_id"] != "POR" {
		t.Fatalf("expected snapshot of the new teacher, got %v", fields)
	}
}

func TestCreateCopiesTeacherSnapshot(t *testing.T) {
	src := newFakeSource()
	store := loadedStore(t, src)

	a := seeded("", "2024-03-01", "t1")
	a.Unit = "Norte"
	if err := store.Create(context.Background(), testIdentity(), &a); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, ok := store.Get(a.ID)
	if !ok {
		t.Fatalf("expected %q visible after create", a.ID)
	}
	if got.Unit != "Centro" || got.ContractType != "CLT" || got.DepartmentID != "d1" ||
		got.DepartmentName != "Matemática" || got.DisciplinaID != "MAT" {
		t.Fatalf("expected teacher snapshot, got %+v", got)
	}
}

func TestCreateTeacherChecks(t *testing.T) {
	tests := []struct {
		name    string
		teacher string
		unit    string
	}{
		{name: "unknown teacher", teacher: "t9"},
		{name: "omitted unit still checks the tutor unit", teacher: "t1", unit: ""},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			src := newFakeSource()
			store := loadedStore(t, src)
			a := seeded("", "2024-03-01", tc.teacher)
			a.Unit = tc.unit
			a.HasSubstitute = true
			a.SubstituteType = models.SubstituteTutor
			a.SubstituteTeacherID = strPtr("s2")

			err := store.Create(context.Background(), testIdentity(), &a)
			verrs, ok := utils.AsValidationErrors(err)
			if !ok {
				t.Fatalf("expected validation errors, got %v", err)
			}
			field := "substitute_teacher_id"
			if tc.teacher == "t9" {
				field = "teacher_id"
			}
			if _, ok := verrs[field]; !ok {
				t.Fatalf("expected error on %s, got %v", field, verrs)
			}
			if len(src.absences) != 0 {
				t.Fatalf("expected no remote insert")
			}
		})
	}
}

func newTutorAbsence(substituteID string) models.Absence {
	a := seeded("", "2024-03-01", "t1")
	a.HasSubstitute = true
	a.SubstituteType = models.SubstituteTutor
	a.SubstituteTeacherID = strPtr(substituteID)
	return a
}

func TestCreateSeesNewlyRegisteredTutor(t *testing.T) {
	s3 := models.Substitute{BaseModel: models.BaseModel{ID: "s3"}, Name: "Joana", Unit: "Centro", Active: true}

	t.Run("through the roster repository", func(t *testing.T) {
		src := newFakeSource()
		store := loadedStore(t, src)
		roster := testRoster()
		roster["s3"] = s3
		store.SetRoster(roster)

		a := newTutorAbsence("s3")
		if err := store.Create(context.Background(), testIdentity(), &a); err != nil {
			t.Fatalf("create: %v", err)
		}
	})

	t.Run("through a roster change event", func(t *testing.T) {
		src := newFakeSource()
		store := loadedStore(t, src)
		src.mu.Lock()
		src.substitutes = append(src.substitutes, s3)
		src.mu.Unlock()

		store.HandleChange(context.Background(), gateway.Change{Table: gateway.TableSubstitutes, Op: gateway.OpInsert, ID: "s3"})
		a := newTutorAbsence("s3")
		if err := store.Create(context.Background(), testIdentity(), &a); err != nil {
			t.Fatalf("create: %v", err)
		}
	})
}

func TestHandleChange(t *testing.T) {
	src := newFakeSource()
	src.seed(seeded("a1", "2024-03-01", "t1"))
	store := loadedStore(t, src)
	ctx := context.Background()

	src.seed(seeded("a2", "2024-03-09", "t2"))
	store.HandleChange(ctx, gateway.Change{Table: gateway.TableAbsences, Op: gateway.OpInsert, ID: "a2"})
	if abs := store.Absences(); len(abs) != 2 || abs[0].ID != "a2" {
		t.Fatalf("expected a2 upserted first, got %+v", abs)
	}

	store.HandleChange(ctx, gateway.Change{Table: gateway.TableLeaves, Op: gateway.OpDelete, ID: "a2"})
	if _, ok := store.Get("a2"); !ok {
		t.Fatalf("expected leave changes to be ignored")
	}

	store.HandleChange(ctx, gateway.Change{Table: gateway.TableAbsences, Op: gateway.OpDelete, ID: "a2"})
	if _, ok := store.Get("a2"); ok {
		t.Fatalf("expected a2 removed")
	}

	// An update for a row that is gone remotely removes it locally.
	if err := src.DeleteAbsence(ctx, "a1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	store.HandleChange(ctx, gateway.Change{Table: gateway.TableAbsences, Op: gateway.OpUpdate, ID: "a1"})
	if _, ok := store.Get("a1"); ok {
		t.Fatalf("expected a1 removed after missing fetch")
	}
}

func TestRunAppliesFeed(t *testing.T) {
	src := newFakeSource()
	feed := gateway.NewLocalFeed()
	store := NewAbsenceStore(src, feed, 10)
	if err := store.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go store.Run(ctx)

	src.seed(seeded("a9", "2024-04-01", "t1"))
	deadline := time.Now().Add(2 * time.Second)
	for {
		_ = feed.Publish(ctx, gateway.Change{Table: gateway.TableAbsences, Op: gateway.OpInsert, ID: "a9"})
		if _, ok := store.Get("a9"); ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected a9 applied from the feed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
