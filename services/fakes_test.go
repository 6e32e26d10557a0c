package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"faltas_go/gateway"
	"faltas_go/models"
)

var errRemote = errors.New("remote unavailable")

// fakeSource is an in-memory database behind the store.
type fakeSource struct {
	mu          sync.Mutex
	departments []models.Department
	substitutes []models.Substitute
	teachers    []models.Teacher
	absences    []models.Absence

	nextID       int
	rangeCalls   int
	updates      []map[string]interface{}
	failRange    error
	failInsertOn func(a *models.Absence) error
	failDelete   error

	// When set, the first RangeAbsences call signals entered and waits on release.
	entered chan struct{}
	release chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		departments: []models.Department{
			{BaseModel: models.BaseModel{ID: "d2"}, Name: "Português", DisciplinaID: "POR"},
			{BaseModel: models.BaseModel{ID: "d1"}, Name: "Matemática", DisciplinaID: "MAT"},
		},
		substitutes: []models.Substitute{
			{BaseModel: models.BaseModel{ID: "s1"}, Name: "Beatriz", Unit: "Centro", Active: true},
			{BaseModel: models.BaseModel{ID: "s2"}, Name: "Rafael", Unit: "Norte", Active: true},
		},
		teachers: []models.Teacher{
			{BaseModel: models.BaseModel{ID: "t2"}, Name: "Maria", DepartmentID: "d2", Unit: "Centro"},
			{BaseModel: models.BaseModel{ID: "t1"}, Name: "Carlos", DepartmentID: "d1", Unit: "Centro", ContractType: "CLT"},
		},
	}
}

func (f *fakeSource) ListDepartments(context.Context) ([]models.Department, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Department(nil), f.departments...), nil
}

func (f *fakeSource) ListSubstitutes(context.Context, gateway.SubstituteFilter) ([]models.Substitute, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Substitute(nil), f.substitutes...), nil
}

func rangePage[T any](rows []T, start, end int) []T {
	if start >= len(rows) {
		return nil
	}
	if end+1 < len(rows) {
		return append([]T(nil), rows[start:end+1]...)
	}
	return append([]T(nil), rows[start:]...)
}

func (f *fakeSource) RangeTeachers(_ context.Context, start, end int) ([]models.Teacher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return rangePage(f.teachers, start, end), nil
}

func (f *fakeSource) RangeAbsences(_ context.Context, start, end int) ([]models.Absence, error) {
	f.mu.Lock()
	f.rangeCalls++
	entered, release := f.entered, f.release
	f.entered, f.release = nil, nil
	rows := rangePage(f.absences, start, end)
	failure := f.failRange
	f.mu.Unlock()

	if entered != nil {
		close(entered)
		<-release
	}
	if failure != nil {
		return nil, failure
	}
	return rows, nil
}

func (f *fakeSource) GetAbsence(_ context.Context, id string) (*models.Absence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.absences {
		if f.absences[i].ID == id {
			a := f.absences[i]
			return &a, nil
		}
	}
	return nil, gateway.ErrNotFound
}

func (f *fakeSource) InsertAbsence(_ context.Context, a *models.Absence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInsertOn != nil {
		if err := f.failInsertOn(a); err != nil {
			return err
		}
	}
	f.nextID++
	a.ID = fmt.Sprintf("a%d", f.nextID)
	a.CreatedAt = time.Date(2024, 1, 1, 0, 0, f.nextID, 0, time.UTC)
	for _, t := range f.teachers {
		if t.ID == a.TeacherID {
			teacher := t
			a.Teacher = &teacher
		}
	}
	f.absences = append(f.absences, *a)
	return nil
}

func (f *fakeSource) UpdateAbsence(_ context.Context, id string, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, fields)
	for i := range f.absences {
		if f.absences[i].ID != id {
			continue
		}
		if v, ok := fields["notes"].(string); ok {
			f.absences[i].Notes = v
		}
		if v, ok := fields["classes"].(float64); ok {
			f.absences[i].Classes = v
		}
		return nil
	}
	return gateway.ErrNotFound
}

func (f *fakeSource) DeleteAbsence(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete != nil {
		return f.failDelete
	}
	kept := f.absences[:0]
	for _, a := range f.absences {
		if a.ID != id {
			kept = append(kept, a)
		}
	}
	f.absences = kept
	return nil
}

func (f *fakeSource) seed(absences ...models.Absence) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.absences = append(f.absences, absences...)
}

func testIdentity() *models.Identity {
	return &models.Identity{ID: "user-1", Email: "secretaria@escola.org", DisplayName: "Secretaria"}
}

func floatPtr(v float64) *float64 { return &v }
func strPtr(s string) *string     { return &s }
