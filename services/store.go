package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"faltas_go/gateway"
	"faltas_go/models"
	"faltas_go/repository"
	"faltas_go/utils"

	"github.com/sirupsen/logrus"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrAbsenceNotFound = errors.New("absence not found")
)

// StoreSource is the part of the remote gateway the store reads and writes through.
type StoreSource interface {
	ListDepartments(ctx context.Context) ([]models.Department, error)
	ListSubstitutes(ctx context.Context, filter gateway.SubstituteFilter) ([]models.Substitute, error)
	RangeTeachers(ctx context.Context, start, end int) ([]models.Teacher, error)
	RangeAbsences(ctx context.Context, start, end int) ([]models.Absence, error)
	GetAbsence(ctx context.Context, id string) (*models.Absence, error)
	InsertAbsence(ctx context.Context, absence *models.Absence) error
	UpdateAbsence(ctx context.Context, id string, fields map[string]interface{}) error
	DeleteAbsence(ctx context.Context, id string) error
}

// AbsenceStore is the process-wide copy of teachers, departments, substitutes
// and absences. Every applied state carries a sequence number; results of a
// load older than the newest applied state are discarded.
type AbsenceStore struct {
	source   StoreSource
	feed     gateway.Feed
	pageSize int
	roster   RosterReader

	issued uint64

	mu          sync.RWMutex
	applied     uint64
	departments []models.Department
	substitutes []models.Substitute
	teachers    []models.Teacher
	absences    []models.Absence
	loadErr     error
	lastLoad    time.Time
	loading     int
}

func NewAbsenceStore(source StoreSource, feed gateway.Feed, pageSize int) *AbsenceStore {
	if pageSize <= 0 {
		pageSize = gateway.DefaultPageSize
	}
	return &AbsenceStore{source: source, feed: feed, pageSize: pageSize}
}

// SetRoster makes tutor checks read the substitute repository instead of the
// roster copy taken at the last load.
func (s *AbsenceStore) SetRoster(roster RosterReader) {
	s.roster = roster
}

func (s *AbsenceStore) nextSeq() uint64 {
	return atomic.AddUint64(&s.issued, 1)
}

type snapshot struct {
	departments []models.Department
	substitutes []models.Substitute
	teachers    []models.Teacher
	absences    []models.Absence
}

// Load refetches every collection sequentially. On failure the previous
// collections are kept and the error flag is set.
func (s *AbsenceStore) Load(ctx context.Context) error {
	seq := s.nextSeq()
	s.mu.Lock()
	s.loading++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.loading--
		s.mu.Unlock()
	}()

	snap, err := s.fetch(ctx)
	if err != nil {
		logrus.WithError(err).WithField("seq", seq).Error("store load failed")
		s.mu.Lock()
		if seq > s.applied {
			s.loadErr = err
		}
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.applied {
		logrus.WithFields(logrus.Fields{"seq": seq, "applied": s.applied}).Debug("discarding stale store load")
		return nil
	}
	s.applied = seq
	s.departments = snap.departments
	s.substitutes = snap.substitutes
	s.teachers = snap.teachers
	s.absences = snap.absences
	s.loadErr = nil
	s.lastLoad = time.Now()
	return nil
}

func (s *AbsenceStore) fetch(ctx context.Context) (snapshot, error) {
	var snap snapshot
	var err error

	if snap.departments, err = s.source.ListDepartments(ctx); err != nil {
		return snap, fmt.Errorf("load departments: %w", err)
	}
	if snap.substitutes, err = s.source.ListSubstitutes(ctx, gateway.SubstituteFilter{}); err != nil {
		return snap, fmt.Errorf("load substitutes: %w", err)
	}
	if snap.teachers, err = gateway.FetchAll(ctx, s.pageSize, s.source.RangeTeachers); err != nil {
		return snap, fmt.Errorf("load teachers: %w", err)
	}
	if snap.absences, err = gateway.FetchAll(ctx, s.pageSize, s.source.RangeAbsences); err != nil {
		return snap, fmt.Errorf("load absences: %w", err)
	}

	sort.SliceStable(snap.departments, func(i, j int) bool {
		return snap.departments[i].Name < snap.departments[j].Name
	})
	sort.SliceStable(snap.teachers, func(i, j int) bool {
		return snap.teachers[i].Name < snap.teachers[j].Name
	})
	sortAbsences(snap.absences)
	return snap, nil
}

// sortAbsences orders newest date first, then newest creation first.
func sortAbsences(absences []models.Absence) {
	sort.SliceStable(absences, func(i, j int) bool {
		if !absences[i].Date.Equal(absences[j].Date.Time) {
			return absences[i].Date.After(absences[j].Date.Time)
		}
		return absences[i].CreatedAt.After(absences[j].CreatedAt)
	})
}

// prepare normalizes duration, drops vestigial time fields for full days
// and stamps the author.
func prepare(identity *models.Identity, absence *models.Absence) error {
	if identity == nil || strings.TrimSpace(identity.ID) == "" {
		return ErrUnauthenticated
	}
	absence.Duration = models.NormalizeDuration(absence.Duration)
	if absence.Duration == models.DurationFullDay {
		absence.StartTime = nil
		absence.EndTime = nil
	}
	if !absence.HasSubstitute {
		absence.SubstituteType = models.SubstituteNone
		absence.SubstituteTeacherID = nil
		absence.SubstituteTeacherName2 = ""
		absence.SubstituteTeacherName3 = ""
		absence.SubstituteTotalClasses = nil
	}
	absence.CreatedBy = identity.ID
	return nil
}

// Insert sends one absence to the gateway without refreshing the store.
func (s *AbsenceStore) Insert(ctx context.Context, identity *models.Identity, absence *models.Absence) error {
	if err := prepare(identity, absence); err != nil {
		return err
	}
	if err := s.source.InsertAbsence(ctx, absence); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"teacher_id": absence.TeacherID,
			"date":       absence.Date.String(),
		}).Error("failed to insert absence")
		return err
	}
	return nil
}

// applySnapshot copies the teacher's unit, contract and department onto the absence.
func (s *AbsenceStore) applySnapshot(absence *models.Absence, teacher models.Teacher) {
	absence.Unit = teacher.Unit
	absence.ContractType = teacher.ContractType
	absence.Course = teacher.Course
	absence.TeachingPeriod = teacher.TeachingPeriod
	absence.DepartmentID = teacher.DepartmentID
	absence.DepartmentName = ""
	absence.DisciplinaID = ""

	dept := teacher.Department
	if dept == nil {
		if d, ok := s.Department(teacher.DepartmentID); ok {
			dept = &d
		}
	}
	if dept != nil {
		absence.DepartmentName = dept.Name
		absence.DisciplinaID = dept.DisciplinaID
	}
}

func snapshotColumns(a models.Absence) map[string]interface{} {
	return map[string]interface{}{
		"unit":            a.Unit,
		"contract_type":   a.ContractType,
		"course":          a.Course,
		"teaching_period": a.TeachingPeriod,
		"department_id":   a.DepartmentID,
		"name":            a.DepartmentName,
		"disciplina_id":   a.DisciplinaID,
	}
}

// validate runs the form rules after errs collected by the caller.
func (s *AbsenceStore) validate(ctx context.Context, errs utils.ValidationErrors, absence *models.Absence) error {
	if err := ValidateAbsence(absence, s.rosterLookup(ctx)); err != nil {
		verrs, ok := utils.AsValidationErrors(err)
		if !ok {
			return err
		}
		for field, msg := range verrs {
			errs.Add(field, msg)
		}
	}
	return errs.OrNil()
}

// Create validates and inserts an absence, then reloads the whole store so the
// new row is visible with its joined names. The unit and department snapshot
// always comes from the referenced teacher.
func (s *AbsenceStore) Create(ctx context.Context, identity *models.Identity, absence *models.Absence) error {
	if identity == nil || strings.TrimSpace(identity.ID) == "" {
		return ErrUnauthenticated
	}
	errs := utils.ValidationErrors{}
	if id := strings.TrimSpace(absence.TeacherID); id != "" {
		teacher, ok := s.Teacher(id)
		if !ok {
			errs.Add("teacher_id", "is not a known teacher")
		} else {
			s.applySnapshot(absence, teacher)
		}
	}
	if err := s.validate(ctx, errs, absence); err != nil {
		return err
	}
	if err := s.Insert(ctx, identity, absence); err != nil {
		return err
	}
	if err := s.Load(ctx); err != nil {
		logrus.WithError(err).WithField("id", absence.ID).Warn("reload after create failed")
	}
	return nil
}

// AbsencePatch carries the fields of an update; nil means unchanged.
type AbsencePatch struct {
	TeacherID              *string                 `json:"teacher_id"`
	DepartmentID           *string                 `json:"department_id"`
	DepartmentName         *string                 `json:"department_name"`
	DisciplinaID           *string                 `json:"disciplina_id"`
	Unit                   *string                 `json:"unit"`
	ContractType           *string                 `json:"contract_type"`
	Course                 *string                 `json:"course"`
	TeachingPeriod         *string                 `json:"teaching_period"`
	Date                   *models.Date            `json:"date"`
	Reason                 *models.AbsenceReason   `json:"reason"`
	Notes                  *string                 `json:"notes"`
	Duration               *models.AbsenceDuration `json:"duration"`
	StartTime              *string                 `json:"start_time"`
	EndTime                *string                 `json:"end_time"`
	Classes                *float64                `json:"classes"`
	HasSubstitute          *bool                   `json:"has_substitute"`
	SubstituteType         *models.SubstituteType  `json:"substitute_type"`
	SubstituteTeacherID    *string                 `json:"substitute_teacher_id"`
	SubstituteTeacherName2 *string                 `json:"substitute_teacher_name2"`
	SubstituteTeacherName3 *string                 `json:"substitute_teacher_name3"`
	SubstituteTotalClasses *float64                `json:"substitute_total_classes"`
	SubstituteContent      *string                 `json:"substitute_content"`
}

func nullableString(s string) interface{} {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

// Columns maps the present fields to column values. The time fields are
// vestigial and always stored as null.
func (p AbsencePatch) Columns() map[string]interface{} {
	fields := map[string]interface{}{}
	setString := func(column string, v *string) {
		if v != nil {
			fields[column] = *v
		}
	}
	setString("teacher_id", p.TeacherID)
	setString("department_id", p.DepartmentID)
	setString("name", p.DepartmentName)
	setString("disciplina_id", p.DisciplinaID)
	setString("unit", p.Unit)
	setString("contract_type", p.ContractType)
	setString("course", p.Course)
	setString("teaching_period", p.TeachingPeriod)
	setString("notes", p.Notes)
	setString("substitute_teacher_name2", p.SubstituteTeacherName2)
	setString("substitute_teacher_name3", p.SubstituteTeacherName3)
	setString("substitute_content", p.SubstituteContent)

	if p.Date != nil {
		fields["date"] = *p.Date
	}
	if p.Reason != nil {
		fields["reason"] = *p.Reason
	}
	if p.Classes != nil {
		fields["classes"] = *p.Classes
	}
	if p.Duration != nil {
		fields["duration"] = models.NormalizeDuration(*p.Duration)
	}
	if p.SubstituteType != nil {
		fields["substitute_type"] = *p.SubstituteType
	}
	if p.SubstituteTeacherID != nil {
		fields["substitute_teacher_id"] = nullableString(*p.SubstituteTeacherID)
	}
	if p.SubstituteTotalClasses != nil {
		fields["substitute_total_classes"] = *p.SubstituteTotalClasses
	}
	if p.HasSubstitute != nil {
		fields["has_substitute"] = *p.HasSubstitute
		if !*p.HasSubstitute {
			fields["substitute_type"] = models.SubstituteNone
			fields["substitute_teacher_id"] = nil
			fields["substitute_teacher_name2"] = ""
			fields["substitute_teacher_name3"] = ""
			fields["substitute_total_classes"] = nil
		}
	}
	fields["start_time"] = nil
	fields["end_time"] = nil
	return fields
}

// Apply returns existing with the present fields of the patch. Time fields
// come only from the patch since stored ones are cleared on every update.
func (p AbsencePatch) Apply(existing models.Absence) models.Absence {
	merged := existing
	setString := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	setString(&merged.TeacherID, p.TeacherID)
	setString(&merged.DepartmentID, p.DepartmentID)
	setString(&merged.DepartmentName, p.DepartmentName)
	setString(&merged.DisciplinaID, p.DisciplinaID)
	setString(&merged.Unit, p.Unit)
	setString(&merged.ContractType, p.ContractType)
	setString(&merged.Course, p.Course)
	setString(&merged.TeachingPeriod, p.TeachingPeriod)
	setString(&merged.Notes, p.Notes)
	setString(&merged.SubstituteTeacherName2, p.SubstituteTeacherName2)
	setString(&merged.SubstituteTeacherName3, p.SubstituteTeacherName3)
	setString(&merged.SubstituteContent, p.SubstituteContent)

	if p.Date != nil {
		merged.Date = *p.Date
	}
	if p.Reason != nil {
		merged.Reason = *p.Reason
	}
	if p.Classes != nil {
		merged.Classes = *p.Classes
	}
	if p.Duration != nil {
		merged.Duration = models.NormalizeDuration(*p.Duration)
	}
	if p.HasSubstitute != nil {
		merged.HasSubstitute = *p.HasSubstitute
	}
	if p.SubstituteType != nil {
		merged.SubstituteType = *p.SubstituteType
	}
	if p.SubstituteTeacherID != nil {
		id := *p.SubstituteTeacherID
		merged.SubstituteTeacherID = &id
	}
	if p.SubstituteTotalClasses != nil {
		merged.SubstituteTotalClasses = p.SubstituteTotalClasses
	}
	merged.StartTime = p.StartTime
	merged.EndTime = p.EndTime
	return merged
}

func (s *AbsenceStore) current(ctx context.Context, id string) (models.Absence, error) {
	if absence, ok := s.Get(id); ok {
		return absence, nil
	}
	absence, err := s.source.GetAbsence(ctx, id)
	if errors.Is(err, gateway.ErrNotFound) {
		return models.Absence{}, ErrAbsenceNotFound
	}
	if err != nil {
		return models.Absence{}, err
	}
	return *absence, nil
}

// Update applies a partial edit, then reloads the store. The edited record
// must pass the same rules as a new one.
func (s *AbsenceStore) Update(ctx context.Context, id string, patch AbsencePatch) error {
	existing, err := s.current(ctx, id)
	if err != nil {
		return err
	}

	merged := patch.Apply(existing)
	errs := utils.ValidationErrors{}
	teacher, known := s.Teacher(merged.TeacherID)
	teacherChanged := patch.TeacherID != nil && *patch.TeacherID != existing.TeacherID
	switch {
	case teacherChanged && !known:
		errs.Add("teacher_id", "is not a known teacher")
	case teacherChanged:
		s.applySnapshot(&merged, teacher)
	case known && strings.TrimSpace(merged.Unit) == "":
		merged.Unit = teacher.Unit
	}
	if err := s.validate(ctx, errs, &merged); err != nil {
		return err
	}

	fields := patch.Columns()
	if teacherChanged {
		for column, v := range snapshotColumns(merged) {
			fields[column] = v
		}
	}
	if err := s.source.UpdateAbsence(ctx, id, fields); err != nil {
		logrus.WithError(err).WithField("id", id).Error("failed to update absence")
		return err
	}
	if err := s.Load(ctx); err != nil {
		logrus.WithError(err).WithField("id", id).Warn("reload after update failed")
	}
	return nil
}

// Delete removes the row remotely and drops it from the local collection
// without a refetch. The sequence advances so an earlier load cannot bring it back.
func (s *AbsenceStore) Delete(ctx context.Context, id string) error {
	if err := s.source.DeleteAbsence(ctx, id); err != nil {
		logrus.WithError(err).WithField("id", id).Error("failed to delete absence")
		return err
	}
	s.remove(id)
	return nil
}

func (s *AbsenceStore) remove(id string) {
	seq := s.nextSeq()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = seq
	kept := s.absences[:0]
	for _, a := range s.absences {
		if a.ID != id {
			kept = append(kept, a)
		}
	}
	// Clear the tail so removed rows are not retained by the backing array.
	for i := len(kept); i < len(s.absences); i++ {
		s.absences[i] = models.Absence{}
	}
	s.absences = kept
}

func (s *AbsenceStore) upsert(absence models.Absence) {
	seq := s.nextSeq()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = seq

	replaced := false
	next := make([]models.Absence, len(s.absences), len(s.absences)+1)
	copy(next, s.absences)
	for i := range next {
		if next[i].ID == absence.ID {
			next[i] = absence
			replaced = true
			break
		}
	}
	if !replaced {
		next = append(next, absence)
	}
	sortAbsences(next)
	s.absences = next
}

// HandleChange applies one absence change event as a patch, falling back to a
// full load when the row cannot be fetched. Teacher, department and roster
// changes reload the store.
func (s *AbsenceStore) HandleChange(ctx context.Context, change gateway.Change) {
	switch change.Table {
	case gateway.TableAbsences:
	case gateway.TableTeachers, gateway.TableDepartments, gateway.TableSubstitutes:
		_ = s.Load(ctx)
		return
	default:
		return
	}
	if change.ID == "" || change.Op == gateway.OpReload {
		_ = s.Load(ctx)
		return
	}

	switch change.Op {
	case gateway.OpDelete:
		s.remove(change.ID)
	case gateway.OpInsert, gateway.OpUpdate:
		absence, err := s.source.GetAbsence(ctx, change.ID)
		if errors.Is(err, gateway.ErrNotFound) {
			s.remove(change.ID)
			return
		}
		if err != nil {
			logrus.WithError(err).WithField("id", change.ID).Warn("patch fetch failed, reloading store")
			_ = s.Load(ctx)
			return
		}
		s.upsert(*absence)
	default:
		_ = s.Load(ctx)
	}
}

var storeTables = []string{
	gateway.TableAbsences,
	gateway.TableTeachers,
	gateway.TableDepartments,
	gateway.TableSubstitutes,
}

// Run applies change events until ctx is done.
func (s *AbsenceStore) Run(ctx context.Context) error {
	if s.feed == nil {
		<-ctx.Done()
		return nil
	}
	var wg sync.WaitGroup
	for _, table := range storeTables {
		changes, err := s.feed.Subscribe(ctx, table)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", table, err)
		}
		wg.Add(1)
		go func(changes <-chan gateway.Change) {
			defer wg.Done()
			for change := range changes {
				s.HandleChange(ctx, change)
			}
		}(changes)
	}
	wg.Wait()
	return nil
}

// ── Reads ──

func (s *AbsenceStore) Departments() []models.Department {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Department(nil), s.departments...)
}

func (s *AbsenceStore) Substitutes() []models.Substitute {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Substitute(nil), s.substitutes...)
}

func (s *AbsenceStore) Teachers() []models.Teacher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Teacher(nil), s.teachers...)
}

func (s *AbsenceStore) Absences() []models.Absence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Absence(nil), s.absences...)
}

func (s *AbsenceStore) Get(id string) (models.Absence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.absences {
		if a.ID == id {
			return a, true
		}
	}
	return models.Absence{}, false
}

func (s *AbsenceStore) Teacher(id string) (models.Teacher, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.teachers {
		if t.ID == id {
			return t, true
		}
	}
	return models.Teacher{}, false
}

func (s *AbsenceStore) Department(id string) (models.Department, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.departments {
		if d.ID == id {
			return d, true
		}
	}
	return models.Department{}, false
}

func (s *AbsenceStore) rosterLookup(ctx context.Context) RosterLookup {
	if s.roster != nil {
		return func(id string) (models.Substitute, bool) {
			entry, err := s.roster.Get(ctx, id)
			if err != nil || entry == nil {
				if err != nil && !errors.Is(err, repository.ErrSubstituteNotFound) {
					logrus.WithError(err).WithField("substitute_id", id).Warn("roster lookup failed")
				}
				return models.Substitute{}, false
			}
			return *entry, true
		}
	}
	roster := s.Substitutes()
	return func(id string) (models.Substitute, bool) {
		for _, entry := range roster {
			if entry.ID == id {
				return entry, true
			}
		}
		return models.Substitute{}, false
	}
}

// StoreStatus summarizes the store for health reporting.
type StoreStatus struct {
	LastLoad    time.Time `json:"last_load"`
	Error       string    `json:"error,omitempty"`
	Loading     bool      `json:"loading"`
	Sequence    uint64    `json:"sequence"`
	Departments int       `json:"departments"`
	Substitutes int       `json:"substitutes"`
	Teachers    int       `json:"teachers"`
	Absences    int       `json:"absences"`
}

func (s *AbsenceStore) Status() StoreStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status := StoreStatus{
		LastLoad:    s.lastLoad,
		Loading:     s.loading > 0,
		Sequence:    s.applied,
		Departments: len(s.departments),
		Substitutes: len(s.substitutes),
		Teachers:    len(s.teachers),
		Absences:    len(s.absences),
	}
	if s.loadErr != nil {
		status.Error = s.loadErr.Error()
	}
	return status
}

// Err returns the error of the most recent failed load, or nil.
func (s *AbsenceStore) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadErr
}
